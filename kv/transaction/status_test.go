package transaction

import (
	"testing"

	"github.com/Connor1996/badger"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
)

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusOK, statusOf(nil))
	assert.Equal(t, StatusNotFound, statusOf(badger.ErrKeyNotFound))
	assert.Equal(t, StatusNotFound, statusOf(errors.WithStack(badger.ErrKeyNotFound)))
	assert.Equal(t, StatusFailure, statusOf(errors.New("disk on fire")))
	assert.Equal(t, StatusFailure, statusOf(badger.ErrConflict))

	assert.Equal(t, "ok", StatusOK.String())
	assert.Equal(t, "not found", StatusNotFound.String())
	assert.Equal(t, "failure", StatusFailure.String())
}

func TestIntoResult(t *testing.T) {
	assert.Nil(t, intoResult("put", nil))

	err := intoResult("commit", badger.ErrConflict)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, ErrConflict, errors.Cause(err))

	cause := errors.New("disk on fire")
	err = intoResult("put", cause)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, cause, errors.Cause(err))
	assert.Contains(t, err.Error(), "put failed")

	assert.True(t, IsRetryable(errors.WithStack(ErrLockTimeout)))
	assert.False(t, IsRetryable(ErrTxnFinished))
	assert.False(t, IsRetryable(nil))
}

func TestPreconditionError(t *testing.T) {
	err := preconditionf("unknown column family %d", 7)
	assert.Equal(t, "precondition violated: unknown column family 7", err.Error())
}
