package transaction

import (
	"fmt"

	"github.com/Connor1996/badger"
	"github.com/pingcap/errors"
)

// Status is the outcome of one engine operation.
type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not found"
	default:
		return "failure"
	}
}

func statusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Cause(err) == badger.ErrKeyNotFound:
		return StatusNotFound
	default:
		return StatusFailure
	}
}

// intoResult converts an engine outcome into the error returned to the caller. NotFound is a failure here; point
// lookups check for it before calling intoResult.
func intoResult(op string, err error) error {
	if statusOf(err) == StatusOK {
		return nil
	}
	if errors.Cause(err) == badger.ErrConflict {
		return errors.WithStack(ErrConflict)
	}
	return errors.Annotatef(err, "%s failed", op)
}

// ErrRetryable suggests that client may restart the txn. e.g. write conflict.
type ErrRetryable string

func (e ErrRetryable) Error() string {
	return fmt.Sprintf("retryable: %s", string(e))
}

var (
	// ErrConflict is returned by Commit when another transaction committed a write to a key this transaction read
	// or wrote after this transaction began.
	ErrConflict = ErrRetryable("write conflict")
	// ErrLockTimeout is returned by writes of a pessimistic transaction which waited too long for another
	// transaction's latch on the key.
	ErrLockTimeout = ErrRetryable("lock wait timeout")
)

// ErrTxnFinished is returned by operations issued after Commit or Rollback.
var ErrTxnFinished = errors.New("transaction already committed or rolled back")

// IsRetryable reports whether err is a conflict-class failure after which the whole transaction may be retried.
func IsRetryable(err error) bool {
	_, ok := errors.Cause(err).(ErrRetryable)
	return ok
}

// PreconditionError is the panic value for programmer errors: an unknown column family index, a snapshot request on a
// transaction begun without one, a nil engine handle, or a borrowed handle used after its parent finished. These are
// never returned as errors.
type PreconditionError struct {
	msg string
}

func (e *PreconditionError) Error() string {
	return "precondition violated: " + e.msg
}

func preconditionf(format string, args ...interface{}) *PreconditionError {
	return &PreconditionError{msg: fmt.Sprintf(format, args...)}
}
