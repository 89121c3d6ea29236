package engine_util

import (
	"os"

	"github.com/Connor1996/badger"
	"github.com/pingcap/errors"
)

// CreateDB creates the directories named by opts and opens a badger DB on them.
func CreateDB(opts badger.Options) (*badger.DB, error) {
	for _, dir := range []string{opts.Dir, opts.ValueDir} {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Annotatef(err, "open badger at %s", opts.Dir)
	}
	return db, nil
}
