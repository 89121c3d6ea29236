package main

import (
	"fmt"
	"io"

	"github.com/pingcap-incubator/txnkv/kv/transaction"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// reader is what get and scan need. Transactions, shared snapshots and the database itself all satisfy it.
type reader interface {
	Get(col int, key []byte, slot *transaction.PinnedSlice) (*transaction.PinnedSlice, error)
	IterWithOptions(opts transaction.ReadOptions, col int, dir transaction.Direction) *transaction.DBIterator
}

type scanOptions struct {
	lower   string
	upper   string
	reverse bool
	limit   int
}

func (o *scanOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.lower, "lower", "", "first key to scan (inclusive)")
	fs.StringVar(&o.upper, "upper", "", "last key to scan (exclusive)")
	fs.BoolVarP(&o.reverse, "reverse", "r", false, "scan in descending key order")
	fs.IntVarP(&o.limit, "limit", "n", 0, "stop after this many keys, 0 for no limit")
}

func (o *scanOptions) readOptions() (transaction.ReadOptions, transaction.Direction) {
	opts := transaction.ReadOptions{}
	if o.lower != "" {
		opts.LowerBound = []byte(o.lower)
	}
	if o.upper != "" {
		opts.UpperBound = []byte(o.upper)
	}
	dir := transaction.Forward
	if o.reverse {
		dir = transaction.Reverse
	}
	return opts, dir
}

func printGet(w io.Writer, r reader, col int, key string) error {
	val, err := r.Get(col, []byte(key), nil)
	if err != nil {
		return err
	}
	if val == nil {
		fmt.Fprintf(w, "%s not found\n", key)
		return nil
	}
	fmt.Fprintf(w, "%s=%q\n", key, val.Data())
	return nil
}

func printScan(w io.Writer, r reader, col int, o *scanOptions) error {
	opts, dir := o.readOptions()
	it := r.IterWithOptions(opts, col, dir)
	defer it.Close()
	n := 0
	for ; it.Valid(); it.Next() {
		if o.limit > 0 && n >= o.limit {
			break
		}
		val, err := it.Value()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s=%q\n", it.Key(), val)
		n++
	}
	fmt.Fprintf(w, "%d keys\n", n)
	return nil
}

// update runs fn in a transaction and commits it.
func update(db *transaction.TransactionDB, fn func(tx *transaction.Transaction) error) error {
	tx := db.BeginTransaction(transaction.TransactionOptions{})
	defer tx.Discard()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get key",
		Short: "Read the committed value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printGet(cmd.OutOrStdout(), globalDB, globalCF, args[0])
		},
	}
}

func newPutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "put key value",
		Short: "Write a key in its own transaction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return update(globalDB, func(tx *transaction.Transaction) error {
				return tx.Put(globalCF, []byte(args[0]), []byte(args[1]))
			})
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete key",
		Short: "Delete a key in its own transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return update(globalDB, func(tx *transaction.Transaction) error {
				return tx.Delete(globalCF, []byte(args[0]))
			})
		},
	}
}

func newScanCommand() *cobra.Command {
	o := new(scanOptions)
	m := &cobra.Command{
		Use:   "scan",
		Short: "List committed keys of the column family",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printScan(cmd.OutOrStdout(), globalDB, globalCF, o)
		},
	}
	o.addFlags(m.Flags())
	return m
}
