package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/mattn/go-shellwords"
	"github.com/pingcap-incubator/txnkv/kv/transaction"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
)

func newShellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive transaction shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := newSession(globalDB, globalCF, cmd.OutOrStdout())
			defer s.close()
			return shellLoop(s)
		},
	}
}

// session is the state of one shell: the column family in use, the open transaction if any, and the shared
// snapshots taken so far.
type session struct {
	db        *transaction.TransactionDB
	cf        int
	tx        *transaction.Transaction
	snapshots map[int]*transaction.SharedSnapshot
	nextSnap  int
	out       io.Writer
}

func newSession(db *transaction.TransactionDB, cf int, out io.Writer) *session {
	return &session{
		db:        db,
		cf:        cf,
		snapshots: make(map[int]*transaction.SharedSnapshot),
		nextSnap:  1,
		out:       out,
	}
}

func (s *session) close() {
	if s.tx != nil {
		s.tx.Discard()
		s.tx = nil
	}
	for id, snap := range s.snapshots {
		snap.Release()
		delete(s.snapshots, id)
	}
}

// reader returns the transaction when one is open, the database otherwise.
func (s *session) reader() reader {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// write runs fn in the open transaction, or in a transaction of its own which is committed at once.
func (s *session) write(fn func(tx *transaction.Transaction) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	return update(s.db, fn)
}

func (s *session) snapshot(arg string) (*transaction.SharedSnapshot, error) {
	id, err := strconv.Atoi(arg)
	if err != nil {
		return nil, errors.Errorf("invalid snapshot id %q", arg)
	}
	snap, ok := s.snapshots[id]
	if !ok {
		return nil, errors.Errorf("no snapshot %d", id)
	}
	return snap, nil
}

func (s *session) prompt() string {
	cf := s.db.ColumnFamily(s.cf).Name
	if s.tx != nil {
		return fmt.Sprintf("\033[31m%s:txn %d»\033[0m ", cf, s.tx.ID())
	}
	return fmt.Sprintf("\033[31m%s»\033[0m ", cf)
}

func (s *session) execute(args []string) error {
	cmd := &cobra.Command{
		Use:           "shell",
		Short:         "txnkv shell command",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetArgs(args)
	cmd.SetOutput(s.out)

	var (
		pessimistic bool
		lockTimeout time.Duration
		fromSnap    string
		scanOpts    = new(scanOptions)
	)

	begin := &cobra.Command{
		Use:                   "begin [--pessimistic] [--lock-timeout d]",
		Short:                 "Start a transaction",
		Args:                  cobra.NoArgs,
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.tx != nil {
				return errors.Errorf("transaction %d is still open", s.tx.ID())
			}
			s.tx = s.db.BeginTransaction(transaction.TransactionOptions{
				SetSnapshot: true,
				Pessimistic: pessimistic,
				LockTimeout: lockTimeout,
			})
			fmt.Fprintf(s.out, "Begin txn %d\n", s.tx.ID())
			return nil
		},
	}
	begin.Flags().BoolVar(&pessimistic, "pessimistic", false, "latch keys on write")
	begin.Flags().DurationVar(&lockTimeout, "lock-timeout", 0, "how long a write waits for a latch")

	get := &cobra.Command{
		Use:                   "get [--snapshot id] key",
		Short:                 "Read a key",
		Args:                  cobra.ExactArgs(1),
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromSnap != "" {
				snap, err := s.snapshot(fromSnap)
				if err != nil {
					return err
				}
				return printGet(s.out, snap, s.cf, args[0])
			}
			return printGet(s.out, s.reader(), s.cf, args[0])
		},
	}
	get.Flags().StringVar(&fromSnap, "snapshot", "", "read from a snapshot taken earlier")

	scan := &cobra.Command{
		Use:                   "scan [--lower k] [--upper k] [--reverse] [--limit n]",
		Short:                 "List keys",
		Args:                  cobra.NoArgs,
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromSnap != "" {
				snap, err := s.snapshot(fromSnap)
				if err != nil {
					return err
				}
				return printScan(s.out, snap, s.cf, scanOpts)
			}
			return printScan(s.out, s.reader(), s.cf, scanOpts)
		},
	}
	scanOpts.addFlags(scan.Flags())
	scan.Flags().StringVar(&fromSnap, "snapshot", "", "scan a snapshot taken earlier")

	cmd.AddCommand(
		begin,
		get,
		scan,
		&cobra.Command{
			Use:                   "put key value",
			Short:                 "Write a key",
			Args:                  cobra.ExactArgs(2),
			DisableFlagsInUseLine: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return s.write(func(tx *transaction.Transaction) error {
					return tx.Put(s.cf, []byte(args[0]), []byte(args[1]))
				})
			},
		},
		&cobra.Command{
			Use:                   "delete key",
			Short:                 "Delete a key",
			Args:                  cobra.ExactArgs(1),
			DisableFlagsInUseLine: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return s.write(func(tx *transaction.Transaction) error {
					return tx.Delete(s.cf, []byte(args[0]))
				})
			},
		},
		&cobra.Command{
			Use:   "commit",
			Short: "Commit the open transaction",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if s.tx == nil {
					return errors.New("no open transaction")
				}
				tx := s.tx
				s.tx = nil
				if err := tx.Commit(); err != nil {
					if transaction.IsRetryable(err) {
						return errors.Annotatef(err, "txn %d rolled back, retry it", tx.ID())
					}
					return err
				}
				fmt.Fprintf(s.out, "Commit txn %d ok\n", tx.ID())
				return nil
			},
		},
		&cobra.Command{
			Use:   "rollback",
			Short: "Roll back the open transaction",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if s.tx == nil {
					return errors.New("no open transaction")
				}
				tx := s.tx
				s.tx = nil
				if err := tx.Rollback(); err != nil {
					return err
				}
				fmt.Fprintf(s.out, "Rollback txn %d ok\n", tx.ID())
				return nil
			},
		},
		&cobra.Command{
			Use:   "snapshot",
			Short: "Take a snapshot which outlives the open transaction",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				var snap *transaction.SharedSnapshot
				if s.tx != nil {
					snap = s.tx.TimestampedSnapshot()
				} else {
					snap = s.db.Snapshot()
				}
				id := s.nextSnap
				s.nextSnap++
				s.snapshots[id] = snap
				fmt.Fprintf(s.out, "Snapshot %d\n", id)
				return nil
			},
		},
		&cobra.Command{
			Use:                   "release id",
			Short:                 "Release a snapshot",
			Args:                  cobra.ExactArgs(1),
			DisableFlagsInUseLine: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				snap, err := s.snapshot(args[0])
				if err != nil {
					return err
				}
				snap.Release()
				id, _ := strconv.Atoi(args[0])
				delete(s.snapshots, id)
				return nil
			},
		},
		&cobra.Command{
			Use:   "snapshots",
			Short: "List live snapshots",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ids := make([]int, 0, len(s.snapshots))
				for id := range s.snapshots {
					ids = append(ids, id)
				}
				sort.Ints(ids)
				for _, id := range ids {
					fmt.Fprintf(s.out, "Snapshot %d\n", id)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:                   "cf [name]",
			Short:                 "Show or switch the column family",
			Args:                  cobra.MaximumNArgs(1),
			DisableFlagsInUseLine: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				if len(args) == 1 {
					col := s.db.ColumnFamilyIndex(args[0])
					if col < 0 {
						return errors.Errorf("unknown column family %q", args[0])
					}
					s.cf = col
				}
				fmt.Fprintf(s.out, "Using column family %s\n", s.db.ColumnFamily(s.cf).Name)
				return nil
			},
		},
	)
	return cmd.Execute()
}

func shellLoop(s *session) error {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            s.prompt(),
		HistoryFile:       os.TempDir() + "/txnkv-cli.history",
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	defer l.Close()

	for {
		l.SetPrompt(s.prompt())
		line, err := l.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		args, err := shellwords.Parse(line)
		if err != nil {
			fmt.Fprintf(s.out, "ERROR: %v\n", err)
			continue
		}
		if err := s.execute(args); err != nil {
			fmt.Fprintf(s.out, "ERROR: %v\n", err)
		}
	}
}
