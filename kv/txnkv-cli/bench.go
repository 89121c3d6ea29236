package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pingcap-incubator/txnkv/kv/transaction"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
	"go.uber.org/atomic"
)

type benchOptions struct {
	txns        int
	keysPerTxn  int
	keySpace    int
	threads     int
	valueSize   int
	pessimistic bool
}

type benchResult struct {
	latencies []float64
	conflicts int64
	failures  int64
	elapsed   time.Duration
}

func newBenchCommand() *cobra.Command {
	o := new(benchOptions)
	m := &cobra.Command{
		Use:   "bench",
		Short: "Run write transactions and report commit latency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res := runBench(globalDB, globalCF, o)
			return res.report(cmd.OutOrStdout())
		},
	}
	m.Flags().IntVarP(&o.txns, "txns", "n", 1000, "number of transactions")
	m.Flags().IntVar(&o.keysPerTxn, "keys", 4, "keys written per transaction")
	m.Flags().IntVar(&o.keySpace, "key-space", 10000, "number of distinct keys")
	m.Flags().IntVarP(&o.threads, "threads", "t", 4, "concurrent clients")
	m.Flags().IntVar(&o.valueSize, "value-size", 64, "value size in bytes")
	m.Flags().BoolVar(&o.pessimistic, "pessimistic", false, "use pessimistic transactions")
	return m
}

// runBench spreads o.txns transactions over o.threads goroutines. Each transaction reads and rewrites o.keysPerTxn
// keys; conflicts are counted and not retried.
func runBench(db *transaction.TransactionDB, col int, o *benchOptions) *benchResult {
	var (
		next      atomic.Int64
		conflicts atomic.Int64
		failures  atomic.Int64
		mu        sync.Mutex
		wg        sync.WaitGroup
	)
	res := &benchResult{latencies: make([]float64, 0, o.txns)}
	value := make([]byte, o.valueSize)
	threads := o.threads
	if threads < 1 {
		threads = 1
	}
	keySpace := o.keySpace
	if keySpace < 1 {
		keySpace = 1
	}

	start := time.Now()
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				n := next.Inc() - 1
				if n >= int64(o.txns) {
					return
				}
				begin := time.Now()
				err := benchTxn(db, col, o, n, keySpace, value)
				d := time.Since(begin)
				switch {
				case err == nil:
					mu.Lock()
					res.latencies = append(res.latencies, d.Seconds()*1000)
					mu.Unlock()
				case transaction.IsRetryable(err):
					conflicts.Inc()
				default:
					failures.Inc()
				}
			}
		}()
	}
	wg.Wait()
	res.elapsed = time.Since(start)
	res.conflicts = conflicts.Load()
	res.failures = failures.Load()
	return res
}

func benchTxn(db *transaction.TransactionDB, col int, o *benchOptions, n int64, keySpace int, value []byte) error {
	tx := db.BeginTransaction(transaction.TransactionOptions{Pessimistic: o.pessimistic})
	defer tx.Discard()
	slot := new(transaction.PinnedSlice)
	for k := 0; k < o.keysPerTxn; k++ {
		key := []byte(fmt.Sprintf("bench%08d", (n*int64(o.keysPerTxn)+int64(k)*7919)%int64(keySpace)))
		if _, err := tx.Get(col, key, slot); err != nil {
			return err
		}
		if err := tx.Put(col, key, value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *benchResult) report(w io.Writer) error {
	total := len(r.latencies) + int(r.conflicts) + int(r.failures)
	fmt.Fprintf(w, "txns: %d, committed: %d, conflicts: %d, failures: %d, elapsed: %v\n",
		total, len(r.latencies), r.conflicts, r.failures, r.elapsed)
	if len(r.latencies) == 0 {
		return nil
	}
	data := stats.Float64Data(r.latencies)
	mean, err := stats.Mean(data)
	if err != nil {
		return errors.WithStack(err)
	}
	p50, err := stats.Percentile(data, 50)
	if err != nil {
		return errors.WithStack(err)
	}
	p99, err := stats.Percentile(data, 99)
	if err != nil {
		return errors.WithStack(err)
	}
	max, err := stats.Max(data)
	if err != nil {
		return errors.WithStack(err)
	}
	fmt.Fprintf(w, "latency(ms): mean %.3f, p50 %.3f, p99 %.3f, max %.3f, tps %.1f\n",
		mean, p50, p99, max, float64(len(r.latencies))/r.elapsed.Seconds())
	return nil
}
