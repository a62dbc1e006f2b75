package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/go-i2p/dbcp/lib/config"
	"github.com/go-i2p/dbcp/lib/pool"
	"github.com/go-i2p/dbcp/lib/session"
)

// benchOptions configures one bench run.
type benchOptions struct {
	Ops     int
	Workers int
	SQL     string
	NoPool  bool
}

// benchResult summarises one bench run.
type benchResult struct {
	Mode    string
	Ops     int
	Failed  int64
	Elapsed time.Duration
}

// OpsPerSecond returns the successful statement rate.
func (r benchResult) OpsPerSecond() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(int64(r.Ops)-r.Failed) / r.Elapsed.Seconds()
}

func (r benchResult) print(w io.Writer) {
	fmt.Fprintf(w, "%-10s ops=%d failed=%d elapsed=%s rate=%.1f/s\n",
		r.Mode, r.Ops, r.Failed, r.Elapsed.Round(time.Millisecond), r.OpsPerSecond())
}

// handleBench handles the "bench" subcommand.
func handleBench(args []string, cfg *config.Config, logger *slog.Logger) int {
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	opts := benchOptions{}
	fs.IntVar(&opts.Ops, "n", 1000, "Total statements to run")
	fs.IntVar(&opts.Workers, "workers", 10, "Concurrent workers")
	fs.StringVar(&opts.SQL, "sql", "SELECT 1", "Statement to execute")
	fs.BoolVar(&opts.NoPool, "no-pool", false, "Only run the dial-per-statement baseline")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if opts.Ops <= 0 || opts.Workers <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -n and -workers must be positive")
		return 2
	}

	dialer, err := session.NewSQLDialer(cfg.DialerConfig())
	if err != nil {
		logger.Error("failed to prepare driver", "error", err)
		return 1
	}
	defer dialer.Close()

	ctx := context.Background()

	baseline, err := benchUnpooled(ctx, dialer, opts)
	if err != nil {
		logger.Error("unpooled run failed", "error", err)
		return 1
	}
	baseline.print(os.Stdout)
	if opts.NoPool {
		return 0
	}

	pooled, err := benchPooled(ctx, dialer, cfg.PoolConfig(), opts)
	if err != nil {
		logger.Error("pooled run failed", "error", err)
		return 1
	}
	pooled.print(os.Stdout)

	if baseline.Elapsed > 0 && pooled.Elapsed > 0 {
		fmt.Printf("speedup    %.2fx\n", baseline.Elapsed.Seconds()/pooled.Elapsed.Seconds())
	}
	return 0
}

// benchUnpooled opens and closes a session for every statement.
func benchUnpooled(ctx context.Context, d session.Dialer, opts benchOptions) (benchResult, error) {
	return runBench(ctx, "unpooled", opts, func(ctx context.Context) error {
		s, err := d.Dial(ctx)
		if err != nil {
			return err
		}
		defer s.Close()
		_, err = s.Exec(ctx, opts.SQL)
		return err
	})
}

// benchPooled borrows a session from a started pool for every statement.
func benchPooled(ctx context.Context, d session.Dialer, cfg pool.Config, opts benchOptions) (benchResult, error) {
	p, err := pool.New(d, cfg)
	if err != nil {
		return benchResult{}, err
	}
	if err := p.Start(ctx); err != nil {
		return benchResult{}, err
	}
	defer p.Close()

	return runBench(ctx, "pooled", opts, func(ctx context.Context) error {
		return p.Do(ctx, func(l *pool.Lease) error {
			_, err := l.Exec(ctx, opts.SQL)
			return err
		})
	})
}

// runBench spreads opts.Ops calls of op over opts.Workers goroutines.
// Statement failures are counted, not fatal.
func runBench(ctx context.Context, mode string, opts benchOptions, op func(context.Context) error) (benchResult, error) {
	var (
		next   atomic.Int64
		failed atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for range opts.Workers {
		g.Go(func() error {
			for next.Add(1) <= int64(opts.Ops) {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := op(gctx); err != nil {
					failed.Add(1)
				}
			}
			return nil
		})
	}
	err := g.Wait()
	return benchResult{
		Mode:    mode,
		Ops:     opts.Ops,
		Failed:  failed.Load(),
		Elapsed: time.Since(start),
	}, err
}
