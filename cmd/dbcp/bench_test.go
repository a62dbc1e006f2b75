package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-i2p/dbcp/lib/pool"
	"github.com/go-i2p/dbcp/lib/session/sessiontest"
)

func TestBenchUnpooledDialsPerStatement(t *testing.T) {
	d := sessiontest.NewDialer()
	res, err := benchUnpooled(context.Background(), d, benchOptions{Ops: 50, Workers: 5, SQL: "INSERT INTO t VALUES (1)"})
	if err != nil {
		t.Fatalf("benchUnpooled: %v", err)
	}
	if res.Failed != 0 {
		t.Errorf("Failed = %d, want 0", res.Failed)
	}
	if got := d.Dials(); got != 50 {
		t.Errorf("Dials() = %d, want 50", got)
	}
	if got := d.Open(); got != 0 {
		t.Errorf("Open() = %d sessions left open, want 0", got)
	}
}

func TestBenchPooledReusesSessions(t *testing.T) {
	d := sessiontest.NewDialer()
	cfg := pool.Config{
		MinSize:        2,
		MaxSize:        4,
		MaxIdleTime:    time.Hour,
		AcquireTimeout: time.Second,
		RetryInterval:  10 * time.Millisecond,
	}
	res, err := benchPooled(context.Background(), d, cfg, benchOptions{Ops: 200, Workers: 8, SQL: "SELECT 1"})
	if err != nil {
		t.Fatalf("benchPooled: %v", err)
	}
	if res.Failed != 0 {
		t.Errorf("Failed = %d, want 0", res.Failed)
	}
	if got := d.Dials(); got > 4 {
		t.Errorf("Dials() = %d, want at most MaxSize", got)
	}
	if got := d.Open(); got != 0 {
		t.Errorf("Open() = %d after pool close, want 0", got)
	}
}

func TestBenchCountsFailures(t *testing.T) {
	d := sessiontest.NewDialer()
	d.Fail(sessiontest.ErrRefused)

	res, err := benchUnpooled(context.Background(), d, benchOptions{Ops: 10, Workers: 2, SQL: "SELECT 1"})
	if err != nil {
		t.Fatalf("benchUnpooled: %v", err)
	}
	if res.Failed != 10 {
		t.Errorf("Failed = %d, want 10", res.Failed)
	}
	if res.OpsPerSecond() != 0 {
		t.Errorf("OpsPerSecond() = %f, want 0", res.OpsPerSecond())
	}
}

func TestBenchResultPrint(t *testing.T) {
	var buf bytes.Buffer
	benchResult{Mode: "pooled", Ops: 100, Failed: 1, Elapsed: time.Second}.print(&buf)
	out := buf.String()
	for _, want := range []string{"pooled", "ops=100", "failed=1", "rate=99.0/s"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}
