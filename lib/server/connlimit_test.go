package server

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestConnectionLimiter_AcquireRelease(t *testing.T) {
	cl := NewConnectionLimiter(2)

	if !cl.Acquire() || !cl.Acquire() {
		t.Fatal("Acquire() within limit should succeed")
	}
	if cl.Acquire() {
		t.Error("Acquire() at limit should fail")
	}
	if cl.ActiveConnections() != 2 {
		t.Errorf("ActiveConnections() = %d, want 2", cl.ActiveConnections())
	}

	cl.Release()
	if !cl.Acquire() {
		t.Error("Acquire() after Release() should succeed")
	}
}

func TestConnectionLimiter_DefaultMax(t *testing.T) {
	for _, n := range []int{0, -5} {
		if got := NewConnectionLimiter(n).MaxConnections(); got != DefaultMaxConnections {
			t.Errorf("NewConnectionLimiter(%d).MaxConnections() = %d, want %d", n, got, DefaultMaxConnections)
		}
	}
}

func TestConnectionLimiter_Concurrent(t *testing.T) {
	cl := NewConnectionLimiter(10)

	var acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cl.Acquire() {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	if acquired.Load() != 10 {
		t.Errorf("acquired %d slots, want 10", acquired.Load())
	}
}

func TestLimitedListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cl := NewConnectionLimiter(1)
	rejected := make(chan net.Addr, 1)
	cl.SetOnReject(func(addr net.Addr) { rejected <- addr })
	limited := cl.Listener(ln)
	defer limited.Close()

	accepted := make(chan net.Conn, 2)
	go func() {
		for {
			conn, err := limited.Accept()
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()

	first, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer first.Close()
	var held net.Conn
	select {
	case held = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("first connection not accepted")
	}

	second, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer second.Close()
	select {
	case <-rejected:
	case <-time.After(2 * time.Second):
		t.Fatal("second connection not rejected")
	}

	// Closing twice releases once.
	held.Close()
	held.Close()
	if cl.ActiveConnections() != 0 {
		t.Errorf("ActiveConnections() = %d after close, want 0", cl.ActiveConnections())
	}
}
