package pool

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/geldb/gelclient/internal/conn"
)

// pipeDialer returns a Config.Dial that hands out *conn.Connection wrapping
// one end of a net.Pipe(), with the peer end drained in the background so
// Ping's 1-byte read sees a timeout (alive) rather than data.
func pipeDialer(t *testing.T) func(ctx context.Context) (*conn.Connection, error) {
	t.Helper()
	return func(ctx context.Context) (*conn.Connection, error) {
		client, server := net.Pipe()
		go func() {
			buf := make([]byte, 1)
			for {
				if _, err := server.Read(buf); err != nil {
					return
				}
			}
		}()
		t.Cleanup(func() { server.Close() })
		return conn.New(client), nil
	}
}

func TestAcquireCreatesUpToMaxConcurrency(t *testing.T) {
	p := New(Config{Dial: pipeDialer(t), MaxConcurrency: 2, AcquireTimeout: time.Second})
	defer p.Close()

	lc1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	lc2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if lc1.C == lc2.C {
		t.Fatal("expected two distinct connections")
	}
	if got := p.Stats().Total; got != 2 {
		t.Fatalf("Stats().Total = %d, want 2", got)
	}
}

func TestAcquireBlocksWhenExhaustedThenTimesOut(t *testing.T) {
	p := New(Config{Dial: pipeDialer(t), MaxConcurrency: 1, AcquireTimeout: 50 * time.Millisecond})
	defer p.Close()

	lc1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer lc1.Release()

	_, err = p.Acquire(context.Background())
	if err == nil {
		t.Fatal("expected acquire timeout error when pool is exhausted")
	}
}

func TestReleaseReturnsConsistentConnToIdleQueue(t *testing.T) {
	p := New(Config{Dial: pipeDialer(t), MaxConcurrency: 1, AcquireTimeout: time.Second})
	defer p.Close()

	lc1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	first := lc1.C
	lc1.Release()

	if got := p.Stats().Idle; got != 1 {
		t.Fatalf("Stats().Idle = %d, want 1 after Release", got)
	}

	lc2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if lc2.C != first {
		t.Fatal("expected the released connection to be reused rather than dialing a new one")
	}
}

func TestDiscardDropsConnectionAndFreesPermit(t *testing.T) {
	p := New(Config{Dial: pipeDialer(t), MaxConcurrency: 1, AcquireTimeout: time.Second})
	defer p.Close()

	lc1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	lc1.Discard()

	if got := p.Stats().Total; got != 0 {
		t.Fatalf("Stats().Total = %d, want 0 after Discard", got)
	}

	lc2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if lc2.C == lc1.C {
		t.Fatal("expected a fresh connection after Discard")
	}
}

// TestAcquireDiscardsResetConnectionFoundIdle exercises spec.md §4.4's
// "TCP error or inbound EOF signals reset" rule: Release pushes a
// structurally-consistent connection back eagerly (consistency is a
// protocol-state property, not a liveness check), and it is Acquire's Ping
// peek that later discovers the socket is actually dead and dials afresh.
func TestAcquireDiscardsResetConnectionFoundIdle(t *testing.T) {
	p := New(Config{Dial: pipeDialer(t), MaxConcurrency: 1, AcquireTimeout: time.Second})
	defer p.Close()

	lc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	stale := lc.C
	stale.Close()
	lc.Release()

	lc2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if lc2.C == stale {
		t.Fatal("expected the dead connection to be discarded by Ping, not reused")
	}
}
