package pump

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNotifyCoalescesWhenRunNotDraining(t *testing.T) {
	p := New(zaptest.NewLogger(t))

	p.Notify([]string{"idmg-a"})
	p.Notify([]string{"idmg-b"})
	p.Notify([]string{"idmg-c"})

	select {
	case sig := <-p.ch:
		assert.Equal(t, []string{"idmg-a"}, sig.Idmgs)
	default:
		t.Fatal("expected one coalesced signal pending")
	}

	select {
	case <-p.ch:
		t.Fatal("expected no second signal, Notify should have dropped the rest")
	default:
	}
}

func TestRunInvokesHandlerAndStopsOnCancel(t *testing.T) {
	p := New(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	var calls int32
	done := make(chan struct{})
	go func() {
		p.Run(ctx, func(ctx context.Context, sig Signal) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
		close(done)
	}()

	p.Notify([]string{"idmg-x"})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

func TestRunContinuesAfterHandlerError(t *testing.T) {
	p := New(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	go p.Run(ctx, func(ctx context.Context, sig Signal) error {
		atomic.AddInt32(&calls, 1)
		return assert.AnError
	})

	p.Notify(nil)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 1
	}, time.Second, 10*time.Millisecond)

	p.Notify(nil)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 2
	}, time.Second, 10*time.Millisecond)
}
