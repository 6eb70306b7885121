// Package pump is the cooperative wake mechanism that drives outbound
// delivery retries, grounded on pompe_messages.rs's PompeMessages: a
// single-consumer, capacity-1 channel so that any number of wake signals
// collapse into at most one pending run. Per the REDESIGN FLAGS this
// carries no mutex-guarded singleton sender — the channel is held by value
// and handed to every component that needs to wake the pump at
// construction time, once.
package pump

import (
	"context"

	"go.uber.org/zap"
)

// Signal is the payload carried on a wake: an optional set of IDMGs whose
// delivery state just changed, or nil to mean "re-scan everything."
type Signal struct {
	Idmgs []string
}

// Pump is the coalescing wake channel and its single consumer loop.
type Pump struct {
	ch  chan Signal
	log *zap.Logger
}

// New returns a ready-to-use Pump. Run must be called exactly once to drain
// it; Notify may be called from any number of goroutines.
func New(log *zap.Logger) *Pump {
	return &Pump{ch: make(chan Signal, 1), log: log}
}

// Notify sends a wake signal. It never blocks: if a signal is already
// pending, this one is dropped, since the pending run will re-evaluate
// state anyway — this is the "duplicate signals collapse" coalescing
// behavior.
func (p *Pump) Notify(idmgs []string) {
	select {
	case p.ch <- Signal{Idmgs: idmgs}:
	default:
	}
}

// Run drains wake signals and invokes onSignal for each, until ctx is
// cancelled. onSignal errors are logged and never stop the loop.
func (p *Pump) Run(ctx context.Context, onSignal func(ctx context.Context, sig Signal) error) {
	p.log.Debug("pump run starting")
	for {
		select {
		case <-ctx.Done():
			p.log.Debug("pump run stopping")
			return
		case sig := <-p.ch:
			if err := onSignal(ctx, sig); err != nil {
				p.log.Warn("pump signal handler failed", zap.Error(err))
			}
		}
	}
}
