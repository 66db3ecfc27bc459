package services

import (
	"context"
	"time"
)

// minPacerSleep is the smallest wait worth actually sleeping for;
// shorter waits are absorbed into the budget to avoid timer noise.
const minPacerSleep = 700 * time.Microsecond

// Pacer spaces outbound packets so the wire rate approximates a target
// bitrate. It is the sender's only flow control: UDP has none, so the
// frame loop cooperatively suspends between packets. Not safe for
// concurrent use; it belongs to the frame loop.
type Pacer struct {
	targetKbps float64
	nextDue    time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// NewPacer creates a pacer for the given target rate in kbit/s.
func NewPacer(targetKbps int) *Pacer {
	return &Pacer{
		targetKbps: float64(targetKbps),
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// SetTargetKbps retargets the pacer, keeping the current debt.
func (p *Pacer) SetTargetKbps(kbps int) {
	if kbps > 0 {
		p.targetKbps = float64(kbps)
	}
}

// TargetKbps returns the current pacing rate.
func (p *Pacer) TargetKbps() int {
	return int(p.targetKbps)
}

// Wait blocks until the next packet of size n bytes may be sent, then
// advances the budget. Returns early when ctx is cancelled.
func (p *Pacer) Wait(ctx context.Context, n int) {
	now := p.now()
	if p.nextDue.IsZero() || p.nextDue.Before(now.Add(-time.Second)) {
		// idle stream: do not accumulate send credit
		p.nextDue = now
	}

	if wait := p.nextDue.Sub(now); wait >= minPacerSleep {
		p.sleep(ctx, wait)
	}

	// bits / kbps == milliseconds
	cost := time.Duration(float64(n*8) / p.targetKbps * float64(time.Millisecond))
	p.nextDue = p.nextDue.Add(cost)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
