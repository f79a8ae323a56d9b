// Package notifier delivers alert messages to operator channels.
package notifier

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Channel is one notification destination.
type Channel interface {
	Name() string
	Enabled() bool
	Send(ctx context.Context, subject, message string) error
}

// Outcome is the result of one channel send.
type Outcome struct {
	Channel string
	Err     error
	SentAt  time.Time
}

// Dispatcher sends every message to all enabled channels in parallel. Each
// send is bounded by a timeout and failures are never retried.
type Dispatcher struct {
	channels    []Channel
	timeout     time.Duration
	concurrency int
	log         zerolog.Logger
	now         func() time.Time
}

func NewDispatcher(channels []Channel, timeout time.Duration, concurrency int, logger zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	enabled := make([]Channel, 0, len(channels))
	for _, c := range channels {
		if c != nil && c.Enabled() {
			enabled = append(enabled, c)
		}
	}
	return &Dispatcher{
		channels:    enabled,
		timeout:     timeout,
		concurrency: concurrency,
		log:         logger.With().Str("module", "notifier").Logger(),
		now:         time.Now,
	}
}

func (d *Dispatcher) Channels() []string {
	names := make([]string, len(d.channels))
	for i, c := range d.channels {
		names[i] = c.Name()
	}
	return names
}

// Notify blocks until every channel finished or timed out.
func (d *Dispatcher) Notify(ctx context.Context, subject, message string) []Outcome {
	out := make([]Outcome, len(d.channels))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, c := range d.channels {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()
			err := c.Send(sendCtx, subject, message)
			out[i] = Outcome{Channel: c.Name(), Err: err, SentAt: d.now().UTC()}
			if err != nil {
				d.log.Warn().Err(err).Str("channel", c.Name()).Str("subject", subject).Msg("notify failed")
			} else {
				d.log.Info().Str("channel", c.Name()).Str("subject", subject).Msg("notification sent")
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
