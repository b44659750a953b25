// Package poller discovers messages written to a session by other clients
// and folds them into a local store.
package poller

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/chatstream/internal/logging"
	"github.com/opencode-ai/chatstream/pkg/types"
)

// DefaultInterval is the pause between two polls.
const DefaultInterval = 2 * time.Second

// Lister reads the messages of a remote session.
type Lister interface {
	ListMessages(ctx context.Context, sessionID string) ([]types.Message, error)
}

// Target receives discovered messages.
type Target interface {
	SessionID() string
	Active() bool
	Append(ctx context.Context, msg types.Message) (bool, error)
}

// Poller periodically lists the remote session and appends messages the
// target has not seen. Ticks are skipped while the target streams.
type Poller struct {
	source   Lister
	target   Target
	interval time.Duration
	log      zerolog.Logger
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// New creates a poller.
func New(source Lister, target Target, opts ...Option) *Poller {
	p := &Poller{
		source:   source,
		target:   target,
		interval: DefaultInterval,
		log:      logging.Component("poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				p.log.Warn().Err(err).Msg("poll failed")
			}
		}
	}
}

// Poll performs one poll and returns the number of messages appended.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	sid := p.target.SessionID()
	if sid == "" || p.target.Active() {
		return 0, nil
	}

	msgs, err := p.source.ListMessages(ctx, sid)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, msg := range msgs {
		// An exchange may have started while listing.
		if p.target.Active() {
			break
		}
		ok, err := p.target.Append(ctx, msg)
		if err != nil {
			p.log.Debug().Err(err).Str("messageID", msg.ID).Msg("skipping message")
			continue
		}
		if ok {
			added++
		}
	}
	if added > 0 {
		p.log.Debug().Str("sessionID", sid).Int("added", added).Msg("discovered messages")
	}
	return added, nil
}
