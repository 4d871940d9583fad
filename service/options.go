package service

import (
	"context"
	"time"

	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/ports"
	"github.com/rs/zerolog/log"
)

type options struct {
	now        func() time.Time
	sessionTTL time.Duration
	events     ports.EventPublisher
}

// Option configures a service
type Option func(*options)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSessionTTL overrides core.SessionTTL
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *options) { o.sessionTTL = ttl }
}

// WithEventPublisher sets the audit event publisher
func WithEventPublisher(p ports.EventPublisher) Option {
	return func(o *options) { o.events = p }
}

func newOptions(opts []Option) options {
	o := options{
		now:        time.Now,
		sessionTTL: core.SessionTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.sessionTTL <= 0 {
		o.sessionTTL = core.SessionTTL
	}
	return o
}

// publish runs fn against the configured publisher. A failed publish is
// logged and never fails the operation that produced the event.
func (o options) publish(ctx context.Context, event string, fn func(ctx context.Context, p ports.EventPublisher) error) {
	if o.events == nil {
		return
	}
	if err := fn(ctx, o.events); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("failed to publish event")
	}
}
