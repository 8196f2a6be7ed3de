// Package program is the single entry point for every external call. Each
// call runs as one unit of work against the store: every check and every
// write either commits together or not at all, and the call's events reach
// the sink only after the commit.
package program

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/solveil/veil/internal/bridge"
	"github.com/solveil/veil/internal/codes"
	"github.com/solveil/veil/internal/events"
	"github.com/solveil/veil/internal/pool"
	"github.com/solveil/veil/internal/proofgate"
	"github.com/solveil/veil/internal/store"
	"github.com/solveil/veil/internal/token"
)

// Observer is told the outcome of every call.
type Observer interface {
	Observe(op string, elapsed time.Duration, err error)
}

// Program wires the pools, the bridge and the token ledger to one store.
type Program struct {
	db     *store.DB
	ledger token.Ledger
	pools  *pool.Service
	relay  *bridge.Relay

	sink     events.Sink
	observer Observer
	log      zerolog.Logger
	now      func() time.Time
}

// Option configures New.
type Option func(*Program)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(p *Program) { p.now = now } }

// WithSink sets where committed events go.
func WithSink(s events.Sink) Option { return func(p *Program) { p.sink = s } }

// WithLogger sets the program logger.
func WithLogger(l zerolog.Logger) Option { return func(p *Program) { p.log = l } }

// WithObserver reports call outcomes, typically to metrics.
func WithObserver(o Observer) Option { return func(p *Program) { p.observer = o } }

// WithVerifier replaces the Groth16 verifier.
func WithVerifier(v pool.ProofVerifier) Option {
	return func(p *Program) { p.pools.Verifier = v }
}

// WithPublisher sets the transport outbound transfers are published on.
func WithPublisher(pub bridge.Publisher) Option {
	return func(p *Program) { p.relay.Publisher = pub }
}

// New returns a program over db.
func New(db *store.DB, opts ...Option) *Program {
	p := &Program{
		db:   db,
		sink: events.Discard{},
		log:  zerolog.Nop(),
		now:  time.Now,
	}
	p.pools = &pool.Service{Tokens: p.ledger, Verifier: proofgate.NewVerifier()}
	p.relay = &bridge.Relay{Tokens: p.ledger}
	for _, o := range opts {
		o(p)
	}
	return p
}

// DB exposes the underlying store, for health checks.
func (p *Program) DB() *store.DB { return p.db }

type unit struct {
	tx     *store.Txn
	now    time.Time
	events []events.Event
}

func (u *unit) ts() int64 { return u.now.Unix() }

func (u *unit) emit(typ events.Type, data any) {
	u.events = append(u.events, events.New(typ, u.now, data))
}

// exec runs fn as one unit of work.
func (p *Program) exec(ctx context.Context, op string, fn func(u *unit) error) error {
	start := time.Now()
	u := &unit{now: p.now()}
	err := p.db.Update(func(tx *store.Txn) error {
		u.tx = tx
		u.events = u.events[:0]
		return fn(u)
	})
	if p.observer != nil {
		p.observer.Observe(op, time.Since(start), err)
	}
	if err != nil {
		p.log.Debug().Err(err).Str("op", op).Str("code", codes.CodeOf(err)).Msg("call aborted")
		return err
	}
	for _, e := range u.events {
		if err := p.sink.Emit(ctx, e); err != nil {
			p.log.Warn().Err(err).Str("event", string(e.Type)).Msg("event sink failed")
		}
	}
	return nil
}

// view runs fn with read-only access.
func (p *Program) view(fn func(tx *store.Txn) error) error {
	return p.db.View(fn)
}
