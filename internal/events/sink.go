package events

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Sink receives committed events. A failing sink never rolls back the
// operation that produced the event.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, Event) error { return nil }

// Multi fans an event out to several sinks and joins their errors.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, e Event) error {
	var msgs []string
	for _, s := range m {
		if err := s.Emit(ctx, e); err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	if len(msgs) > 0 {
		return errors.Errorf("emit %s: %s", e.Type, strings.Join(msgs, "; "))
	}
	return nil
}

// LogSink writes events as structured log lines.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Emit(_ context.Context, e Event) error {
	s.Log.Info().
		Str("event", string(e.Type)).
		Time("at", e.Time).
		Interface("data", e.Data).
		Msg("event")
	return nil
}

// NATSSink publishes each event as JSON on <prefix>.<type>.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

// NATSOptions configure DialNATS.
type NATSOptions struct {
	URL     string
	Prefix  string
	Timeout time.Duration
	Log     zerolog.Logger
}

// DialNATS connects to a NATS server and returns a sink publishing on it.
func DialNATS(o NATSOptions) (*NATSSink, error) {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log := o.Log
	conn, err := nats.Connect(o.URL,
		nats.Name("veild"),
		nats.Timeout(timeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to nats at %s", o.URL)
	}
	return NewNATSSink(conn, o.Prefix), nil
}

// NewNATSSink publishes on an existing connection.
func NewNATSSink(conn *nats.Conn, prefix string) *NATSSink {
	if prefix == "" {
		prefix = "veil"
	}
	return &NATSSink{conn: conn, prefix: prefix}
}

// Subject returns the subject an event of typ is published on.
func (s *NATSSink) Subject(typ Type) string { return s.prefix + "." + string(typ) }

func (s *NATSSink) Emit(_ context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", e.Type)
	}
	return errors.Wrapf(s.conn.Publish(s.Subject(e.Type), b), "publish %s", e.Type)
}

// Connected reports whether the underlying connection is up.
func (s *NATSSink) Connected() bool { return s.conn.IsConnected() }

// Close drains and closes the connection.
func (s *NATSSink) Close() error { return s.conn.Drain() }

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of typ.
func (r *Recorder) OfType(typ Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
