package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	// MessagePath is where nodes accept envelopes.
	MessagePath = "/p2p/message"

	TypePing = "ping"
	TypeVAA  = "vaa"
)

// Message is the generic envelope sent between nodes.
type Message struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"senderId"`
}

// VAAPayload carries a marshalled VAA.
type VAAPayload struct {
	VAA []byte `json:"vaa"`
}

// HandlerFunc processes one message type. A returned error is reported to
// the sender as a non-OK status.
type HandlerFunc func(ctx context.Context, n *Node, msg Message) error

// Node is one chain's endpoint on the relay network.
type Node struct {
	ID      string
	Address string
	Peers   map[string]string // Map of node ID to its address

	log    zerolog.Logger
	client *http.Client
	server *http.Server

	handlerMu sync.RWMutex
	handlers  map[string]HandlerFunc

	healthMutex sync.Mutex
	health      map[string]bool
}

// NewNode creates a node; it answers pings out of the box.
func NewNode(id, address string, peers map[string]string, log zerolog.Logger) *Node {
	n := &Node{
		ID:       id,
		Address:  address,
		Peers:    peers,
		log:      log.With().Str("node", id).Logger(),
		client:   &http.Client{Timeout: 5 * time.Second},
		handlers: make(map[string]HandlerFunc),
		health:   make(map[string]bool),
	}
	n.RegisterHandler(TypePing, func(context.Context, *Node, Message) error { return nil })
	return n
}

// RegisterHandler routes messages of msgType to fn, replacing any earlier
// handler.
func (n *Node) RegisterHandler(msgType string, fn HandlerFunc) {
	n.handlerMu.Lock()
	n.handlers[msgType] = fn
	n.handlerMu.Unlock()
}

// Handler serves MessagePath.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(MessagePath, n.messageHandler)
	return mux
}

func (n *Node) messageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		n.log.Warn().Err(err).Msg("bad message body")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	n.handlerMu.RLock()
	fn, ok := n.handlers[msg.Type]
	n.handlerMu.RUnlock()
	if !ok {
		n.log.Warn().Str("type", msg.Type).Str("from", msg.SenderID).Msg("unknown message type")
		http.Error(w, "unknown message type", http.StatusBadRequest)
		return
	}

	n.log.Debug().Str("type", msg.Type).Str("from", msg.SenderID).Msg("message received")
	if err := fn(r.Context(), n, msg); err != nil {
		n.log.Warn().Err(err).Str("type", msg.Type).Str("from", msg.SenderID).Msg("handler failed")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "message received")
}

// StartServer listens on n.Address and serves in the background. It
// returns once the listener is bound.
func (n *Node) StartServer() error {
	listener, err := net.Listen("tcp", n.Address)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", n.Address)
	}
	n.server = &http.Server{Handler: n.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		n.log.Info().Str("addr", listener.Addr().String()).Msg("node serving")
		if err := n.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			n.log.Error().Err(err).Msg("node server failed")
		}
	}()
	return nil
}

// Shutdown stops the server started by StartServer.
func (n *Node) Shutdown(ctx context.Context) error {
	if n.server == nil {
		return nil
	}
	return n.server.Shutdown(ctx)
}

// SendMessage posts payload to the peer targetID.
func (n *Node) SendMessage(ctx context.Context, targetID, messageType string, payload any) error {
	targetAddress, ok := n.Peers[targetID]
	if !ok {
		return errors.Errorf("peer %q not found in directory", targetID)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}
	messageBytes, err := json.Marshal(Message{Type: messageType, Payload: payloadBytes, SenderID: n.ID})
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+targetAddress+MessagePath, bytes.NewReader(messageBytes))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "send to %s", targetID)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("peer %s returned %s", targetID, resp.Status)
	}
	return nil
}

// Broadcast sends to every peer except n itself and returns the failures
// by peer ID.
func (n *Node) Broadcast(ctx context.Context, messageType string, payload any) map[string]error {
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs = make(map[string]error)
	)
	for id := range n.Peers {
		if id == n.ID {
			continue
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := n.SendMessage(ctx, id, messageType, payload); err != nil {
				mu.Lock()
				errs[id] = err
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	return errs
}

// HealthCheck pings every peer and records which answered.
func (n *Node) HealthCheck(ctx context.Context) map[string]bool {
	failed := n.Broadcast(ctx, TypePing, struct{}{})
	n.healthMutex.Lock()
	defer n.healthMutex.Unlock()
	for id := range n.Peers {
		if id == n.ID {
			continue
		}
		_, bad := failed[id]
		n.health[id] = !bad
	}
	out := make(map[string]bool, len(n.health))
	for id, ok := range n.health {
		out[id] = ok
	}
	return out
}

// PublishVAA broadcasts v to every peer.
func (n *Node) PublishVAA(ctx context.Context, v *VAA) map[string]error {
	return n.Broadcast(ctx, TypeVAA, VAAPayload{VAA: v.Marshal()})
}

// HandleVAAs decodes incoming VAAs and passes them to fn.
func (n *Node) HandleVAAs(fn func(ctx context.Context, v *VAA) error) {
	n.RegisterHandler(TypeVAA, func(ctx context.Context, _ *Node, msg Message) error {
		var p VAAPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return errors.Wrap(err, "decode vaa payload")
		}
		v, err := Unmarshal(p.VAA)
		if err != nil {
			return err
		}
		return fn(ctx, v)
	})
}
