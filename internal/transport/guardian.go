package transport

import (
	"context"
	"crypto/ecdsa"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/solveil/veil/internal/store"
	"github.com/solveil/veil/internal/types"
)

const (
	sequenceKind    = "emitter_sequence"
	observationKind = "observation"
)

// ErrNotObserved is returned for a sequence the guardian never signed.
var ErrNotObserved = errors.New("vaa not observed")

type sequence struct {
	Next uint64
}

type observation struct {
	Raw []byte
}

// Guardian signs and records the messages the local bridge publishes. It
// implements bridge.Publisher. Sequences are per emitter and start at 0.
type Guardian struct {
	key     *ecdsa.PrivateKey
	index   uint8
	setIdx  uint32
	chain   types.ChainID
	emitter types.Hash
	db      *store.DB
	log     zerolog.Logger
	now     func() time.Time

	mu        sync.Mutex
	onPublish []func(*VAA)
}

// GuardianConfig configures NewGuardian.
type GuardianConfig struct {
	Key              *ecdsa.PrivateKey
	Index            uint8
	GuardianSetIndex uint32
	Chain            types.ChainID
	Emitter          types.Hash
	// DB holds sequences and observations; it must not be the store the
	// bridge itself runs in, since Publish is called inside its units of
	// work.
	DB  *store.DB
	Log zerolog.Logger
	Now func() time.Time
}

// NewGuardian returns a guardian for the emitter in cfg.
func NewGuardian(cfg GuardianConfig) (*Guardian, error) {
	if cfg.Key == nil {
		return nil, errors.New("guardian key required")
	}
	if cfg.DB == nil {
		return nil, errors.New("guardian store required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Guardian{
		key:     cfg.Key,
		index:   cfg.Index,
		setIdx:  cfg.GuardianSetIndex,
		chain:   cfg.Chain,
		emitter: cfg.Emitter,
		db:      cfg.DB,
		log:     cfg.Log.With().Str("component", "guardian").Logger(),
		now:     now,
	}, nil
}

// Address is the guardian's signing address.
func (g *Guardian) Address() common.Address { return crypto.PubkeyToAddress(g.key.PublicKey) }

// OnPublish registers fn to receive every VAA after it is signed and
// recorded.
func (g *Guardian) OnPublish(fn func(*VAA)) {
	g.mu.Lock()
	g.onPublish = append(g.onPublish, fn)
	g.mu.Unlock()
}

func sequenceKey(chain types.ChainID, emitter types.Hash) store.Key {
	return store.Derive(sequenceKind, store.U16(uint16(chain)), emitter[:])
}

func observationKey(chain types.ChainID, emitter types.Hash, seq uint64) store.Key {
	return store.Derive(observationKind, store.U16(uint16(chain)), emitter[:], store.U64(seq))
}

// Publish assigns the next sequence, signs the VAA and records it.
func (g *Guardian) Publish(ctx context.Context, payload []byte, nonce uint32, finality uint8) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var v *VAA
	err := g.db.Update(func(tx *store.Txn) error {
		var s sequence
		if _, err := tx.Get(sequenceKey(g.chain, g.emitter), &s); err != nil {
			return err
		}
		v = &VAA{
			Version:          Version,
			GuardianSetIndex: g.setIdx,
			Timestamp:        uint32(g.now().Unix()),
			Nonce:            nonce,
			EmitterChain:     g.chain,
			EmitterAddress:   g.emitter,
			Sequence:         s.Next,
			ConsistencyLevel: finality,
			Payload:          append([]byte(nil), payload...),
		}
		if err := v.Sign(g.key, g.index); err != nil {
			return err
		}
		if err := tx.Create(observationKey(g.chain, g.emitter, v.Sequence), observation{Raw: v.Marshal()}); err != nil {
			return errors.Wrapf(err, "record sequence %d", v.Sequence)
		}
		s.Next++
		return tx.Put(sequenceKey(g.chain, g.emitter), s)
	})
	if err != nil {
		return 0, errors.Wrap(err, "publish")
	}
	g.log.Info().
		Uint64("sequence", v.Sequence).
		Uint16("chain", uint16(v.EmitterChain)).
		Str("digest", v.Digest().String()).
		Msg("vaa signed")

	g.mu.Lock()
	hooks := append(([]func(*VAA))(nil), g.onPublish...)
	g.mu.Unlock()
	for _, fn := range hooks {
		fn(v)
	}
	return v.Sequence, nil
}

// Observation returns the VAA signed for seq.
func (g *Guardian) Observation(seq uint64) (*VAA, error) {
	var o observation
	var ok bool
	err := g.db.View(func(tx *store.Txn) error {
		var err error
		ok, err = tx.Get(observationKey(g.chain, g.emitter, seq), &o)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ErrNotObserved, "sequence %d", seq)
	}
	return Unmarshal(o.Raw)
}

// NextSequence is the sequence the next Publish will use.
func (g *Guardian) NextSequence() (uint64, error) {
	var s sequence
	err := g.db.View(func(tx *store.Txn) error {
		_, err := tx.Get(sequenceKey(g.chain, g.emitter), &s)
		return err
	})
	return s.Next, err
}

// Ping checks the guardian's store.
func (g *Guardian) Ping() error { return g.db.Ping() }

// CoSign adds this guardian's signature to v when it is not already there.
func (g *Guardian) CoSign(v *VAA) error {
	for _, s := range v.Signatures {
		if s.Index == g.index {
			return nil
		}
	}
	return v.Sign(g.key, g.index)
}
