package bridge

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/solveil/veil/internal/accumulator"
	"github.com/solveil/veil/internal/codes"
	"github.com/solveil/veil/internal/pool"
	"github.com/solveil/veil/internal/proofgate"
	"github.com/solveil/veil/internal/shielded"
	"github.com/solveil/veil/internal/store"
	"github.com/solveil/veil/internal/token"
	"github.com/solveil/veil/internal/types"
)

type published struct {
	payload  []byte
	nonce    uint32
	finality uint8
}

// countingPublisher hands out sequences 0, 1, 2, ...
type countingPublisher struct {
	next uint64
	sent []published
	err  error
}

func (p *countingPublisher) Publish(_ context.Context, payload []byte, nonce uint32, finality uint8) (uint64, error) {
	if p.err != nil {
		return 0, p.err
	}
	seq := p.next
	p.next++
	p.sent = append(p.sent, published{payload: payload, nonce: nonce, finality: finality})
	return seq, nil
}

var (
	admin      = types.Address{0xad}
	treasury   = types.Address{0x7e}
	user       = types.Address{0x01}
	localAsset = types.AssetID{0x11}
	ethAsset   = types.AssetID{0xee}
	ethEmitter = types.Hash{0xe0, 0x01}
)

var testVK []byte

func init() {
	p, err := proofgate.NewProver(accumulator.MinDepth, "")
	if err != nil {
		panic(err)
	}
	testVK = p.VerifyingKey
}

type fixture struct {
	db     *store.DB
	ledger token.Ledger
	pub    *countingPublisher
	relay  *Relay
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{db: db, pub: &countingPublisher{}}
	f.relay = &Relay{Tokens: f.ledger, Publisher: f.pub}
	require.NoError(t, db.Update(func(tx *store.Txn) error {
		if _, err := Initialize(tx, admin, Settings{
			Treasury:       treasury,
			FeeBasisPoints: 10,
			LocalChain:     types.ChainSolana,
			Finality:       FinalityFinalized,
			OutboundDepth:  accumulator.MinDepth,
		}); err != nil {
			return err
		}
		if _, err := AddChain(tx, admin, types.ChainEthereum); err != nil {
			return err
		}
		if _, err := AddToken(tx, admin, types.ChainEthereum, TokenConfig{
			LocalAsset: localAsset, RemoteAsset: ethAsset, MinAmount: 1_000, MaxAmount: 1_000_000, Enabled: true,
		}); err != nil {
			return err
		}
		if _, err := RegisterEmitter(tx, admin, types.ChainEthereum, ethEmitter, 1); err != nil {
			return err
		}
		return f.ledger.Mint(tx, localAsset, user, 100_000)
	}))
	return f
}

func (f *fixture) balance(t *testing.T, who types.Address) uint64 {
	t.Helper()
	var b uint64
	require.NoError(t, f.db.View(func(tx *store.Txn) error {
		var err error
		b, err = f.ledger.BalanceOf(tx, localAsset, who)
		return err
	}))
	return b
}

func commitment(t *testing.T) types.Hash {
	t.Helper()
	n, err := shielded.NewNote()
	require.NoError(t, err)
	return n.Commitment()
}

func (f *fixture) initiate(req InitiateRequest) (*OutboundReceipt, error) {
	var r *OutboundReceipt
	err := f.db.Update(func(tx *store.Txn) error {
		var err error
		r, err = f.relay.Initiate(context.Background(), tx, user, req, 5)
		return err
	})
	return r, err
}

func TestPayloadLayout(t *testing.T) {
	p := Payload{
		NetAmount:   0x0102030405060708,
		Asset:       types.AssetID{0xaa},
		SourceChain: types.ChainSolana,
		DestChain:   types.ChainEthereum,
		DestAddress: types.Hash{0xbb},
		Commitment:  types.Hash{0xcc},
		Nonce:       0x0a0b0c0d,
	}
	b := p.Encode()
	require.Len(t, b, 113)
	require.Equal(t, byte(100), b[0])
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, b[1:9])
	require.Equal(t, byte(0xaa), b[9])
	require.Equal(t, []byte{0, 1}, b[41:43])
	require.Equal(t, []byte{0, 2}, b[43:45])
	require.Equal(t, byte(0xbb), b[45])
	require.Equal(t, byte(0xcc), b[77])
	require.Equal(t, []byte{0x0a, 0x0b, 0x0c, 0x0d}, b[109:113])

	got, err := DecodePayload(b)
	require.NoError(t, err)
	require.Equal(t, p, *got)

	t.Run("nonce optional", func(t *testing.T) {
		got, err := DecodePayload(b[:109])
		require.NoError(t, err)
		require.Zero(t, got.Nonce)
		require.Equal(t, p.Commitment, got.Commitment)
	})
	t.Run("too short", func(t *testing.T) {
		_, err := DecodePayload(b[:108])
		require.True(t, errors.Is(err, codes.ErrInvalidMessage))
	})
	t.Run("wrong tag", func(t *testing.T) {
		bad := append([]byte(nil), b...)
		bad[0] = 1
		_, err := DecodePayload(bad)
		require.True(t, errors.Is(err, codes.ErrInvalidMessage))
	})
}

func TestRegistryCapacity(t *testing.T) {
	db, err := store.OpenMemory()
	require.NoError(t, err)
	defer db.Close()

	err = db.Update(func(tx *store.Txn) error {
		if _, err := Initialize(tx, admin, Settings{Treasury: treasury, LocalChain: types.ChainSolana}); err != nil {
			return err
		}
		for i := 0; i < MaxChains; i++ {
			if _, err := AddChain(tx, admin, types.ChainID(100+i)); err != nil {
				return err
			}
		}
		_, err := AddChain(tx, admin, types.ChainID(500))
		require.True(t, errors.Is(err, codes.ErrTooManyChains), "got %v", err)
		_, err = AddChain(tx, admin, types.ChainID(100))
		require.True(t, errors.Is(err, codes.ErrChainAlreadySupported), "got %v", err)

		for i := 0; i < MaxTokensPerChain; i++ {
			if _, err := AddToken(tx, admin, 100, TokenConfig{LocalAsset: types.AssetID{byte(i + 1)}, MaxAmount: 1}); err != nil {
				return err
			}
		}
		_, err = AddToken(tx, admin, 100, TokenConfig{LocalAsset: types.AssetID{0xff}, MaxAmount: 1})
		require.True(t, errors.Is(err, codes.ErrTooManyTokens), "got %v", err)
		_, err = AddToken(tx, admin, 101, TokenConfig{LocalAsset: types.AssetID{1}, MinAmount: 2, MaxAmount: 1})
		require.True(t, errors.Is(err, codes.ErrInvalidAmount), "got %v", err)
		_, err = AddToken(tx, admin, 101, TokenConfig{LocalAsset: types.AssetID{1}, MaxAmount: 1})
		require.NoError(t, err)
		_, err = AddToken(tx, admin, 101, TokenConfig{LocalAsset: types.AssetID{1}, MaxAmount: 1})
		require.True(t, errors.Is(err, codes.ErrTokenAlreadySupported), "got %v", err)
		_, err = AddToken(tx, admin, 999, TokenConfig{LocalAsset: types.AssetID{1}, MaxAmount: 1})
		require.True(t, errors.Is(err, codes.ErrChainNotSupported), "got %v", err)
		_, err = AddChain(tx, user, types.ChainID(7))
		require.True(t, errors.Is(err, codes.ErrUnauthorized), "got %v", err)
		return nil
	})
	require.NoError(t, err)
}

func TestLookup(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.View(func(tx *store.Txn) error {
		c, err := Load(tx)
		require.NoError(t, err)
		_, tc, err := c.Lookup(types.ChainEthereum, localAsset)
		require.NoError(t, err)
		require.Equal(t, ethAsset, tc.RemoteAsset)

		_, tc, err = c.LookupRemote(types.ChainEthereum, ethAsset)
		require.NoError(t, err)
		require.Equal(t, localAsset, tc.LocalAsset)

		_, _, err = c.Lookup(types.ChainBase, localAsset)
		require.True(t, errors.Is(err, codes.ErrChainNotSupported))
		_, _, err = c.Lookup(types.ChainEthereum, types.AssetID{0x99})
		require.True(t, errors.Is(err, codes.ErrTokenNotSupported))
		return nil
	}))
}

func TestInitializeTwice(t *testing.T) {
	f := newFixture(t)
	err := f.db.Update(func(tx *store.Txn) error {
		_, err := Initialize(tx, admin, Settings{Treasury: treasury})
		return err
	})
	require.True(t, errors.Is(err, codes.ErrBridgeAlreadyInitialized), "got %v", err)

	err = f.db.Update(func(tx *store.Txn) error {
		fee := uint16(10_001)
		_, err := UpdateConfig(tx, admin, ConfigUpdate{FeeBasisPoints: &fee})
		return err
	})
	require.True(t, errors.Is(err, codes.ErrInvalidFee), "got %v", err)
}

func TestInitiate(t *testing.T) {
	f := newFixture(t)
	c := commitment(t)
	r, err := f.initiate(InitiateRequest{
		Asset: localAsset, Amount: 10_000, DestChain: types.ChainEthereum,
		DestAddress: types.Hash{0xde}, Commitment: c, Nonce: 7,
	})
	require.NoError(t, err)

	// 10 bp of 10_000 is 10.
	require.Equal(t, uint64(10), r.Fee)
	require.Equal(t, uint64(9_990), r.Transfer.Amount)
	require.Equal(t, uint64(0), r.Transfer.Sequence)
	require.Equal(t, StatusPending, r.Transfer.Status)
	require.Equal(t, uint64(0), r.LeafIndex)

	require.Equal(t, uint64(90_000), f.balance(t, user))
	require.Equal(t, uint64(9_990), f.balance(t, VaultAddress()))
	require.Equal(t, uint64(10), f.balance(t, treasury))

	require.Len(t, f.pub.sent, 1)
	sent := f.pub.sent[0]
	require.Equal(t, uint32(7), sent.nonce)
	require.Equal(t, FinalityFinalized, sent.finality)
	p, err := DecodePayload(sent.payload)
	require.NoError(t, err)
	require.Equal(t, uint64(9_990), p.NetAmount)
	require.Equal(t, types.ChainSolana, p.SourceChain)
	require.Equal(t, types.ChainEthereum, p.DestChain)
	require.Equal(t, c, p.Commitment)

	require.NoError(t, f.db.View(func(tx *store.Txn) error {
		got, err := LoadTransfer(tx, 0)
		require.NoError(t, err)
		require.Equal(t, c, got.Commitment)
		require.Equal(t, ethAsset, got.RemoteAsset)
		return nil
	}))

	r2, err := f.initiate(InitiateRequest{Asset: localAsset, Amount: 1_000, DestChain: types.ChainEthereum, Commitment: commitment(t)})
	require.NoError(t, err)
	require.Equal(t, uint64(1), r2.Transfer.Sequence)
	require.Equal(t, uint64(1), r2.LeafIndex)
}

func TestInitiateRejectsBeforeMovingFunds(t *testing.T) {
	f := newFixture(t)
	c := commitment(t)
	cases := []struct {
		name string
		req  InitiateRequest
		want error
	}{
		{"below min", InitiateRequest{Asset: localAsset, Amount: 999, DestChain: types.ChainEthereum, Commitment: c}, codes.ErrInvalidAmount},
		{"above max", InitiateRequest{Asset: localAsset, Amount: 1_000_001, DestChain: types.ChainEthereum, Commitment: c}, codes.ErrInvalidAmount},
		{"unknown chain", InitiateRequest{Asset: localAsset, Amount: 5_000, DestChain: types.ChainBase, Commitment: c}, codes.ErrChainNotSupported},
		{"unknown token", InitiateRequest{Asset: types.AssetID{0x99}, Amount: 5_000, DestChain: types.ChainEthereum, Commitment: c}, codes.ErrTokenNotSupported},
		{"bad commitment", InitiateRequest{Asset: localAsset, Amount: 5_000, DestChain: types.ChainEthereum}, codes.ErrInvalidCommitment},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.initiate(tc.req)
			require.True(t, errors.Is(err, tc.want), "got %v", err)
			require.Equal(t, uint64(100_000), f.balance(t, user))
			require.Zero(t, f.balance(t, VaultAddress()))
		})
	}
	require.Empty(t, f.pub.sent)

	t.Run("disabled token", func(t *testing.T) {
		require.NoError(t, f.db.Update(func(tx *store.Txn) error {
			_, err := SetTokenEnabled(tx, admin, types.ChainEthereum, localAsset, false)
			return err
		}))
		_, err := f.initiate(InitiateRequest{Asset: localAsset, Amount: 5_000, DestChain: types.ChainEthereum, Commitment: c})
		require.True(t, errors.Is(err, codes.ErrTokenNotEnabled), "got %v", err)
	})
	t.Run("paused", func(t *testing.T) {
		require.NoError(t, f.db.Update(func(tx *store.Txn) error {
			_, err := SetPaused(tx, admin, true)
			return err
		}))
		_, err := f.initiate(InitiateRequest{Asset: localAsset, Amount: 5_000, DestChain: types.ChainEthereum, Commitment: c})
		require.True(t, errors.Is(err, codes.ErrBridgePaused), "got %v", err)
	})
}

func TestInitiatePublishFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("transport down")
	_, err := f.initiate(InitiateRequest{Asset: localAsset, Amount: 5_000, DestChain: types.ChainEthereum, Commitment: commitment(t)})
	require.Error(t, err)
	require.Equal(t, uint64(100_000), f.balance(t, user))
	require.Zero(t, f.balance(t, treasury))
}

// inbound builds a message from Ethereum carrying a transfer of net units.
func inbound(t *testing.T, net uint64, digest byte) (Inbound, types.Hash) {
	t.Helper()
	c := commitment(t)
	p := Payload{
		NetAmount:   net,
		Asset:       ethAsset,
		SourceChain: types.ChainEthereum,
		DestChain:   types.ChainSolana,
		Commitment:  c,
	}
	return Inbound{
		EmitterChain:   types.ChainEthereum,
		EmitterAddress: ethEmitter,
		Sequence:       uint64(digest),
		Payload:        p.Encode(),
		Digest:         types.Hash{digest},
	}, c
}

func (f *fixture) createPool(t *testing.T, denomination uint64) store.Key {
	t.Helper()
	var id store.Key
	require.NoError(t, f.db.Update(func(tx *store.Txn) error {
		p, err := pool.Initialize(tx, admin, pool.Params{Denomination: denomination, TreeDepth: 10, Asset: localAsset, VerifyingKey: testVK}, 1)
		if err != nil {
			return err
		}
		id = p.ID
		return nil
	}))
	return id
}

func (f *fixture) process(msg Inbound, handle store.Key) (*InboundReceipt, error) {
	var r *InboundReceipt
	err := f.db.Update(func(tx *store.Txn) error {
		var err error
		r, err = f.relay.ProcessInbound(tx, msg, handle, 9)
		return err
	})
	return r, err
}

func TestProcessInbound(t *testing.T) {
	f := newFixture(t)
	id := f.createPool(t, 5_000)
	msg, c := inbound(t, 5_000, 1)
	handle := EmitterKey(msg.EmitterChain, msg.EmitterAddress)

	r, err := f.process(msg, handle)
	require.NoError(t, err)
	require.Equal(t, id, r.Pool)
	require.Equal(t, uint64(0), r.LeafIndex)
	require.Equal(t, c, r.Commitment)

	require.NoError(t, f.db.View(func(tx *store.Txn) error {
		p, err := pool.Load(tx, id)
		require.NoError(t, err)
		require.Equal(t, uint64(1), p.BridgedCount)
		require.Zero(t, p.TotalDeposited)
		tree, err := pool.Tree(tx, p)
		require.NoError(t, err)
		require.True(t, tree.IsKnownRoot(r.Root))
		ok, err := IsProcessed(tx, msg.Digest)
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	}))

	// Every replay is rejected, starting with the very next call.
	for i := 0; i < 3; i++ {
		_, err = f.process(msg, handle)
		require.True(t, errors.Is(err, codes.ErrMessageAlreadyProcessed), "got %v", err)
	}
}

func TestProcessInboundRejects(t *testing.T) {
	f := newFixture(t)
	f.createPool(t, 5_000)

	t.Run("handle mismatch", func(t *testing.T) {
		msg, _ := inbound(t, 5_000, 2)
		_, err := f.process(msg, EmitterKey(types.ChainBase, ethEmitter))
		require.True(t, errors.Is(err, codes.ErrInvalidExternalEmitter), "got %v", err)
	})
	t.Run("unknown emitter", func(t *testing.T) {
		msg, _ := inbound(t, 5_000, 3)
		msg.EmitterAddress = types.Hash{0x66}
		_, err := f.process(msg, EmitterKey(msg.EmitterChain, msg.EmitterAddress))
		require.True(t, errors.Is(err, codes.ErrInvalidExternalEmitter), "got %v", err)
	})
	t.Run("short payload", func(t *testing.T) {
		msg, _ := inbound(t, 5_000, 4)
		msg.Payload = msg.Payload[:100]
		_, err := f.process(msg, EmitterKey(msg.EmitterChain, msg.EmitterAddress))
		require.True(t, errors.Is(err, codes.ErrInvalidMessage), "got %v", err)
	})
	t.Run("wrong destination", func(t *testing.T) {
		msg, _ := inbound(t, 5_000, 5)
		msg.Payload[44] = byte(types.ChainBase)
		_, err := f.process(msg, EmitterKey(msg.EmitterChain, msg.EmitterAddress))
		require.True(t, errors.Is(err, codes.ErrInvalidMessage), "got %v", err)
	})
	t.Run("source differs from emitter chain", func(t *testing.T) {
		msg, _ := inbound(t, 5_000, 6)
		msg.Payload[42] = byte(types.ChainBase)
		_, err := f.process(msg, EmitterKey(msg.EmitterChain, msg.EmitterAddress))
		require.True(t, errors.Is(err, codes.ErrInvalidMessage), "got %v", err)
	})
	t.Run("no pool for amount", func(t *testing.T) {
		msg, _ := inbound(t, 4_321, 7)
		_, err := f.process(msg, EmitterKey(msg.EmitterChain, msg.EmitterAddress))
		require.True(t, errors.Is(err, codes.ErrPoolNotFound), "got %v", err)

		// The replay marker was rolled back with everything else.
		require.NoError(t, f.db.View(func(tx *store.Txn) error {
			ok, err := IsProcessed(tx, msg.Digest)
			require.False(t, ok)
			return err
		}))
	})
	t.Run("inactive emitter", func(t *testing.T) {
		require.NoError(t, f.db.Update(func(tx *store.Txn) error {
			_, err := SetEmitterActive(tx, admin, types.ChainEthereum, ethEmitter, false, 8)
			return err
		}))
		msg, _ := inbound(t, 5_000, 8)
		_, err := f.process(msg, EmitterKey(msg.EmitterChain, msg.EmitterAddress))
		require.True(t, errors.Is(err, codes.ErrInvalidExternalEmitter), "got %v", err)

		// Registering again reactivates it.
		require.NoError(t, f.db.Update(func(tx *store.Txn) error {
			_, err := RegisterEmitter(tx, admin, types.ChainEthereum, ethEmitter, 9)
			return err
		}))
		_, err = f.process(msg, EmitterKey(msg.EmitterChain, msg.EmitterAddress))
		require.NoError(t, err)
	})
}

func TestTransferStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.initiate(InitiateRequest{Asset: localAsset, Amount: 5_000, DestChain: types.ChainEthereum, Commitment: commitment(t)})
	require.NoError(t, err)

	set := func(caller types.Address, seq uint64, s Status) error {
		return f.db.Update(func(tx *store.Txn) error {
			_, err := SetTransferStatus(tx, caller, seq, s)
			return err
		})
	}
	require.True(t, errors.Is(set(user, 0, StatusCompleted), codes.ErrUnauthorized))
	require.True(t, errors.Is(set(admin, 9, StatusCompleted), codes.ErrTransferNotFound))
	require.True(t, errors.Is(set(admin, 0, StatusPending), codes.ErrInvalidMessage))
	require.NoError(t, set(admin, 0, StatusCompleted))
	require.True(t, errors.Is(set(admin, 0, StatusFailed), codes.ErrTransferAlreadyFinalized))

	s, err := ParseStatus("failed")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, s)
}
