package program

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/solveil/veil/internal/accumulator"
	"github.com/solveil/veil/internal/bridge"
	"github.com/solveil/veil/internal/codes"
	"github.com/solveil/veil/internal/events"
	"github.com/solveil/veil/internal/pool"
	"github.com/solveil/veil/internal/proofgate"
	"github.com/solveil/veil/internal/shielded"
	"github.com/solveil/veil/internal/store"
	"github.com/solveil/veil/internal/types"
)

type okVerifier struct{}

func (okVerifier) Verify(proof, _ []byte, _ proofgate.PublicInputs) error {
	if string(proof) != "ok" {
		return errors.Wrap(codes.ErrInvalidProof, "stub")
	}
	return nil
}

type countingObserver struct {
	mu    sync.Mutex
	calls map[string]int
	fails map[string]int
}

func (o *countingObserver) Observe(op string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[op]++
	if err != nil {
		o.fails[codes.CodeOf(err)]++
	}
}

type seqPublisher struct{ next uint64 }

func (p *seqPublisher) Publish(context.Context, []byte, uint32, uint8) (uint64, error) {
	s := p.next
	p.next++
	return s, nil
}

var (
	admin = types.Address{0xad}
	user  = types.Address{0x01}
	asset = types.AssetID{0x05}
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
	prog *Program
	rec  *events.Recorder
	obs  *countingObserver
	pool *pool.Pool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		rec: &events.Recorder{},
		obs: &countingObserver{calls: map[string]int{}, fails: map[string]int{}},
	}
	f.prog = New(db,
		WithSink(f.rec),
		WithObserver(f.obs),
		WithVerifier(okVerifier{}),
		WithPublisher(&seqPublisher{}),
		WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }),
	)
	ctx := context.Background()
	f.pool, err = f.prog.CreatePool(ctx, admin, pool.Params{Denomination: 1000, TreeDepth: 10, Asset: asset, VerifyingKey: testVK})
	require.NoError(t, err)
	require.NoError(t, f.prog.Mint(ctx, asset, user, 10_000))
	return f
}

func note(t *testing.T) *shielded.Note {
	t.Helper()
	n, err := shielded.NewNote()
	require.NoError(t, err)
	return n
}

func TestEventsFollowCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n := note(t)
	r, err := f.prog.Deposit(ctx, user, f.pool.ID, n.Commitment())
	require.NoError(t, err)

	deps := f.rec.OfType(events.TypeDeposit)
	require.Len(t, deps, 1)
	d := deps[0].Data.(events.Deposit)
	require.Equal(t, n.Commitment(), d.Commitment)
	require.Equal(t, r.Root, d.Root)
	require.Equal(t, int64(1_700_000_000), d.Timestamp)
	require.Equal(t, time.Unix(1_700_000_000, 0), deps[0].Time)

	// A rejected call leaves no event behind.
	_, err = f.prog.Deposit(ctx, user, f.pool.ID, types.Hash{})
	require.True(t, errors.Is(err, codes.ErrInvalidCommitment))
	require.Len(t, f.rec.OfType(events.TypeDeposit), 1)

	require.Equal(t, 2, f.obs.calls["deposit"])
	require.Equal(t, 1, f.obs.fails["InvalidCommitment"])
	require.Len(t, f.rec.OfType(events.TypePoolInitialized), 1)
}

func TestDepositWithdrawThroughProgram(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	relayerAddr := types.Address{0x0e}
	_, err := f.prog.RegisterRelayer(ctx, relayerAddr, 20)
	require.NoError(t, err)

	n := note(t)
	r, err := f.prog.Deposit(ctx, user, f.pool.ID, n.Commitment())
	require.NoError(t, err)

	path, root, err := f.prog.Path(f.pool.ID, r.LeafIndex)
	require.NoError(t, err)
	require.Equal(t, r.Root, root)
	require.Equal(t, root, path.Root(n.Commitment()))

	recipient := types.Address{0x0c}
	req := pool.WithdrawRequest{
		Proof:         []byte("ok"),
		Root:          root,
		NullifierHash: n.NullifierHash(),
		Recipient:     recipient,
		Relayer:       relayerAddr,
		Fee:           20,
	}
	w, err := f.prog.Withdraw(ctx, f.pool.ID, req)
	require.NoError(t, err)
	require.Equal(t, uint64(980), w.Amount)

	_, err = f.prog.Withdraw(ctx, f.pool.ID, req)
	require.True(t, errors.Is(err, codes.ErrNullifierAlreadySpent), "got %v", err)

	bal, err := f.prog.Balance(asset, recipient)
	require.NoError(t, err)
	require.Equal(t, uint64(980), bal)
	bal, err = f.prog.Balance(asset, relayerAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(20), bal)

	spent, err := f.prog.IsSpent(f.pool.ID, n.NullifierHash())
	require.NoError(t, err)
	require.True(t, spent)
	rec, err := f.prog.Nullifier(f.pool.ID, n.NullifierHash())
	require.NoError(t, err)
	require.Equal(t, recipient, rec.Recipient)

	rel, err := f.prog.Relayer(relayerAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(1), rel.TotalProcessed)
	require.Equal(t, uint64(20), rel.TotalFees)

	require.Len(t, f.rec.OfType(events.TypeWithdrawal), 1)
}

func TestLeavesAreBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.prog.Deposit(ctx, user, f.pool.ID, note(t).Commitment())
		require.NoError(t, err)
	}
	leaves, err := f.prog.Leaves(f.pool.ID, 1, 10_000)
	require.NoError(t, err)
	require.Len(t, leaves, 2)
	require.Equal(t, uint64(1), leaves[0].Index)

	_, _, err = f.prog.Path(f.pool.ID, 3)
	require.Error(t, err)
}

func TestBridgeRoundTripBetweenPrograms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.prog.InitializeBridge(ctx, admin, bridge.Settings{
		Treasury: types.Address{0x7e}, LocalChain: types.ChainSolana, OutboundDepth: 10,
	})
	require.NoError(t, err)
	require.NoError(t, f.prog.AddChain(ctx, admin, types.ChainEthereum))
	remote := types.AssetID{0xee}
	require.NoError(t, f.prog.AddToken(ctx, admin, types.ChainEthereum, bridge.TokenConfig{
		LocalAsset: asset, RemoteAsset: remote, MinAmount: 1, MaxAmount: 5000, Enabled: true,
	}))
	emitter := types.Hash{0xe0}
	_, err = f.prog.RegisterEmitter(ctx, admin, types.ChainEthereum, emitter)
	require.NoError(t, err)

	out, err := f.prog.InitiateTransfer(ctx, user, bridge.InitiateRequest{
		Asset: asset, Amount: 1000, DestChain: types.ChainEthereum, Commitment: note(t).Commitment(),
	})
	require.NoError(t, err)
	require.Equal(t, uint64(0), out.Transfer.Sequence)
	tr, err := f.prog.TransferRecord(0)
	require.NoError(t, err)
	require.Equal(t, bridge.StatusPending, tr.Status)
	_, err = f.prog.SetTransferStatus(ctx, admin, 0, bridge.StatusCompleted)
	require.NoError(t, err)

	// Inbound from the Ethereum side lands in the 1000 pool.
	c := note(t).Commitment()
	payload := bridge.Payload{NetAmount: 1000, Asset: remote, SourceChain: types.ChainEthereum, DestChain: types.ChainSolana, Commitment: c}
	msg := bridge.Inbound{EmitterChain: types.ChainEthereum, EmitterAddress: emitter, Payload: payload.Encode(), Digest: types.Hash{0xd1}}
	in, err := f.prog.ProcessInbound(ctx, msg, bridge.EmitterKey(types.ChainEthereum, emitter))
	require.NoError(t, err)
	require.Equal(t, f.pool.ID, in.Pool)

	_, err = f.prog.ProcessInbound(ctx, msg, bridge.EmitterKey(types.ChainEthereum, emitter))
	require.True(t, errors.Is(err, codes.ErrMessageAlreadyProcessed), "got %v", err)
	ok, err := f.prog.IsProcessed(msg.Digest)
	require.NoError(t, err)
	require.True(t, ok)

	for _, typ := range []events.Type{
		events.TypeBridgeInitialized, events.TypeChainAdded, events.TypeTokenAdded,
		events.TypeEmitterRegistered, events.TypeTransferInitiated,
		events.TypeTransferStatusChanged, events.TypeIncomingTransfer,
	} {
		require.Len(t, f.rec.OfType(typ), 1, typ)
	}

	_, err = f.prog.SetBridgePaused(ctx, admin, true)
	require.NoError(t, err)
	cfg, err := f.prog.BridgeConfig()
	require.NoError(t, err)
	require.True(t, cfg.Paused)
}
