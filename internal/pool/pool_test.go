package pool

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/solveil/veil/internal/accumulator"
	"github.com/solveil/veil/internal/codes"
	"github.com/solveil/veil/internal/nullifier"
	"github.com/solveil/veil/internal/proofgate"
	"github.com/solveil/veil/internal/relayer"
	"github.com/solveil/veil/internal/shielded"
	"github.com/solveil/veil/internal/store"
	"github.com/solveil/veil/internal/token"
	"github.com/solveil/veil/internal/types"
)

// stubVerifier accepts any proof equal to "ok".
type stubVerifier struct {
	mu    sync.Mutex
	calls []proofgate.PublicInputs
}

func (v *stubVerifier) Verify(proof, _ []byte, in proofgate.PublicInputs) error {
	v.mu.Lock()
	v.calls = append(v.calls, in)
	v.mu.Unlock()
	if string(proof) != "ok" {
		return errors.Wrap(codes.ErrInvalidProof, "stub")
	}
	return nil
}

var testVK []byte

func init() {
	// A real key is needed only so Initialize can parse it; one setup per
	// package run is enough.
	p, err := proofgate.NewProver(accumulator.MinDepth, "")
	if err != nil {
		panic(err)
	}
	testVK = p.VerifyingKey
}

type fixture struct {
	db       *store.DB
	svc      *Service
	verifier *stubVerifier
	ledger   token.Ledger
	pool     *Pool
	user     types.Address
}

var (
	authority = types.Address{0xa0}
	asset     = types.AssetID{0x05}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{db: db, verifier: &stubVerifier{}, user: types.Address{0x01}}
	f.svc = &Service{Tokens: f.ledger, Verifier: f.verifier}
	require.NoError(t, db.Update(func(tx *store.Txn) error {
		p, err := Initialize(tx, authority, Params{Denomination: 1000, TreeDepth: 10, Asset: asset, VerifyingKey: testVK}, 1)
		f.pool = p
		if err != nil {
			return err
		}
		return f.ledger.Mint(tx, asset, f.user, 10_000)
	}))
	return f
}

func (f *fixture) balance(t *testing.T, who types.Address) uint64 {
	t.Helper()
	var b uint64
	require.NoError(t, f.db.View(func(tx *store.Txn) error {
		var err error
		b, err = f.ledger.BalanceOf(tx, asset, who)
		return err
	}))
	return b
}

func (f *fixture) deposit(t *testing.T) (*DepositReceipt, *shielded.Note) {
	t.Helper()
	n, err := shielded.NewNote()
	require.NoError(t, err)
	var r *DepositReceipt
	require.NoError(t, f.db.Update(func(tx *store.Txn) error {
		r, err = f.svc.Deposit(tx, f.user, f.pool.ID, n.Commitment(), 10)
		return err
	}))
	return r, n
}

func (f *fixture) withdraw(req WithdrawRequest) (*WithdrawReceipt, error) {
	var r *WithdrawReceipt
	err := f.db.Update(func(tx *store.Txn) error {
		var err error
		r, err = f.svc.Withdraw(tx, f.pool.ID, req, 20)
		return err
	})
	return r, err
}

func (f *fixture) loadPool(t *testing.T) *Pool {
	t.Helper()
	var p *Pool
	require.NoError(t, f.db.View(func(tx *store.Txn) error {
		var err error
		p, err = Load(tx, f.pool.ID)
		return err
	}))
	return p
}

func TestInitialize(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, uint16(DefaultMaxFeeBasisPoints), f.pool.MaxFeeBasisPoints)
	require.Equal(t, uint64(100), f.pool.MinWithdrawalAmount)
	require.True(t, f.pool.Active)
	require.Equal(t, Key(1000, asset), f.pool.ID)

	cases := []struct {
		name   string
		params Params
		want   error
	}{
		{"zero denomination", Params{Denomination: 0, TreeDepth: 10, VerifyingKey: testVK}, codes.ErrInvalidDenomination},
		{"shallow tree", Params{Denomination: 5, TreeDepth: 9, VerifyingKey: testVK}, codes.ErrInvalidTreeDepth},
		{"deep tree", Params{Denomination: 5, TreeDepth: 33, VerifyingKey: testVK}, codes.ErrInvalidTreeDepth},
		{"garbage key", Params{Denomination: 5, TreeDepth: 10, VerifyingKey: []byte{1}}, codes.ErrInvalidVerifyingKey},
		{"duplicate", Params{Denomination: 1000, TreeDepth: 12, Asset: asset, VerifyingKey: testVK}, codes.ErrPoolAlreadyExists},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := f.db.Update(func(tx *store.Txn) error {
				_, err := Initialize(tx, authority, c.params, 2)
				return err
			})
			require.ErrorIs(t, err, c.want)
		})
	}
}

func TestUpdateConfig(t *testing.T) {
	f := newFixture(t)
	update := func(caller types.Address, upd ConfigUpdate) error {
		return f.db.Update(func(tx *store.Txn) error {
			_, err := UpdateConfig(tx, caller, f.pool.ID, upd)
			return err
		})
	}
	fee, tooHigh := uint16(500), uint16(501)
	minAmount, aboveDenom := uint64(0), uint64(1001)
	off := false

	require.ErrorIs(t, update(types.Address{0x99}, ConfigUpdate{MaxFeeBasisPoints: &fee}), codes.ErrUnauthorized)
	require.ErrorIs(t, update(authority, ConfigUpdate{MaxFeeBasisPoints: &tooHigh}), codes.ErrFeeTooHigh)
	require.ErrorIs(t, update(authority, ConfigUpdate{MinWithdrawalAmount: &aboveDenom}), codes.ErrInvalidDenomination)
	require.NoError(t, update(authority, ConfigUpdate{MaxFeeBasisPoints: &fee, MinWithdrawalAmount: &minAmount}))

	p := f.loadPool(t)
	require.Equal(t, fee, p.MaxFeeBasisPoints)
	require.Zero(t, p.MinWithdrawalAmount)

	require.NoError(t, update(authority, ConfigUpdate{Active: &off}))
	n, _ := shielded.NewNote()
	err := f.db.Update(func(tx *store.Txn) error {
		_, err := f.svc.Deposit(tx, f.user, f.pool.ID, n.Commitment(), 3)
		return err
	})
	require.ErrorIs(t, err, codes.ErrPoolInactive)
}

func TestDepositSequence(t *testing.T) {
	f := newFixture(t)
	for i := uint64(0); i < 3; i++ {
		r, _ := f.deposit(t)
		require.Equal(t, i, r.LeafIndex)
		require.Equal(t, uint64(1000), r.Amount)
	}
	p := f.loadPool(t)
	require.Equal(t, uint64(3000), p.TotalDeposited)
	require.Equal(t, uint64(3), p.DepositCount)
	require.Equal(t, uint64(3000), f.balance(t, p.Vault))
	require.Equal(t, uint64(7000), f.balance(t, f.user))

	t.Run("invalid commitments", func(t *testing.T) {
		var max types.Hash
		for i := range max {
			max[i] = 0xff
		}
		for _, c := range []types.Hash{{}, max} {
			err := f.db.Update(func(tx *store.Txn) error {
				_, err := f.svc.Deposit(tx, f.user, f.pool.ID, c, 4)
				return err
			})
			require.ErrorIs(t, err, codes.ErrInvalidCommitment)
		}
	})

	t.Run("insufficient funds", func(t *testing.T) {
		n, _ := shielded.NewNote()
		err := f.db.Update(func(tx *store.Txn) error {
			_, err := f.svc.Deposit(tx, types.Address{0x77}, f.pool.ID, n.Commitment(), 4)
			return err
		})
		require.ErrorIs(t, err, codes.ErrInsufficientFunds)
		require.Equal(t, uint64(3), f.loadPool(t).DepositCount)
	})

	t.Run("unknown pool", func(t *testing.T) {
		n, _ := shielded.NewNote()
		err := f.db.Update(func(tx *store.Txn) error {
			_, err := f.svc.Deposit(tx, f.user, Key(7, asset), n.Commitment(), 4)
			return err
		})
		require.ErrorIs(t, err, codes.ErrPoolNotFound)
	})
}

func TestWithdrawFeeBoundaries(t *testing.T) {
	f := newFixture(t)
	rel := types.Address{0xbe}
	require.NoError(t, f.db.Update(func(tx *store.Txn) error {
		_, err := relayer.Register(tx, rel, 100, 1)
		return err
	}))
	dep, n := f.deposit(t)
	recipient := types.Address{0xcc}

	req := WithdrawRequest{
		Proof:         []byte("ok"),
		Root:          dep.Root,
		NullifierHash: n.NullifierHash(),
		Recipient:     recipient,
		Relayer:       rel,
	}

	t.Run("fee above cap", func(t *testing.T) {
		r := req
		r.Fee = 21
		_, err := f.withdraw(r)
		require.ErrorIs(t, err, codes.ErrFeeTooHigh)
	})
	t.Run("net below minimum", func(t *testing.T) {
		r := req
		r.Fee = 901
		_, err := f.withdraw(r)
		require.ErrorIs(t, err, codes.ErrWithdrawalTooLow)
	})
	t.Run("fee above denomination", func(t *testing.T) {
		r := req
		r.Fee = 1001
		_, err := f.withdraw(r)
		require.ErrorIs(t, err, codes.ErrFeeTooHigh)
	})
	t.Run("fee without relayer", func(t *testing.T) {
		r := req
		r.Fee = 5
		r.Relayer = types.Address{}
		_, err := f.withdraw(r)
		require.ErrorIs(t, err, codes.ErrInvalidFee)
	})
	t.Run("unregistered relayer", func(t *testing.T) {
		r := req
		r.Fee = 5
		r.Relayer = types.Address{0x42}
		_, err := f.withdraw(r)
		require.ErrorIs(t, err, codes.ErrInvalidRelayer)
	})
	t.Run("unknown root", func(t *testing.T) {
		r := req
		r.Root = types.Hash{1}
		_, err := f.withdraw(r)
		require.ErrorIs(t, err, codes.ErrInvalidRoot)
	})
	t.Run("zero recipient", func(t *testing.T) {
		r := req
		r.Recipient = types.Address{}
		_, err := f.withdraw(r)
		require.ErrorIs(t, err, codes.ErrInvalidRecipient)
	})

	require.Zero(t, f.balance(t, recipient), "no failed withdrawal moves funds")

	t.Run("fee at cap", func(t *testing.T) {
		r := req
		r.Fee = 20
		out, err := f.withdraw(r)
		require.NoError(t, err)
		require.Equal(t, uint64(980), out.Amount)
		require.Equal(t, uint64(980), f.balance(t, recipient))
		require.Equal(t, uint64(20), f.balance(t, rel))

		p := f.loadPool(t)
		require.Equal(t, uint64(1000), p.TotalWithdrawn)
		require.Zero(t, f.balance(t, p.Vault))

		require.NoError(t, f.db.View(func(tx *store.Txn) error {
			st, err := relayer.Load(tx, rel)
			require.NoError(t, err)
			require.Equal(t, uint64(980), st.TotalRelayed)
			require.Equal(t, uint64(20), st.TotalFees)
			return nil
		}))
	})

	t.Run("replay", func(t *testing.T) {
		r := req
		r.Fee = 20
		_, err := f.withdraw(r)
		require.ErrorIs(t, err, codes.ErrNullifierAlreadySpent)
		require.Equal(t, uint64(980), f.balance(t, recipient))
	})
}

func TestInvalidProofDoesNotBurnNullifier(t *testing.T) {
	f := newFixture(t)
	dep, n := f.deposit(t)
	req := WithdrawRequest{
		Proof:         []byte("forged"),
		Root:          dep.Root,
		NullifierHash: n.NullifierHash(),
		Recipient:     types.Address{0xcc},
	}
	_, err := f.withdraw(req)
	require.ErrorIs(t, err, codes.ErrInvalidProof)

	require.NoError(t, f.db.View(func(tx *store.Txn) error {
		spent, err := nullifier.Contains(tx, f.pool.ID, n.NullifierHash())
		require.False(t, spent)
		return err
	}))

	req.Proof = []byte("ok")
	out, err := f.withdraw(req)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), out.Amount)

	// The verifier saw the exact public inputs of the request.
	last := f.verifier.calls[len(f.verifier.calls)-1]
	require.Equal(t, req.Root, last.Root)
	require.Equal(t, req.Recipient, last.Recipient)
	require.Zero(t, last.Fee)
}

func TestConcurrentWithdrawalsOneWinner(t *testing.T) {
	f := newFixture(t)
	dep, n := f.deposit(t)
	f.deposit(t) // keep the vault funded beyond one payout

	const racers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.withdraw(WithdrawRequest{
				Proof:         []byte("ok"),
				Root:          dep.Root,
				NullifierHash: n.NullifierHash(),
				Recipient:     types.Address{0xd0, byte(i)},
			})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, codes.ErrNullifierAlreadySpent)
	}
	require.Equal(t, 1, wins)
	require.Equal(t, uint64(1000), f.balance(t, f.loadPool(t).Vault))
}

func TestMirror(t *testing.T) {
	f := newFixture(t)
	f.deposit(t)
	n, _ := shielded.NewNote()
	var r *MirrorReceipt
	require.NoError(t, f.db.Update(func(tx *store.Txn) error {
		var err error
		r, err = Mirror(tx, f.pool.ID, n.Commitment(), 30)
		return err
	}))
	require.Equal(t, uint64(1), r.LeafIndex)
	p := f.loadPool(t)
	require.Equal(t, uint64(1), p.BridgedCount)
	require.Equal(t, uint64(1000), p.TotalDeposited, "mirroring moves no value")
}
