package program

import (
	"context"

	"github.com/pkg/errors"

	"github.com/solveil/veil/internal/accumulator"
	"github.com/solveil/veil/internal/codes"
	"github.com/solveil/veil/internal/events"
	"github.com/solveil/veil/internal/nullifier"
	"github.com/solveil/veil/internal/pool"
	"github.com/solveil/veil/internal/relayer"
	"github.com/solveil/veil/internal/store"
	"github.com/solveil/veil/internal/types"
)

// MaxLeavesPerRead bounds one Leaves call.
const MaxLeavesPerRead = 1024

// CreatePool initializes the pool for params with caller as its authority.
func (p *Program) CreatePool(ctx context.Context, caller types.Address, params pool.Params) (*pool.Pool, error) {
	var out *pool.Pool
	err := p.exec(ctx, "create_pool", func(u *unit) error {
		pl, err := pool.Initialize(u.tx, caller, params, u.ts())
		if err != nil {
			return err
		}
		out = pl
		u.emit(events.TypePoolInitialized, events.PoolInitialized{
			Pool:         pl.ID,
			Authority:    caller,
			Denomination: pl.Denomination,
			Asset:        pl.Asset,
			TreeDepth:    pl.Depth,
		})
		return nil
	})
	return out, err
}

// UpdatePool changes a pool's fee cap, minimum or active flag.
func (p *Program) UpdatePool(ctx context.Context, caller types.Address, id store.Key, upd pool.ConfigUpdate) (*pool.Pool, error) {
	var out *pool.Pool
	err := p.exec(ctx, "update_pool", func(u *unit) error {
		pl, err := pool.UpdateConfig(u.tx, caller, id, upd)
		if err != nil {
			return err
		}
		out = pl
		u.emit(events.TypePoolUpdated, events.PoolUpdated{
			Pool:                pl.ID,
			MaxFeeBasisPoints:   pl.MaxFeeBasisPoints,
			MinWithdrawalAmount: pl.MinWithdrawalAmount,
			Active:              pl.Active,
		})
		return nil
	})
	return out, err
}

// Deposit locks one denomination from caller under commitment.
func (p *Program) Deposit(ctx context.Context, caller types.Address, id store.Key, commitment types.Hash) (*pool.DepositReceipt, error) {
	var out *pool.DepositReceipt
	err := p.exec(ctx, "deposit", func(u *unit) error {
		r, err := p.pools.Deposit(u.tx, caller, id, commitment, u.ts())
		if err != nil {
			return err
		}
		out = r
		u.emit(events.TypeDeposit, events.Deposit{
			Pool:       r.Pool,
			Commitment: r.Commitment,
			LeafIndex:  r.LeafIndex,
			Root:       r.Root,
			Amount:     r.Amount,
			Timestamp:  r.Timestamp,
		})
		return nil
	})
	return out, err
}

// Withdraw pays out one denomination against a proof.
func (p *Program) Withdraw(ctx context.Context, id store.Key, req pool.WithdrawRequest) (*pool.WithdrawReceipt, error) {
	var out *pool.WithdrawReceipt
	err := p.exec(ctx, "withdraw", func(u *unit) error {
		r, err := p.pools.Withdraw(u.tx, id, req, u.ts())
		if err != nil {
			return err
		}
		out = r
		u.emit(events.TypeWithdrawal, events.Withdrawal{
			Pool:          r.Pool,
			NullifierHash: r.NullifierHash,
			Recipient:     r.Recipient,
			Relayer:       r.Relayer,
			Amount:        r.Amount,
			Fee:           r.Fee,
			Timestamp:     r.Timestamp,
		})
		return nil
	})
	return out, err
}

// RegisterRelayer registers caller as a relayer charging feeBP.
func (p *Program) RegisterRelayer(ctx context.Context, caller types.Address, feeBP uint16) (*relayer.Relayer, error) {
	var out *relayer.Relayer
	err := p.exec(ctx, "register_relayer", func(u *unit) error {
		r, err := relayer.Register(u.tx, caller, feeBP, u.ts())
		if err != nil {
			return err
		}
		out = r
		u.emit(events.TypeRelayerRegistered, events.Relayer{Relayer: caller, FeeBasisPoints: r.FeeBasisPoints, Active: r.Active})
		return nil
	})
	return out, err
}

// UpdateRelayer changes caller's own relayer record.
func (p *Program) UpdateRelayer(ctx context.Context, caller types.Address, feeBP *uint16, active *bool) (*relayer.Relayer, error) {
	var out *relayer.Relayer
	err := p.exec(ctx, "update_relayer", func(u *unit) error {
		r, err := relayer.Update(u.tx, caller, feeBP, active)
		if err != nil {
			return err
		}
		out = r
		u.emit(events.TypeRelayerUpdated, events.Relayer{Relayer: caller, FeeBasisPoints: r.FeeBasisPoints, Active: r.Active})
		return nil
	})
	return out, err
}

// Mint credits amount of asset to owner. It backs genesis balances and the
// development faucet; it is not reachable from the public API unless the
// faucet is enabled.
func (p *Program) Mint(ctx context.Context, asset types.AssetID, owner types.Address, amount uint64) error {
	return p.exec(ctx, "mint", func(u *unit) error {
		return p.ledger.Mint(u.tx, asset, owner, amount)
	})
}

// Pool returns the pool at id.
func (p *Program) Pool(id store.Key) (*pool.Pool, error) {
	var out *pool.Pool
	err := p.view(func(tx *store.Txn) error {
		var err error
		out, err = pool.Load(tx, id)
		return err
	})
	return out, err
}

// Tree returns the accumulator of the pool at id.
func (p *Program) Tree(id store.Key) (*accumulator.Tree, error) {
	var out *accumulator.Tree
	err := p.view(func(tx *store.Txn) error {
		pl, err := pool.Load(tx, id)
		if err != nil {
			return err
		}
		out, err = pool.Tree(tx, pl)
		return err
	})
	return out, err
}

// Leaves returns the pool's leaves [from, to), at most MaxLeavesPerRead.
func (p *Program) Leaves(id store.Key, from, to uint64) ([]accumulator.Leaf, error) {
	if to > from && to-from > MaxLeavesPerRead {
		to = from + MaxLeavesPerRead
	}
	var out []accumulator.Leaf
	err := p.view(func(tx *store.Txn) error {
		pl, err := pool.Load(tx, id)
		if err != nil {
			return err
		}
		out, err = accumulator.Leaves(tx, pl.Tree, from, to)
		return err
	})
	return out, err
}

// Path rebuilds the authentication path of leaf index against the pool's
// current root.
func (p *Program) Path(id store.Key, index uint64) (accumulator.Path, types.Hash, error) {
	var (
		path accumulator.Path
		root types.Hash
	)
	err := p.view(func(tx *store.Txn) error {
		pl, err := pool.Load(tx, id)
		if err != nil {
			return err
		}
		tree, err := pool.Tree(tx, pl)
		if err != nil {
			return err
		}
		if index >= tree.LeafCount {
			return errors.Wrapf(codes.ErrInvalidCommitment, "leaf %d of %d", index, tree.LeafCount)
		}
		leaves, err := accumulator.Leaves(tx, pl.Tree, 0, tree.LeafCount)
		if err != nil {
			return err
		}
		hashes := make([]types.Hash, len(leaves))
		for i, l := range leaves {
			hashes[i] = l.Commitment
		}
		path, err = accumulator.BuildPath(tree.Depth, hashes, index)
		root = tree.Root
		return err
	})
	return path, root, err
}

// IsSpent reports whether hash has been spent in the pool at id.
func (p *Program) IsSpent(id store.Key, hash types.Hash) (bool, error) {
	var ok bool
	err := p.view(func(tx *store.Txn) error {
		var err error
		ok, err = nullifier.Contains(tx, id, hash)
		return err
	})
	return ok, err
}

// Nullifier returns the spent record of hash, or nil.
func (p *Program) Nullifier(id store.Key, hash types.Hash) (*nullifier.Record, error) {
	var out *nullifier.Record
	err := p.view(func(tx *store.Txn) error {
		var err error
		out, err = nullifier.Get(tx, id, hash)
		return err
	})
	return out, err
}

// Relayer returns the relayer at addr.
func (p *Program) Relayer(addr types.Address) (*relayer.Relayer, error) {
	var out *relayer.Relayer
	err := p.view(func(tx *store.Txn) error {
		var err error
		out, err = relayer.Load(tx, addr)
		return err
	})
	return out, err
}

// Balance returns owner's balance of asset.
func (p *Program) Balance(asset types.AssetID, owner types.Address) (uint64, error) {
	var out uint64
	err := p.view(func(tx *store.Txn) error {
		var err error
		out, err = p.ledger.BalanceOf(tx, asset, owner)
		return err
	})
	return out, err
}
