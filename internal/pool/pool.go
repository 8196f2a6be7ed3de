// pool.go - Fixed-denomination shielded pools.
//
// A pool holds one commitment accumulator and one vault account for a
// single (denomination, asset) pair. Deposits lock exactly Denomination in
// the vault; withdrawals pay Denomination out, split between recipient and
// relayer, against a proof over a recent root.

package pool

import (
	"github.com/pkg/errors"

	"github.com/solveil/veil/internal/accumulator"
	"github.com/solveil/veil/internal/codes"
	"github.com/solveil/veil/internal/proofgate"
	"github.com/solveil/veil/internal/store"
	"github.com/solveil/veil/internal/types"
)

const (
	poolKind  = "pool"
	vaultKind = "vault"
	vkKind    = "verifying_key"

	// DefaultMaxFeeBasisPoints is the fee cap a new pool starts with (2%).
	DefaultMaxFeeBasisPoints = 200
	// MaxFeeBasisPoints is the highest cap UpdateConfig accepts (5%).
	MaxFeeBasisPoints = 500
)

// Pool is the persisted pool record.
type Pool struct {
	ID                  store.Key
	Authority           types.Address
	Denomination        uint64
	Asset               types.AssetID
	Depth               uint8
	Tree                store.Key
	VerifyingKey        store.Key
	Vault               types.Address
	Active              bool
	MaxFeeBasisPoints   uint16
	MinWithdrawalAmount uint64
	TotalDeposited      uint64
	TotalWithdrawn      uint64
	DepositCount        uint64
	BridgedCount        uint64
	CreatedAt           int64
}

// Params configure a new pool.
type Params struct {
	Denomination uint64
	TreeDepth    uint8
	Asset        types.AssetID
	VerifyingKey []byte
}

// ConfigUpdate changes pool settings; nil fields are left unchanged.
type ConfigUpdate struct {
	MaxFeeBasisPoints   *uint16
	MinWithdrawalAmount *uint64
	Active              *bool
}

type verifyingKey struct {
	Raw []byte
}

// Key derives the pool key for (denomination, asset).
func Key(denomination uint64, asset types.AssetID) store.Key {
	return store.Derive(poolKind, store.U64(denomination), asset[:])
}

// KeyFromID rebuilds a pool key from its public id.
func KeyFromID(id types.Hash) store.Key { return store.Key{Kind: poolKind, ID: id} }

// VaultAddress is the account holding a pool's deposits.
func VaultAddress(id store.Key) types.Address {
	return store.DeriveAddress(vaultKind, id.ID[:])
}

// Initialize creates the pool for params.
func Initialize(tx *store.Txn, authority types.Address, params Params, now int64) (*Pool, error) {
	if params.Denomination == 0 {
		return nil, errors.Wrap(codes.ErrInvalidDenomination, "denomination must be positive")
	}
	if params.TreeDepth < accumulator.MinDepth || params.TreeDepth > accumulator.MaxDepth {
		return nil, errors.Wrapf(codes.ErrInvalidTreeDepth, "depth %d", params.TreeDepth)
	}
	if _, err := proofgate.ParseVerifyingKey(params.VerifyingKey); err != nil {
		return nil, errors.Wrap(codes.ErrInvalidVerifyingKey, err.Error())
	}

	id := Key(params.Denomination, params.Asset)
	p := &Pool{
		ID:                  id,
		Authority:           authority,
		Denomination:        params.Denomination,
		Asset:               params.Asset,
		Depth:               params.TreeDepth,
		Tree:                accumulator.Key(id),
		VerifyingKey:        store.Derive(vkKind, id.ID[:]),
		Vault:               VaultAddress(id),
		Active:              true,
		MaxFeeBasisPoints:   DefaultMaxFeeBasisPoints,
		MinWithdrawalAmount: params.Denomination / 10,
		CreatedAt:           now,
	}
	if err := tx.Create(id, p); err != nil {
		if errors.Is(err, store.ErrExists) {
			return nil, errors.Wrapf(codes.ErrPoolAlreadyExists, "denomination %d asset %s", params.Denomination, params.Asset)
		}
		return nil, err
	}
	if _, err := accumulator.Create(tx, p.Tree, params.TreeDepth); err != nil {
		return nil, err
	}
	if err := tx.Put(p.VerifyingKey, verifyingKey{Raw: params.VerifyingKey}); err != nil {
		return nil, err
	}
	return p, nil
}

// Load returns the pool at id.
func Load(tx *store.Txn, id store.Key) (*Pool, error) {
	var p Pool
	ok, err := tx.Get(id, &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(codes.ErrPoolNotFound, "pool %s", id)
	}
	return &p, nil
}

func save(tx *store.Txn, p *Pool) error { return tx.Put(p.ID, p) }

// LoadVerifyingKey returns the verifying key blob the pool was created with.
func LoadVerifyingKey(tx *store.Txn, p *Pool) ([]byte, error) {
	var vk verifyingKey
	ok, err := tx.Get(p.VerifyingKey, &vk)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(codes.ErrInternal, "pool %s has no verifying key", p.ID)
	}
	return vk.Raw, nil
}

// UpdateConfig applies upd to the pool. Only the pool authority may call it.
func UpdateConfig(tx *store.Txn, caller types.Address, id store.Key, upd ConfigUpdate) (*Pool, error) {
	p, err := Load(tx, id)
	if err != nil {
		return nil, err
	}
	if caller != p.Authority {
		return nil, errors.Wrapf(codes.ErrUnauthorized, "pool authority is %s", p.Authority)
	}
	if upd.MaxFeeBasisPoints != nil {
		if *upd.MaxFeeBasisPoints > MaxFeeBasisPoints {
			return nil, errors.Wrapf(codes.ErrFeeTooHigh, "fee cap %d bp above %d", *upd.MaxFeeBasisPoints, MaxFeeBasisPoints)
		}
		p.MaxFeeBasisPoints = *upd.MaxFeeBasisPoints
	}
	if upd.MinWithdrawalAmount != nil {
		if *upd.MinWithdrawalAmount > p.Denomination {
			return nil, errors.Wrapf(codes.ErrInvalidDenomination, "minimum %d above denomination %d", *upd.MinWithdrawalAmount, p.Denomination)
		}
		p.MinWithdrawalAmount = *upd.MinWithdrawalAmount
	}
	if upd.Active != nil {
		p.Active = *upd.Active
	}
	return p, save(tx, p)
}

// Tree returns the pool's accumulator.
func Tree(tx *store.Txn, p *Pool) (*accumulator.Tree, error) {
	return accumulator.Load(tx, p.Tree)
}
