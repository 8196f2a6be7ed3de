package pool

import (
	"github.com/pkg/errors"

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

// ProofVerifier checks a withdrawal proof against a verifying key.
type ProofVerifier interface {
	Verify(proof, verifyingKey []byte, in proofgate.PublicInputs) error
}

// Service runs deposits and withdrawals against the token sub-system and
// the proof verifier.
type Service struct {
	Tokens   token.Transferrer
	Verifier ProofVerifier
}

// DepositReceipt describes an accepted deposit.
type DepositReceipt struct {
	Pool       store.Key
	Commitment types.Hash
	LeafIndex  uint64
	Root       types.Hash
	Amount     uint64
	Timestamp  int64
}

// Deposit locks one denomination from caller and appends commitment.
func (s *Service) Deposit(tx *store.Txn, caller types.Address, id store.Key, commitment types.Hash, now int64) (*DepositReceipt, error) {
	p, err := Load(tx, id)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, errors.Wrapf(codes.ErrPoolInactive, "pool %s", id)
	}
	if !shielded.ValidCommitment(commitment) {
		return nil, errors.Wrapf(codes.ErrInvalidCommitment, "commitment %s", commitment)
	}

	if err := s.Tokens.Transfer(tx, p.Asset, caller, p.Vault, p.Denomination); err != nil {
		return nil, err
	}
	index, root, err := accumulator.Insert(tx, p.Tree, commitment, now)
	if err != nil {
		return nil, err
	}

	total, ok := types.CheckedAdd(p.TotalDeposited, p.Denomination)
	if !ok {
		return nil, errors.Wrap(codes.ErrCalculation, "total deposited overflow")
	}
	p.TotalDeposited = total
	p.DepositCount++
	if err := save(tx, p); err != nil {
		return nil, err
	}
	return &DepositReceipt{
		Pool:       id,
		Commitment: commitment,
		LeafIndex:  index,
		Root:       root,
		Amount:     p.Denomination,
		Timestamp:  now,
	}, nil
}

// WithdrawRequest is a proof-backed claim on one denomination.
type WithdrawRequest struct {
	Proof         []byte
	Root          types.Hash
	NullifierHash types.Hash
	Recipient     types.Address
	Relayer       types.Address
	Fee           uint64
}

// WithdrawReceipt describes an accepted withdrawal.
type WithdrawReceipt struct {
	Pool          store.Key
	NullifierHash types.Hash
	Recipient     types.Address
	Relayer       types.Address
	Amount        uint64
	Fee           uint64
	Timestamp     int64
}

// Withdraw pays out one denomination for a valid, unspent proof. The
// nullifier is recorded before any value moves; if anything after that
// fails, the caller's unit of work discards the record with everything else.
func (s *Service) Withdraw(tx *store.Txn, id store.Key, req WithdrawRequest, now int64) (*WithdrawReceipt, error) {
	p, err := Load(tx, id)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, errors.Wrapf(codes.ErrPoolInactive, "pool %s", id)
	}

	tree, err := Tree(tx, p)
	if err != nil {
		return nil, err
	}
	if !tree.IsKnownRoot(req.Root) {
		return nil, errors.Wrapf(codes.ErrInvalidRoot, "root %s", req.Root)
	}
	if req.Recipient.IsZero() {
		return nil, errors.Wrap(codes.ErrInvalidRecipient, "zero recipient")
	}

	// A fee that leaves less than the minimum reports WithdrawalTooLow even
	// when it also breaks the cap.
	if req.Fee > p.Denomination {
		return nil, errors.Wrapf(codes.ErrFeeTooHigh, "fee %d above denomination %d", req.Fee, p.Denomination)
	}
	net := p.Denomination - req.Fee
	if net < p.MinWithdrawalAmount {
		return nil, errors.Wrapf(codes.ErrWithdrawalTooLow, "net %d below minimum %d", net, p.MinWithdrawalAmount)
	}
	maxFee, ok := types.ApplyBasisPoints(p.Denomination, p.MaxFeeBasisPoints)
	if !ok {
		return nil, errors.Wrap(codes.ErrCalculation, "fee cap")
	}
	if req.Fee > maxFee {
		return nil, errors.Wrapf(codes.ErrFeeTooHigh, "fee %d above cap %d", req.Fee, maxFee)
	}

	var rel *relayer.Relayer
	if req.Fee > 0 {
		if req.Relayer.IsZero() {
			return nil, errors.Wrap(codes.ErrInvalidFee, "fee requires a relayer")
		}
		if rel, err = relayer.RequireActive(tx, req.Relayer); err != nil {
			return nil, err
		}
	}

	if err := nullifier.Insert(tx, id, req.NullifierHash, req.Recipient, now); err != nil {
		return nil, err
	}

	vk, err := LoadVerifyingKey(tx, p)
	if err != nil {
		return nil, err
	}
	in := proofgate.PublicInputs{
		Root:          req.Root,
		NullifierHash: req.NullifierHash,
		Recipient:     req.Recipient,
		Relayer:       req.Relayer,
		Fee:           req.Fee,
	}
	if err := s.Verifier.Verify(req.Proof, vk, in); err != nil {
		return nil, err
	}

	if err := s.Tokens.Transfer(tx, p.Asset, p.Vault, req.Recipient, net); err != nil {
		return nil, err
	}
	if rel != nil {
		if err := s.Tokens.Transfer(tx, p.Asset, p.Vault, req.Relayer, req.Fee); err != nil {
			return nil, err
		}
		if err := relayer.RecordRelay(tx, rel, net, req.Fee); err != nil {
			return nil, err
		}
	}

	total, ok := types.CheckedAdd(p.TotalWithdrawn, p.Denomination)
	if !ok {
		return nil, errors.Wrap(codes.ErrCalculation, "total withdrawn overflow")
	}
	p.TotalWithdrawn = total
	if err := save(tx, p); err != nil {
		return nil, err
	}
	return &WithdrawReceipt{
		Pool:          id,
		NullifierHash: req.NullifierHash,
		Recipient:     req.Recipient,
		Relayer:       req.Relayer,
		Amount:        net,
		Fee:           req.Fee,
		Timestamp:     now,
	}, nil
}

// MirrorReceipt describes a commitment appended on behalf of another chain.
type MirrorReceipt struct {
	Pool      store.Key
	LeafIndex uint64
	Root      types.Hash
}

// Mirror appends a commitment that arrived through the bridge. No value
// moves; the leaf is backed by liquidity the bridge operator supplies to
// the vault.
func Mirror(tx *store.Txn, id store.Key, commitment types.Hash, now int64) (*MirrorReceipt, error) {
	p, err := Load(tx, id)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, errors.Wrapf(codes.ErrPoolInactive, "pool %s", id)
	}
	if !shielded.ValidCommitment(commitment) {
		return nil, errors.Wrapf(codes.ErrInvalidCommitment, "commitment %s", commitment)
	}
	index, root, err := accumulator.Insert(tx, p.Tree, commitment, now)
	if err != nil {
		return nil, err
	}
	p.BridgedCount++
	if err := save(tx, p); err != nil {
		return nil, err
	}
	return &MirrorReceipt{Pool: id, LeafIndex: index, Root: root}, nil
}
