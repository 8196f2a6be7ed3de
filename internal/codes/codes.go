// Package codes is the error taxonomy shared by every veil operation.
//
// Each failure is a sentinel *Error carrying a stable code and a Kind.
// Call sites wrap sentinels with github.com/pkg/errors for context;
// callers match with errors.Is and classify with KindOf / CodeOf.
package codes

import (
	"github.com/pkg/errors"
)

// Kind groups error codes by how a caller should react to them.
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindProof
	KindArithmetic
	KindAuthorization
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "state_conflict"
	case KindProof:
		return "proof"
	case KindArithmetic:
		return "arithmetic"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is a classified failure.
type Error struct {
	Code    string
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Code: code, Kind: kind, Message: msg}
}

// Validation errors.
var (
	ErrInvalidDenomination = newError(KindValidation, "InvalidDenomination", "invalid denomination")
	ErrInvalidTreeDepth    = newError(KindValidation, "InvalidTreeDepth", "tree depth must be between 10 and 32")
	ErrInvalidVerifyingKey = newError(KindValidation, "InvalidVerifyingKey", "verifying key cannot be decoded")
	ErrFeeTooHigh          = newError(KindValidation, "FeeTooHigh", "fee exceeds the allowed maximum")
	ErrInvalidFee          = newError(KindValidation, "InvalidFeeAmount", "invalid fee amount")
	ErrWithdrawalTooLow    = newError(KindValidation, "WithdrawalAmountTooLow", "withdrawal amount below minimum")
	ErrInvalidAmount       = newError(KindValidation, "InvalidAmount", "amount outside the allowed range")
	ErrInvalidCommitment   = newError(KindValidation, "InvalidCommitment", "commitment is not a canonical non-zero field element")
	ErrInvalidRoot         = newError(KindValidation, "InvalidMerkleRoot", "merkle root is not in the recent history")
	ErrInvalidRecipient    = newError(KindValidation, "InvalidRecipient", "recipient must be set")
	ErrInvalidMessage      = newError(KindValidation, "InvalidMessage", "malformed or misrouted cross-chain message")
	ErrInsufficientFunds   = newError(KindValidation, "InsufficientFunds", "insufficient funds")
)

// State-conflict errors.
var (
	ErrTreeFull                 = newError(KindConflict, "MerkleTreeFull", "merkle tree is full")
	ErrNullifierAlreadySpent    = newError(KindConflict, "NullifierAlreadySpent", "nullifier has already been spent")
	ErrMessageAlreadyProcessed  = newError(KindConflict, "TransferAlreadyProcessed", "message has already been processed")
	ErrTransferAlreadyFinalized = newError(KindConflict, "TransferAlreadyFinalized", "bridge transfer already completed or failed")
	ErrPoolAlreadyExists        = newError(KindConflict, "PoolAlreadyExists", "pool already exists for this denomination and asset")
	ErrBridgeAlreadyInitialized = newError(KindConflict, "BridgeAlreadyInitialized", "bridge already initialized")
	ErrChainAlreadySupported    = newError(KindConflict, "ChainAlreadySupported", "chain already supported")
	ErrTokenAlreadySupported    = newError(KindConflict, "TokenAlreadySupported", "token already supported on this chain")
	ErrTooManyChains            = newError(KindConflict, "TooManyChains", "destination chain limit reached")
	ErrTooManyTokens            = newError(KindConflict, "TooManyTokens", "token limit reached for chain")
	ErrRelayerAlreadyRegistered = newError(KindConflict, "RelayerAlreadyRegistered", "relayer already registered")
)

// Proof errors.
var (
	ErrInvalidProof = newError(KindProof, "InvalidProof", "invalid zero-knowledge proof")
)

// Arithmetic errors.
var (
	ErrCalculation = newError(KindArithmetic, "CalculationError", "arithmetic overflow")
)

// Authorization and gating errors.
var (
	ErrUnauthorized           = newError(KindAuthorization, "Unauthorized", "caller is not the authority")
	ErrPoolInactive           = newError(KindAuthorization, "PoolInactive", "pool is not active")
	ErrBridgePaused           = newError(KindAuthorization, "BridgePaused", "bridge is paused")
	ErrChainNotSupported      = newError(KindAuthorization, "ChainNotSupported", "chain not supported")
	ErrTokenNotSupported      = newError(KindAuthorization, "TokenNotSupported", "token not supported")
	ErrTokenNotEnabled        = newError(KindAuthorization, "TokenNotEnabled", "token not enabled")
	ErrInvalidExternalEmitter = newError(KindAuthorization, "InvalidExternalEmitter", "message emitter is not registered or inactive")
	ErrInvalidRelayer         = newError(KindAuthorization, "InvalidRelayer", "relayer is not registered")
	ErrRelayerInactive        = newError(KindAuthorization, "RelayerInactive", "relayer is not active")
)

// Not-found errors.
var (
	ErrPoolNotFound         = newError(KindNotFound, "PoolNotFound", "pool not found")
	ErrBridgeNotInitialized = newError(KindNotFound, "BridgeNotInitialized", "bridge not initialized")
	ErrTransferNotFound     = newError(KindNotFound, "BridgeTransferNotFound", "bridge transfer not found")
	ErrEmitterNotFound      = newError(KindNotFound, "EmitterNotFound", "external emitter not found")
	ErrRelayerNotFound      = newError(KindNotFound, "RelayerNotFound", "relayer not found")
)

// ErrInternal classifies failures of the host environment itself.
var ErrInternal = newError(KindInternal, "Internal", "internal error")

// As extracts the classified error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or KindInternal if it is unclassified.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code of err, "" for nil, "Internal" if unclassified.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Code
	}
	return ErrInternal.Code
}
