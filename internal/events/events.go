// Package events defines the records every operation emits after it
// commits, and the sinks that carry them to logs, NATS subscribers and
// tests.
package events

import (
	"time"

	"github.com/solveil/veil/internal/store"
	"github.com/solveil/veil/internal/types"
)

// Type names an event.
type Type string

const (
	TypePoolInitialized       Type = "PoolInitialized"
	TypePoolUpdated           Type = "PoolUpdated"
	TypeDeposit               Type = "Deposit"
	TypeWithdrawal            Type = "Withdrawal"
	TypeRelayerRegistered     Type = "RelayerRegistered"
	TypeRelayerUpdated        Type = "RelayerUpdated"
	TypeBridgeInitialized     Type = "BridgeInitialized"
	TypeBridgeConfigUpdated   Type = "BridgeConfigUpdated"
	TypeChainAdded            Type = "ChainAdded"
	TypeTokenAdded            Type = "TokenAdded"
	TypeTokenUpdated          Type = "TokenUpdated"
	TypeEmitterRegistered     Type = "ExternalEmitterRegistered"
	TypeEmitterUpdated        Type = "ExternalEmitterUpdated"
	TypeTransferInitiated     Type = "CrossChainTransferInitiated"
	TypeIncomingTransfer      Type = "IncomingTransferProcessed"
	TypeTransferStatusChanged Type = "TransferStatusChanged"
)

// Event is the envelope sinks receive.
type Event struct {
	Type Type      `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// New wraps data in an envelope stamped with t.
func New(typ Type, t time.Time, data any) Event {
	return Event{Type: typ, Time: t, Data: data}
}

type PoolInitialized struct {
	Pool         store.Key     `json:"pool"`
	Authority    types.Address `json:"authority"`
	Denomination uint64        `json:"denomination"`
	Asset        types.AssetID `json:"asset"`
	TreeDepth    uint8         `json:"tree_depth"`
}

type PoolUpdated struct {
	Pool                store.Key `json:"pool"`
	MaxFeeBasisPoints   uint16    `json:"max_fee_bp"`
	MinWithdrawalAmount uint64    `json:"min_withdrawal"`
	Active              bool      `json:"active"`
}

// Deposit is the indexing record clients rebuild Merkle paths from.
type Deposit struct {
	Pool       store.Key  `json:"pool"`
	Commitment types.Hash `json:"commitment"`
	LeafIndex  uint64     `json:"leaf_index"`
	Root       types.Hash `json:"root"`
	Amount     uint64     `json:"amount"`
	Timestamp  int64      `json:"timestamp"`
}

type Withdrawal struct {
	Pool          store.Key     `json:"pool"`
	NullifierHash types.Hash    `json:"nullifier_hash"`
	Recipient     types.Address `json:"recipient"`
	Relayer       types.Address `json:"relayer"`
	Amount        uint64        `json:"amount"`
	Fee           uint64        `json:"fee"`
	Timestamp     int64         `json:"timestamp"`
}

type Relayer struct {
	Relayer        types.Address `json:"relayer"`
	FeeBasisPoints uint16        `json:"fee_bp"`
	Active         bool          `json:"active"`
}

type BridgeConfig struct {
	Authority      types.Address `json:"authority"`
	Treasury       types.Address `json:"treasury"`
	FeeBasisPoints uint16        `json:"fee_bp"`
	Finality       uint8         `json:"finality"`
	Paused         bool          `json:"paused"`
	LocalChain     types.ChainID `json:"local_chain"`
}

type Chain struct {
	Chain types.ChainID `json:"chain"`
}

type Token struct {
	Chain       types.ChainID `json:"chain"`
	LocalAsset  types.AssetID `json:"local_asset"`
	RemoteAsset types.AssetID `json:"remote_asset"`
	MinAmount   uint64        `json:"min_amount"`
	MaxAmount   uint64        `json:"max_amount"`
	Enabled     bool          `json:"enabled"`
}

type Emitter struct {
	Chain   types.ChainID `json:"chain"`
	Address types.Hash    `json:"address"`
	Active  bool          `json:"active"`
}

type TransferInitiated struct {
	Sequence    uint64        `json:"sequence"`
	DestChain   types.ChainID `json:"dest_chain"`
	Asset       types.AssetID `json:"asset"`
	Amount      uint64        `json:"amount"`
	Fee         uint64        `json:"fee"`
	Commitment  types.Hash    `json:"commitment"`
	DestAddress types.Hash    `json:"dest_address"`
	Nonce       uint32        `json:"nonce"`
}

type IncomingTransfer struct {
	Digest      types.Hash    `json:"digest"`
	SourceChain types.ChainID `json:"source_chain"`
	Sequence    uint64        `json:"sequence"`
	Pool        store.Key     `json:"pool"`
	Commitment  types.Hash    `json:"commitment"`
	LeafIndex   uint64        `json:"leaf_index"`
	Amount      uint64        `json:"amount"`
}

type TransferStatus struct {
	Sequence uint64 `json:"sequence"`
	Status   string `json:"status"`
}
