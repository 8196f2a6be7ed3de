// Package bridge moves commitments between chains. The registry side keeps
// the bridge configuration (supported chains and tokens, fee, pause flag)
// and the trusted foreign emitters; the relay side builds outbound
// messages and admits inbound ones exactly once.
package bridge

import (
	"github.com/pkg/errors"

	"github.com/solveil/veil/internal/accumulator"
	"github.com/solveil/veil/internal/codes"
	"github.com/solveil/veil/internal/store"
	"github.com/solveil/veil/internal/types"
)

const (
	configKind   = "bridge_config"
	vaultKind    = "bridge_vault"
	emitterKind  = "emitter"
	outboundKind = "bridge_outbound"

	// MaxChains bounds the supported destination chains.
	MaxChains = 10
	// MaxTokensPerChain bounds the tokens configured per chain.
	MaxTokensPerChain = 20

	// FinalityConfirmed and FinalityFinalized are the consistency levels
	// handed to the transport.
	FinalityConfirmed uint8 = 0
	FinalityFinalized uint8 = 1
)

// TokenConfig maps a local asset to its counterpart on one remote chain.
type TokenConfig struct {
	LocalAsset  types.AssetID
	RemoteAsset types.AssetID
	MinAmount   uint64
	MaxAmount   uint64
	Enabled     bool
}

// ChainConfig lists the tokens bridgeable to one chain.
type ChainConfig struct {
	Chain  types.ChainID
	Tokens []TokenConfig
}

// Config is the singleton bridge record.
type Config struct {
	Authority      types.Address
	Treasury       types.Address
	FeeBasisPoints uint16
	Paused         bool
	Finality       uint8
	LocalChain     types.ChainID
	Emitter        types.Hash
	Vault          types.Address
	OutboundTree   store.Key
	Chains         []ChainConfig
}

// Settings configure Initialize.
type Settings struct {
	Treasury       types.Address
	FeeBasisPoints uint16
	LocalChain     types.ChainID
	Finality       uint8
	OutboundDepth  uint8
}

// ConfigUpdate changes bridge settings; nil fields are left unchanged.
type ConfigUpdate struct {
	FeeBasisPoints *uint16
	Finality       *uint8
	Paused         *bool
	Treasury       *types.Address
}

// ConfigKey is the key of the bridge record.
func ConfigKey() store.Key { return store.Derive(configKind) }

// VaultAddress is the account holding bridged value.
func VaultAddress() types.Address { return store.DeriveAddress(vaultKind) }

// EmitterAddress is the address this bridge publishes messages under.
func EmitterAddress() types.Hash { return store.Derive(emitterKind).ID }

// Initialize creates the bridge record and its outbound accumulator.
func Initialize(tx *store.Txn, authority types.Address, s Settings) (*Config, error) {
	if s.FeeBasisPoints > types.BasisPointsDenominator {
		return nil, errors.Wrapf(codes.ErrInvalidFee, "bridge fee %d bp", s.FeeBasisPoints)
	}
	if s.Treasury.IsZero() {
		return nil, errors.Wrap(codes.ErrInvalidRecipient, "zero treasury")
	}
	depth := s.OutboundDepth
	if depth == 0 {
		depth = accumulator.MaxDepth
	}
	c := &Config{
		Authority:      authority,
		Treasury:       s.Treasury,
		FeeBasisPoints: s.FeeBasisPoints,
		Finality:       s.Finality,
		LocalChain:     s.LocalChain,
		Emitter:        EmitterAddress(),
		Vault:          VaultAddress(),
		OutboundTree:   accumulator.Key(store.Derive(outboundKind)),
	}
	if err := tx.Create(ConfigKey(), c); err != nil {
		if errors.Is(err, store.ErrExists) {
			return nil, errors.Wrap(codes.ErrBridgeAlreadyInitialized, "bridge")
		}
		return nil, err
	}
	if _, err := accumulator.Create(tx, c.OutboundTree, depth); err != nil {
		return nil, err
	}
	return c, nil
}

// Load returns the bridge record.
func Load(tx *store.Txn) (*Config, error) {
	var c Config
	ok, err := tx.Get(ConfigKey(), &c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrap(codes.ErrBridgeNotInitialized, "bridge")
	}
	return &c, nil
}

func save(tx *store.Txn, c *Config) error { return tx.Put(ConfigKey(), c) }

// loadAuthorized loads the bridge and checks caller is its authority.
func loadAuthorized(tx *store.Txn, caller types.Address) (*Config, error) {
	c, err := Load(tx)
	if err != nil {
		return nil, err
	}
	if caller != c.Authority {
		return nil, errors.Wrapf(codes.ErrUnauthorized, "bridge authority is %s", c.Authority)
	}
	return c, nil
}

// UpdateConfig applies upd.
func UpdateConfig(tx *store.Txn, caller types.Address, upd ConfigUpdate) (*Config, error) {
	c, err := loadAuthorized(tx, caller)
	if err != nil {
		return nil, err
	}
	if upd.FeeBasisPoints != nil {
		if *upd.FeeBasisPoints > types.BasisPointsDenominator {
			return nil, errors.Wrapf(codes.ErrInvalidFee, "bridge fee %d bp", *upd.FeeBasisPoints)
		}
		c.FeeBasisPoints = *upd.FeeBasisPoints
	}
	if upd.Finality != nil {
		if *upd.Finality > FinalityFinalized {
			return nil, errors.Wrapf(codes.ErrInvalidMessage, "finality %d", *upd.Finality)
		}
		c.Finality = *upd.Finality
	}
	if upd.Treasury != nil {
		if upd.Treasury.IsZero() {
			return nil, errors.Wrap(codes.ErrInvalidRecipient, "zero treasury")
		}
		c.Treasury = *upd.Treasury
	}
	if upd.Paused != nil {
		c.Paused = *upd.Paused
	}
	return c, save(tx, c)
}

// SetPaused pauses or resumes every bridge operation.
func SetPaused(tx *store.Txn, caller types.Address, paused bool) (*Config, error) {
	return UpdateConfig(tx, caller, ConfigUpdate{Paused: &paused})
}

// AddChain appends chain to the supported list.
func AddChain(tx *store.Txn, caller types.Address, chain types.ChainID) (*Config, error) {
	c, err := loadAuthorized(tx, caller)
	if err != nil {
		return nil, err
	}
	if c.chain(chain) != nil {
		return nil, errors.Wrapf(codes.ErrChainAlreadySupported, "chain %d", chain)
	}
	if len(c.Chains) >= MaxChains {
		return nil, errors.Wrapf(codes.ErrTooManyChains, "limit %d", MaxChains)
	}
	c.Chains = append(c.Chains, ChainConfig{Chain: chain})
	return c, save(tx, c)
}

// AddToken configures t on chain.
func AddToken(tx *store.Txn, caller types.Address, chain types.ChainID, t TokenConfig) (*Config, error) {
	c, err := loadAuthorized(tx, caller)
	if err != nil {
		return nil, err
	}
	if t.MinAmount > t.MaxAmount {
		return nil, errors.Wrapf(codes.ErrInvalidAmount, "min %d above max %d", t.MinAmount, t.MaxAmount)
	}
	cc := c.chain(chain)
	if cc == nil {
		return nil, errors.Wrapf(codes.ErrChainNotSupported, "chain %d", chain)
	}
	for _, existing := range cc.Tokens {
		if existing.LocalAsset == t.LocalAsset {
			return nil, errors.Wrapf(codes.ErrTokenAlreadySupported, "asset %s on chain %d", t.LocalAsset, chain)
		}
	}
	if len(cc.Tokens) >= MaxTokensPerChain {
		return nil, errors.Wrapf(codes.ErrTooManyTokens, "limit %d on chain %d", MaxTokensPerChain, chain)
	}
	cc.Tokens = append(cc.Tokens, t)
	return c, save(tx, c)
}

// SetTokenEnabled toggles bridging of asset to chain.
func SetTokenEnabled(tx *store.Txn, caller types.Address, chain types.ChainID, asset types.AssetID, enabled bool) (*TokenConfig, error) {
	c, err := loadAuthorized(tx, caller)
	if err != nil {
		return nil, err
	}
	cc := c.chain(chain)
	if cc == nil {
		return nil, errors.Wrapf(codes.ErrChainNotSupported, "chain %d", chain)
	}
	for i := range cc.Tokens {
		if cc.Tokens[i].LocalAsset == asset {
			cc.Tokens[i].Enabled = enabled
			t := cc.Tokens[i]
			return &t, save(tx, c)
		}
	}
	return nil, errors.Wrapf(codes.ErrTokenNotSupported, "asset %s on chain %d", asset, chain)
}

func (c *Config) chain(id types.ChainID) *ChainConfig {
	for i := range c.Chains {
		if c.Chains[i].Chain == id {
			return &c.Chains[i]
		}
	}
	return nil
}

// Lookup finds the configuration for sending localAsset to chain.
func (c *Config) Lookup(chain types.ChainID, localAsset types.AssetID) (ChainConfig, TokenConfig, error) {
	cc := c.chain(chain)
	if cc == nil {
		return ChainConfig{}, TokenConfig{}, errors.Wrapf(codes.ErrChainNotSupported, "chain %d", chain)
	}
	for _, t := range cc.Tokens {
		if t.LocalAsset == localAsset {
			return *cc, t, nil
		}
	}
	return ChainConfig{}, TokenConfig{}, errors.Wrapf(codes.ErrTokenNotSupported, "asset %s on chain %d", localAsset, chain)
}

// LookupRemote finds the token whose counterpart on chain is remoteAsset.
func (c *Config) LookupRemote(chain types.ChainID, remoteAsset types.AssetID) (ChainConfig, TokenConfig, error) {
	cc := c.chain(chain)
	if cc == nil {
		return ChainConfig{}, TokenConfig{}, errors.Wrapf(codes.ErrChainNotSupported, "chain %d", chain)
	}
	for _, t := range cc.Tokens {
		if t.RemoteAsset == remoteAsset {
			return *cc, t, nil
		}
	}
	return ChainConfig{}, TokenConfig{}, errors.Wrapf(codes.ErrTokenNotSupported, "remote asset %s from chain %d", remoteAsset, chain)
}
