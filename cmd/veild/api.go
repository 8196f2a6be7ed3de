// api.go - HTTP interface of the veil daemon
package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/solveil/veil/internal/bridge"
	"github.com/solveil/veil/internal/codes"
	"github.com/solveil/veil/internal/pool"
	"github.com/solveil/veil/internal/program"
	"github.com/solveil/veil/internal/relayer"
	"github.com/solveil/veil/internal/transport"
	"github.com/solveil/veil/internal/types"
)

const requestIDHeader = "X-Request-ID"

// Server exposes the program over HTTP.
type Server struct {
	prog         *program.Program
	log          *Logger
	metrics      *Metrics
	health       *HealthChecker
	limiter      *ClientRateLimiter
	guardians    transport.GuardianSet
	guardian     *transport.Guardian
	node         *transport.Node
	verifyingKey []byte
	localChain   types.ChainID
	faucet       bool
}

// ServerConfig wires a Server. Guardian and Node are optional.
type ServerConfig struct {
	Program      *program.Program
	Log          *Logger
	Metrics      *Metrics
	Health       *HealthChecker
	Limiter      *ClientRateLimiter
	Guardians    transport.GuardianSet
	Guardian     *transport.Guardian
	Node         *transport.Node
	VerifyingKey []byte
	LocalChain   types.ChainID
	Faucet       bool
}

// NewServer returns a server for cfg.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		prog:         cfg.Program,
		log:          cfg.Log,
		metrics:      cfg.Metrics,
		health:       cfg.Health,
		limiter:      cfg.Limiter,
		guardians:    cfg.Guardians,
		guardian:     cfg.Guardian,
		node:         cfg.Node,
		verifyingKey: cfg.VerifyingKey,
		localChain:   cfg.LocalChain,
		faucet:       cfg.Faucet,
	}
	if s.node != nil {
		s.node.HandleVAAs(s.gossipedVAA)
	}
	return s
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), s.accessLog(), s.metrics.Middleware())

	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	if s.node != nil {
		r.POST(transport.MessagePath, gin.WrapH(s.node.Handler()))
	}

	v1 := r.Group("/v1")
	if s.limiter != nil {
		v1.Use(s.limiter.Middleware(func(client string) {
			s.metrics.rateLimited.Inc()
			s.log.Debug().Str("client", client).Msg("rate limited")
		}))
	}

	v1.POST("/pools", s.createPool)
	v1.GET("/pools/:id", s.getPool)
	v1.PATCH("/pools/:id", s.updatePool)
	v1.GET("/pools/:id/tree", s.getTree)
	v1.GET("/pools/:id/leaves", s.getLeaves)
	v1.GET("/pools/:id/paths/:index", s.getPath)
	v1.POST("/pools/:id/deposits", s.deposit)
	v1.POST("/pools/:id/withdrawals", s.withdraw)
	v1.GET("/pools/:id/nullifiers/:hash", s.getNullifier)

	v1.POST("/relayers", s.registerRelayer)
	v1.GET("/relayers/:addr", s.getRelayer)
	v1.PATCH("/relayers/:addr", s.updateRelayer)

	v1.GET("/balances/:asset/:owner", s.getBalance)
	if s.faucet {
		v1.POST("/faucet", s.mint)
	}

	b := v1.Group("/bridge")
	b.GET("", s.getBridge)
	b.POST("", s.initializeBridge)
	b.PATCH("", s.updateBridge)
	b.POST("/chains", s.addChain)
	b.POST("/chains/:chain/tokens", s.addToken)
	b.PATCH("/chains/:chain/tokens/:asset", s.setTokenEnabled)
	b.POST("/emitters", s.registerEmitter)
	b.GET("/emitters/:chain/:addr", s.getEmitter)
	b.PATCH("/emitters/:chain/:addr", s.setEmitterActive)
	b.POST("/transfers", s.initiateTransfer)
	b.GET("/transfers/:seq", s.getTransfer)
	b.PATCH("/transfers/:seq", s.setTransferStatus)
	b.POST("/vaas", s.submitVAA)
	b.GET("/vaas/:seq", s.getVAA)
	return r
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("request_id", c.GetString("request_id")).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func statusOf(err error) int {
	switch codes.KindOf(err) {
	case codes.KindValidation:
		return http.StatusBadRequest
	case codes.KindConflict:
		return http.StatusConflict
	case codes.KindProof, codes.KindArithmetic:
		return http.StatusUnprocessableEntity
	case codes.KindAuthorization:
		return http.StatusForbidden
	case codes.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusOf(err)
	code := codes.CodeOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("request_id", c.GetString("request_id")).Msg("request failed")
		msg = codes.ErrInternal.Message
	}
	if codes.KindOf(err) == codes.KindAuthorization {
		s.log.Audit("rejected", map[string]any{
			"request_id": c.GetString("request_id"),
			"path":       c.FullPath(),
			"code":       code,
		})
	}
	c.AbortWithStatusJSON(status, gin.H{
		"code":       code,
		"kind":       codes.KindOf(err).String(),
		"error":      msg,
		"request_id": c.GetString("request_id"),
	})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	s.fail(c, errors.Wrap(codes.ErrInvalidMessage, err.Error()))
}

func (s *Server) healthz(c *gin.Context) {
	h := s.health.CheckHealth(c.Request.Context())
	c.JSON(h.HTTPStatus(), h)
}

// Path parameters.

func poolParam(c *gin.Context) (types.Hash, error) {
	return types.HexToHash(c.Param("id"))
}

func chainParam(c *gin.Context) (types.ChainID, error) {
	v, err := strconv.ParseUint(c.Param("chain"), 10, 16)
	return types.ChainID(v), errors.Wrap(err, "chain")
}

func uintParam(c *gin.Context, name string) (uint64, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	return v, errors.Wrap(err, name)
}

func uintQuery(c *gin.Context, name string, def uint64) (uint64, error) {
	raw, ok := c.GetQuery(name)
	if !ok {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	return v, errors.Wrap(err, name)
}

// Views.

type poolView struct {
	ID                  types.Hash    `json:"id"`
	Authority           types.Address `json:"authority"`
	Denomination        uint64        `json:"denomination"`
	Asset               types.AssetID `json:"asset"`
	TreeDepth           uint8         `json:"tree_depth"`
	Vault               types.Address `json:"vault"`
	Active              bool          `json:"active"`
	MaxFeeBasisPoints   uint16        `json:"max_fee_basis_points"`
	MinWithdrawalAmount uint64        `json:"min_withdrawal_amount"`
	TotalDeposited      uint64        `json:"total_deposited"`
	TotalWithdrawn      uint64        `json:"total_withdrawn"`
	DepositCount        uint64        `json:"deposit_count"`
	BridgedCount        uint64        `json:"bridged_count"`
	CreatedAt           int64         `json:"created_at"`
}

func viewPool(p *pool.Pool) poolView {
	return poolView{
		ID:                  p.ID.ID,
		Authority:           p.Authority,
		Denomination:        p.Denomination,
		Asset:               p.Asset,
		TreeDepth:           p.Depth,
		Vault:               p.Vault,
		Active:              p.Active,
		MaxFeeBasisPoints:   p.MaxFeeBasisPoints,
		MinWithdrawalAmount: p.MinWithdrawalAmount,
		TotalDeposited:      p.TotalDeposited,
		TotalWithdrawn:      p.TotalWithdrawn,
		DepositCount:        p.DepositCount,
		BridgedCount:        p.BridgedCount,
		CreatedAt:           p.CreatedAt,
	}
}

type relayerView struct {
	Address        types.Address `json:"address"`
	Active         bool          `json:"active"`
	FeeBasisPoints uint16        `json:"fee_basis_points"`
	TotalRelayed   uint64        `json:"total_relayed"`
	TotalFees      uint64        `json:"total_fees"`
	TotalProcessed uint64        `json:"total_processed"`
	RegisteredAt   int64         `json:"registered_at"`
}

func viewRelayer(r *relayer.Relayer) relayerView {
	return relayerView{
		Address:        r.Authority,
		Active:         r.Active,
		FeeBasisPoints: r.FeeBasisPoints,
		TotalRelayed:   r.TotalRelayed,
		TotalFees:      r.TotalFees,
		TotalProcessed: r.TotalProcessed,
		RegisteredAt:   r.RegisteredAt,
	}
}

type transferView struct {
	Sequence    uint64        `json:"sequence"`
	DestChain   types.ChainID `json:"dest_chain"`
	Amount      uint64        `json:"amount"`
	Asset       types.AssetID `json:"asset"`
	RemoteAsset types.AssetID `json:"remote_asset"`
	Commitment  types.Hash    `json:"commitment"`
	DestAddress types.Hash    `json:"dest_address"`
	Nonce       uint32        `json:"nonce"`
	Timestamp   int64         `json:"timestamp"`
	Status      string        `json:"status"`
}

func viewTransfer(t *bridge.Transfer) transferView {
	return transferView{
		Sequence:    t.Sequence,
		DestChain:   t.DestChain,
		Amount:      t.Amount,
		Asset:       t.Asset,
		RemoteAsset: t.RemoteAsset,
		Commitment:  t.Commitment,
		DestAddress: t.DestAddress,
		Nonce:       t.Nonce,
		Timestamp:   t.Timestamp,
		Status:      t.Status.String(),
	}
}

// Pools.

type createPoolRequest struct {
	Caller       types.Address `json:"caller"`
	Denomination uint64        `json:"denomination"`
	Asset        types.AssetID `json:"asset"`
	TreeDepth    uint8         `json:"tree_depth"`
}

func (s *Server) createPool(c *gin.Context) {
	var req createPoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	p, err := s.prog.CreatePool(c.Request.Context(), req.Caller, pool.Params{
		Denomination: req.Denomination,
		TreeDepth:    req.TreeDepth,
		Asset:        req.Asset,
		VerifyingKey: s.verifyingKey,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	s.log.Audit("pool_created", map[string]any{
		"pool":         p.ID.ID.String(),
		"authority":    req.Caller.String(),
		"denomination": p.Denomination,
	})
	c.JSON(http.StatusCreated, viewPool(p))
}

func (s *Server) getPool(c *gin.Context) {
	id, err := poolParam(c)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	p, err := s.prog.Pool(pool.KeyFromID(id))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewPool(p))
}

type updatePoolRequest struct {
	Caller              types.Address `json:"caller"`
	MaxFeeBasisPoints   *uint16       `json:"max_fee_basis_points"`
	MinWithdrawalAmount *uint64       `json:"min_withdrawal_amount"`
	Active              *bool         `json:"active"`
}

func (s *Server) updatePool(c *gin.Context) {
	id, err := poolParam(c)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	var req updatePoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	p, err := s.prog.UpdatePool(c.Request.Context(), req.Caller, pool.KeyFromID(id), pool.ConfigUpdate{
		MaxFeeBasisPoints:   req.MaxFeeBasisPoints,
		MinWithdrawalAmount: req.MinWithdrawalAmount,
		Active:              req.Active,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	s.log.Audit("pool_updated", map[string]any{"pool": id.String(), "authority": req.Caller.String()})
	c.JSON(http.StatusOK, viewPool(p))
}

func (s *Server) getTree(c *gin.Context) {
	id, err := poolParam(c)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	t, err := s.prog.Tree(pool.KeyFromID(id))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"depth":      t.Depth,
		"leaf_count": t.LeafCount,
		"root":       t.Root,
		"roots":      t.Roots,
	})
}

type leafView struct {
	Index      uint64     `json:"index"`
	Commitment types.Hash `json:"commitment"`
	Timestamp  int64      `json:"timestamp"`
}

func (s *Server) getLeaves(c *gin.Context) {
	id, err := poolParam(c)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	from, err := uintQuery(c, "from", 0)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	to, err := uintQuery(c, "to", from+program.MaxLeavesPerRead)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	leaves, err := s.prog.Leaves(pool.KeyFromID(id), from, to)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]leafView, len(leaves))
	for i, l := range leaves {
		out[i] = leafView{Index: l.Index, Commitment: l.Commitment, Timestamp: l.Timestamp}
	}
	c.JSON(http.StatusOK, gin.H{"leaves": out})
}

func (s *Server) getPath(c *gin.Context) {
	id, err := poolParam(c)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	index, err := uintParam(c, "index")
	if err != nil {
		s.badRequest(c, err)
		return
	}
	path, root, err := s.prog.Path(pool.KeyFromID(id), index)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"root":     root,
		"elements": path.Elements,
		"indices":  path.Indices,
	})
}

type depositRequest struct {
	Caller     types.Address `json:"caller"`
	Commitment types.Hash    `json:"commitment"`
}

func (s *Server) deposit(c *gin.Context) {
	id, err := poolParam(c)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	r, err := s.prog.Deposit(c.Request.Context(), req.Caller, pool.KeyFromID(id), req.Commitment)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"commitment": r.Commitment,
		"leaf_index": r.LeafIndex,
		"root":       r.Root,
		"amount":     r.Amount,
		"timestamp":  r.Timestamp,
	})
}

type withdrawRequest struct {
	Proof         hexutil.Bytes `json:"proof"`
	Root          types.Hash    `json:"root"`
	NullifierHash types.Hash    `json:"nullifier_hash"`
	Recipient     types.Address `json:"recipient"`
	Relayer       types.Address `json:"relayer"`
	Fee           uint64        `json:"fee"`
}

func (s *Server) withdraw(c *gin.Context) {
	id, err := poolParam(c)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	r, err := s.prog.Withdraw(c.Request.Context(), pool.KeyFromID(id), pool.WithdrawRequest{
		Proof:         req.Proof,
		Root:          req.Root,
		NullifierHash: req.NullifierHash,
		Recipient:     req.Recipient,
		Relayer:       req.Relayer,
		Fee:           req.Fee,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"nullifier_hash": r.NullifierHash,
		"recipient":      r.Recipient,
		"relayer":        r.Relayer,
		"amount":         r.Amount,
		"fee":            r.Fee,
		"timestamp":      r.Timestamp,
	})
}

func (s *Server) getNullifier(c *gin.Context) {
	id, err := poolParam(c)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	hash, err := types.HexToHash(c.Param("hash"))
	if err != nil {
		s.badRequest(c, err)
		return
	}
	rec, err := s.prog.Nullifier(pool.KeyFromID(id), hash)
	if err != nil {
		s.fail(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusOK, gin.H{"spent": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"spent":     rec.Spent,
		"spent_at":  rec.SpentAt,
		"recipient": rec.Recipient,
	})
}

// Relayers.

type registerRelayerRequest struct {
	Caller         types.Address `json:"caller"`
	FeeBasisPoints uint16        `json:"fee_basis_points"`
}

func (s *Server) registerRelayer(c *gin.Context) {
	var req registerRelayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	r, err := s.prog.RegisterRelayer(c.Request.Context(), req.Caller, req.FeeBasisPoints)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewRelayer(r))
}

func (s *Server) getRelayer(c *gin.Context) {
	addr, err := types.HexToAddress(c.Param("addr"))
	if err != nil {
		s.badRequest(c, err)
		return
	}
	r, err := s.prog.Relayer(addr)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewRelayer(r))
}

type updateRelayerRequest struct {
	FeeBasisPoints *uint16 `json:"fee_basis_points"`
	Active         *bool   `json:"active"`
}

func (s *Server) updateRelayer(c *gin.Context) {
	addr, err := types.HexToAddress(c.Param("addr"))
	if err != nil {
		s.badRequest(c, err)
		return
	}
	var req updateRelayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	r, err := s.prog.UpdateRelayer(c.Request.Context(), addr, req.FeeBasisPoints, req.Active)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewRelayer(r))
}

// Ledger.

func (s *Server) getBalance(c *gin.Context) {
	asset, err := types.HexToAsset(c.Param("asset"))
	if err != nil {
		s.badRequest(c, err)
		return
	}
	owner, err := types.HexToAddress(c.Param("owner"))
	if err != nil {
		s.badRequest(c, err)
		return
	}
	bal, err := s.prog.Balance(asset, owner)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": asset, "owner": owner, "balance": bal})
}

type mintRequest struct {
	Asset  types.AssetID `json:"asset"`
	To     types.Address `json:"to"`
	Amount uint64        `json:"amount"`
}

func (s *Server) mint(c *gin.Context) {
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := s.prog.Mint(c.Request.Context(), req.Asset, req.To, req.Amount); err != nil {
		s.fail(c, err)
		return
	}
	s.log.Audit("faucet", map[string]any{"asset": req.Asset.String(), "to": req.To.String(), "amount": req.Amount})
	c.Status(http.StatusNoContent)
}

// Bridge administration.

func (s *Server) getBridge(c *gin.Context) {
	cfg, err := s.prog.BridgeConfig()
	if err != nil {
		s.fail(c, err)
		return
	}
	chains := make([]gin.H, len(cfg.Chains))
	for i, ch := range cfg.Chains {
		chains[i] = gin.H{"chain": ch.Chain, "tokens": ch.Tokens}
	}
	c.JSON(http.StatusOK, gin.H{
		"authority":        cfg.Authority,
		"treasury":         cfg.Treasury,
		"fee_basis_points": cfg.FeeBasisPoints,
		"paused":           cfg.Paused,
		"finality":         cfg.Finality,
		"local_chain":      cfg.LocalChain,
		"emitter":          cfg.Emitter,
		"vault":            cfg.Vault,
		"chains":           chains,
	})
}

type initializeBridgeRequest struct {
	Caller         types.Address `json:"caller"`
	Treasury       types.Address `json:"treasury"`
	FeeBasisPoints uint16        `json:"fee_basis_points"`
	Finality       uint8         `json:"finality"`
	OutboundDepth  uint8         `json:"outbound_depth"`
}

func (s *Server) initializeBridge(c *gin.Context) {
	var req initializeBridgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	cfg, err := s.prog.InitializeBridge(c.Request.Context(), req.Caller, bridge.Settings{
		Treasury:       req.Treasury,
		FeeBasisPoints: req.FeeBasisPoints,
		LocalChain:     s.localChain,
		Finality:       req.Finality,
		OutboundDepth:  req.OutboundDepth,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	s.log.Audit("bridge_initialized", map[string]any{"authority": req.Caller.String(), "fee_bp": cfg.FeeBasisPoints})
	c.JSON(http.StatusCreated, gin.H{"emitter": cfg.Emitter, "vault": cfg.Vault})
}

type updateBridgeRequest struct {
	Caller         types.Address  `json:"caller"`
	FeeBasisPoints *uint16        `json:"fee_basis_points"`
	Finality       *uint8         `json:"finality"`
	Paused         *bool          `json:"paused"`
	Treasury       *types.Address `json:"treasury"`
}

func (s *Server) updateBridge(c *gin.Context) {
	var req updateBridgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	cfg, err := s.prog.UpdateBridge(c.Request.Context(), req.Caller, bridge.ConfigUpdate{
		FeeBasisPoints: req.FeeBasisPoints,
		Finality:       req.Finality,
		Paused:         req.Paused,
		Treasury:       req.Treasury,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	s.log.Audit("bridge_updated", map[string]any{"authority": req.Caller.String(), "paused": cfg.Paused})
	c.JSON(http.StatusOK, gin.H{"fee_basis_points": cfg.FeeBasisPoints, "paused": cfg.Paused, "finality": cfg.Finality})
}

type addChainRequest struct {
	Caller types.Address `json:"caller"`
	Chain  types.ChainID `json:"chain"`
}

func (s *Server) addChain(c *gin.Context) {
	var req addChainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := s.prog.AddChain(c.Request.Context(), req.Caller, req.Chain); err != nil {
		s.fail(c, err)
		return
	}
	s.log.Audit("chain_added", map[string]any{"chain": req.Chain})
	c.Status(http.StatusCreated)
}

type addTokenRequest struct {
	Caller      types.Address `json:"caller"`
	LocalAsset  types.AssetID `json:"local_asset"`
	RemoteAsset types.AssetID `json:"remote_asset"`
	MinAmount   uint64        `json:"min_amount"`
	MaxAmount   uint64        `json:"max_amount"`
	Enabled     bool          `json:"enabled"`
}

func (s *Server) addToken(c *gin.Context) {
	chain, err := chainParam(c)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	var req addTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	err = s.prog.AddToken(c.Request.Context(), req.Caller, chain, bridge.TokenConfig{
		LocalAsset:  req.LocalAsset,
		RemoteAsset: req.RemoteAsset,
		MinAmount:   req.MinAmount,
		MaxAmount:   req.MaxAmount,
		Enabled:     req.Enabled,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	s.log.Audit("token_added", map[string]any{"chain": chain, "asset": req.LocalAsset.String()})
	c.Status(http.StatusCreated)
}

type toggleRequest struct {
	Caller  types.Address `json:"caller"`
	Enabled bool          `json:"enabled"`
}

func (s *Server) setTokenEnabled(c *gin.Context) {
	chain, err := chainParam(c)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	asset, err := types.HexToAsset(c.Param("asset"))
	if err != nil {
		s.badRequest(c, err)
		return
	}
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := s.prog.SetTokenEnabled(c.Request.Context(), req.Caller, chain, asset, req.Enabled); err != nil {
		s.fail(c, err)
		return
	}
	s.log.Audit("token_updated", map[string]any{"chain": chain, "asset": asset.String(), "enabled": req.Enabled})
	c.Status(http.StatusNoContent)
}

type registerEmitterRequest struct {
	Caller  types.Address `json:"caller"`
	Chain   types.ChainID `json:"chain"`
	Address types.Hash    `json:"address"`
}

func (s *Server) registerEmitter(c *gin.Context) {
	var req registerEmitterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	e, err := s.prog.RegisterEmitter(c.Request.Context(), req.Caller, req.Chain, req.Address)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.log.Audit("emitter_registered", map[string]any{"chain": req.Chain, "address": req.Address.String()})
	c.JSON(http.StatusCreated, gin.H{"chain": e.Chain, "address": e.Address, "active": e.Active})
}

func (s *Server) emitterParams(c *gin.Context) (types.ChainID, types.Hash, error) {
	chain, err := chainParam(c)
	if err != nil {
		return 0, types.Hash{}, err
	}
	addr, err := types.HexToHash(c.Param("addr"))
	return chain, addr, err
}

func (s *Server) getEmitter(c *gin.Context) {
	chain, addr, err := s.emitterParams(c)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	e, err := s.prog.Emitter(chain, addr)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chain": e.Chain, "address": e.Address, "active": e.Active, "last_updated": e.LastUpdated})
}

type emitterActiveRequest struct {
	Caller types.Address `json:"caller"`
	Active bool          `json:"active"`
}

func (s *Server) setEmitterActive(c *gin.Context) {
	chain, addr, err := s.emitterParams(c)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	var req emitterActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	e, err := s.prog.SetEmitterActive(c.Request.Context(), req.Caller, chain, addr, req.Active)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.log.Audit("emitter_updated", map[string]any{"chain": chain, "address": addr.String(), "active": req.Active})
	c.JSON(http.StatusOK, gin.H{"chain": e.Chain, "address": e.Address, "active": e.Active})
}

// Bridge transfers.

type initiateRequest struct {
	Caller      types.Address `json:"caller"`
	Asset       types.AssetID `json:"asset"`
	Amount      uint64        `json:"amount"`
	DestChain   types.ChainID `json:"dest_chain"`
	DestAddress types.Hash    `json:"dest_address"`
	Commitment  types.Hash    `json:"commitment"`
	Nonce       uint32        `json:"nonce"`
}

func (s *Server) initiateTransfer(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	r, err := s.prog.InitiateTransfer(c.Request.Context(), req.Caller, bridge.InitiateRequest{
		Asset:       req.Asset,
		Amount:      req.Amount,
		DestChain:   req.DestChain,
		DestAddress: req.DestAddress,
		Commitment:  req.Commitment,
		Nonce:       req.Nonce,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"transfer":   viewTransfer(r.Transfer),
		"fee":        r.Fee,
		"leaf_index": r.LeafIndex,
		"root":       r.Root,
	})
}

func (s *Server) getTransfer(c *gin.Context) {
	seq, err := uintParam(c, "seq")
	if err != nil {
		s.badRequest(c, err)
		return
	}
	t, err := s.prog.TransferRecord(seq)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewTransfer(t))
}

type transferStatusRequest struct {
	Caller types.Address `json:"caller"`
	Status string        `json:"status"`
}

func (s *Server) setTransferStatus(c *gin.Context) {
	seq, err := uintParam(c, "seq")
	if err != nil {
		s.badRequest(c, err)
		return
	}
	var req transferStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	status, err := bridge.ParseStatus(req.Status)
	if err != nil {
		s.fail(c, err)
		return
	}
	t, err := s.prog.SetTransferStatus(c.Request.Context(), req.Caller, seq, status)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.log.Audit("transfer_status", map[string]any{"sequence": seq, "status": req.Status})
	c.JSON(http.StatusOK, viewTransfer(t))
}

// Inbound messages.

type vaaRequest struct {
	VAA hexutil.Bytes `json:"vaa"`
}

// admit verifies v against the guardian set and hands it to the program.
func (s *Server) admit(ctx context.Context, v *transport.VAA) (*bridge.InboundReceipt, error) {
	if err := v.Verify(s.guardians); err != nil {
		err = errors.Wrapf(codes.ErrInvalidMessage, "signatures: %v", err)
		s.metrics.ObserveInbound(err)
		return nil, err
	}
	r, err := s.prog.ProcessInbound(ctx, v.Inbound(), bridge.EmitterKey(v.EmitterChain, v.EmitterAddress))
	s.metrics.ObserveInbound(err)
	return r, err
}

func (s *Server) submitVAA(c *gin.Context) {
	var req vaaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	v, err := transport.Unmarshal(req.VAA)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	r, err := s.admit(c.Request.Context(), v)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"digest":       r.Digest,
		"source_chain": r.SourceChain,
		"sequence":     r.Sequence,
		"pool":         r.Pool.ID,
		"commitment":   r.Commitment,
		"leaf_index":   r.LeafIndex,
		"root":         r.Root,
	})
}

// gossipedVAA admits VAAs pushed by peers. Messages addressed to another
// chain and replays of already admitted messages are ignored.
func (s *Server) gossipedVAA(ctx context.Context, v *transport.VAA) error {
	p, err := bridge.DecodePayload(v.Payload)
	if err != nil {
		return err
	}
	if p.DestChain != s.localChain {
		return nil
	}
	r, err := s.admit(ctx, v)
	if errors.Is(err, codes.ErrMessageAlreadyProcessed) {
		return nil
	}
	if err != nil {
		s.log.Warn().Err(err).Uint64("sequence", v.Sequence).Uint16("chain", uint16(v.EmitterChain)).Msg("gossiped vaa rejected")
		return err
	}
	s.log.Info().Uint64("sequence", r.Sequence).Uint64("leaf", r.LeafIndex).Msg("inbound transfer admitted")
	return nil
}

func (s *Server) getVAA(c *gin.Context) {
	if s.guardian == nil {
		s.fail(c, errors.Wrap(codes.ErrBridgeNotInitialized, "no guardian configured"))
		return
	}
	seq, err := uintParam(c, "seq")
	if err != nil {
		s.badRequest(c, err)
		return
	}
	v, err := s.guardian.Observation(seq)
	if errors.Is(err, transport.ErrNotObserved) {
		s.fail(c, errors.Wrap(codes.ErrTransferNotFound, err.Error()))
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sequence": v.Sequence,
		"digest":   v.Digest(),
		"vaa":      hexutil.Bytes(v.Marshal()),
	})
}
