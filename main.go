// main.go - Two-chain walkthrough of the shielded pools and the bridge.
//
// This runs the complete life of a note on an in-process devnet:
//   - Solana and Ethereum programs each host a 1000-unit pool and a bridge
//   - Alice deposits on Solana and withdraws privately through a relayer
//   - Alice bridges a second note to Ethereum; the guardian signs the
//     outbound message and it is relayed into the Ethereum pool
//   - The note is withdrawn on Ethereum with a proof against that pool's root
//
// Usage:
//   go run .
//
// Architecture:
//   - Each chain has its own record store and event log
//   - One guardian key signs for both chains; its address is the guardian set
//   - Relaying is a plain loop that verifies each VAA and hands it to the
//     destination program, the job veild does over HTTP

package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/solveil/veil/internal/accumulator"
	"github.com/solveil/veil/internal/bridge"
	"github.com/solveil/veil/internal/events"
	"github.com/solveil/veil/internal/pool"
	"github.com/solveil/veil/internal/program"
	"github.com/solveil/veil/internal/proofgate"
	"github.com/solveil/veil/internal/shielded"
	"github.com/solveil/veil/internal/store"
	"github.com/solveil/veil/internal/transport"
	"github.com/solveil/veil/internal/types"
)

const (
	denomination = 1000
	bridgeFeeBP  = 10
)

var (
	authority = types.Address{0xad}
	treasury  = types.Address{0x7e}
)

// chain is one side of the devnet.
type chain struct {
	Name     string
	ID       types.ChainID
	Asset    types.AssetID
	Program  *program.Program
	Guardian *transport.Guardian
	Events   *events.Recorder
	Pool     *pool.Pool

	dbs []*store.DB
}

func (c *chain) Close() {
	for _, db := range c.dbs {
		db.Close()
	}
}

// devnet links two chains through one guardian.
type devnet struct {
	Solana    *chain
	Ethereum  *chain
	Prover    *proofgate.Prover
	Guardians transport.GuardianSet

	log     zerolog.Logger
	pending chan *transport.VAA
}

func newChain(name string, id types.ChainID, asset types.AssetID, key *ecdsa.PrivateKey, verifier pool.ProofVerifier, pending chan<- *transport.VAA, log zerolog.Logger) (*chain, error) {
	db, err := store.OpenMemory()
	if err != nil {
		return nil, err
	}
	gdb, err := store.OpenMemory()
	if err != nil {
		db.Close()
		return nil, err
	}
	c := &chain{Name: name, ID: id, Asset: asset, Events: &events.Recorder{}, dbs: []*store.DB{db, gdb}}
	clog := log.With().Str("chain", name).Logger()

	c.Guardian, err = transport.NewGuardian(transport.GuardianConfig{
		Key:     key,
		Chain:   id,
		Emitter: bridge.EmitterAddress(),
		DB:      gdb,
		Log:     clog,
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Guardian.OnPublish(func(v *transport.VAA) { pending <- v })

	c.Program = program.New(db,
		program.WithLogger(clog),
		program.WithSink(c.Events),
		program.WithVerifier(verifier),
		program.WithPublisher(c.Guardian),
	)
	return c, nil
}

// newDevnet builds both chains with a pool and a bridge pointing at each
// other.
func newDevnet(ctx context.Context, prover *proofgate.Prover, log zerolog.Logger) (*devnet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	d := &devnet{
		Prover:    prover,
		Guardians: transport.GuardianSet{Keys: []common.Address{crypto.PubkeyToAddress(key.PublicKey)}},
		log:       log,
		pending:   make(chan *transport.VAA, 16),
	}
	verifier := proofgate.NewVerifier()

	if d.Solana, err = newChain("solana", types.ChainSolana, types.AssetID{0x50}, key, verifier, d.pending, log); err != nil {
		return nil, err
	}
	if d.Ethereum, err = newChain("ethereum", types.ChainEthereum, types.AssetID{0xe7}, key, verifier, d.pending, log); err != nil {
		d.Solana.Close()
		return nil, err
	}
	for _, pair := range [][2]*chain{{d.Solana, d.Ethereum}, {d.Ethereum, d.Solana}} {
		if err := d.setup(ctx, pair[0], pair[1]); err != nil {
			d.Close()
			return nil, errors.Wrapf(err, "setup %s", pair[0].Name)
		}
	}
	return d, nil
}

func (d *devnet) setup(ctx context.Context, local, remote *chain) error {
	p := local.Program
	pl, err := p.CreatePool(ctx, authority, pool.Params{
		Denomination: denomination,
		TreeDepth:    uint8(d.Prover.Depth),
		Asset:        local.Asset,
		VerifyingKey: d.Prover.VerifyingKey,
	})
	if err != nil {
		return err
	}
	local.Pool = pl
	if _, err := p.InitializeBridge(ctx, authority, bridge.Settings{
		Treasury:       treasury,
		FeeBasisPoints: bridgeFeeBP,
		LocalChain:     local.ID,
		OutboundDepth:  accumulator.MinDepth,
	}); err != nil {
		return err
	}
	if err := p.AddChain(ctx, authority, remote.ID); err != nil {
		return err
	}
	if err := p.AddToken(ctx, authority, remote.ID, bridge.TokenConfig{
		LocalAsset:  local.Asset,
		RemoteAsset: remote.Asset,
		MinAmount:   100,
		MaxAmount:   1_000_000,
		Enabled:     true,
	}); err != nil {
		return err
	}
	_, err = p.RegisterEmitter(ctx, authority, remote.ID, bridge.EmitterAddress())
	return err
}

func (d *devnet) Close() {
	d.Solana.Close()
	d.Ethereum.Close()
}

func (d *devnet) byID(id types.ChainID) *chain {
	if id == d.Solana.ID {
		return d.Solana
	}
	if id == d.Ethereum.ID {
		return d.Ethereum
	}
	return nil
}

// Relay delivers every signed VAA waiting in the queue and returns the
// receipts in delivery order.
func (d *devnet) Relay(ctx context.Context) ([]*bridge.InboundReceipt, error) {
	var out []*bridge.InboundReceipt
	for {
		select {
		case v := <-d.pending:
			if err := v.Verify(d.Guardians); err != nil {
				return out, errors.Wrapf(err, "vaa %d", v.Sequence)
			}
			p, err := bridge.DecodePayload(v.Payload)
			if err != nil {
				return out, err
			}
			dest := d.byID(p.DestChain)
			if dest == nil {
				return out, errors.Errorf("no chain %d on the devnet", p.DestChain)
			}
			r, err := dest.Program.ProcessInbound(ctx, v.Inbound(), bridge.EmitterKey(v.EmitterChain, v.EmitterAddress))
			if err != nil {
				return out, err
			}
			d.log.Info().
				Str("to", dest.Name).
				Uint64("sequence", r.Sequence).
				Uint64("leaf", r.LeafIndex).
				Msg("relayed")
			out = append(out, r)
		default:
			return out, nil
		}
	}
}

// Prove builds a withdrawal proof for note in c's pool.
func (d *devnet) Prove(c *chain, note *shielded.Note, leaf uint64, recipient, relayer types.Address, fee uint64) (pool.WithdrawRequest, error) {
	path, root, err := c.Program.Path(c.Pool.ID, leaf)
	if err != nil {
		return pool.WithdrawRequest{}, err
	}
	pub := proofgate.PublicInputs{
		Root:          root,
		NullifierHash: note.NullifierHash(),
		Recipient:     recipient,
		Relayer:       relayer,
		Fee:           fee,
	}
	proof, err := d.Prover.Prove(proofgate.Witness{Note: note, Path: path, Public: pub})
	if err != nil {
		return pool.WithdrawRequest{}, err
	}
	return pool.WithdrawRequest{
		Proof:         proof,
		Root:          root,
		NullifierHash: pub.NullifierHash,
		Recipient:     recipient,
		Relayer:       relayer,
		Fee:           fee,
	}, nil
}

func run(ctx context.Context, log zerolog.Logger) error {
	log.Info().Int("depth", accumulator.MinDepth).Msg("compiling withdrawal circuit")
	start := time.Now()
	prover, err := proofgate.NewProver(accumulator.MinDepth, "")
	if err != nil {
		return err
	}
	log.Info().Dur("took", time.Since(start)).Int("constraints", prover.CCS.GetNbConstraints()).Msg("circuit ready")

	d, err := newDevnet(ctx, prover, log)
	if err != nil {
		return err
	}
	defer d.Close()
	sol, eth := d.Solana, d.Ethereum

	alice := types.Address{0xa1}
	bob := types.Address{0xb0}
	relayer := types.Address{0x0e}
	if err := sol.Program.Mint(ctx, sol.Asset, alice, 5*denomination); err != nil {
		return err
	}
	if _, err := sol.Program.RegisterRelayer(ctx, relayer, 50); err != nil {
		return err
	}

	// 1. Deposit and withdraw on Solana.
	note, err := shielded.NewNote()
	if err != nil {
		return err
	}
	dep, err := sol.Program.Deposit(ctx, alice, sol.Pool.ID, note.Commitment())
	if err != nil {
		return err
	}
	log.Info().Str("note", note.String()).Uint64("leaf", dep.LeafIndex).Msg("deposited on solana")

	req, err := d.Prove(sol, note, dep.LeafIndex, bob, relayer, 5)
	if err != nil {
		return err
	}
	w, err := sol.Program.Withdraw(ctx, sol.Pool.ID, req)
	if err != nil {
		return err
	}
	log.Info().Str("recipient", bob.String()).Uint64("amount", w.Amount).Uint64("fee", w.Fee).Msg("withdrawn on solana")

	// 2. Bridge a second note to Ethereum. The amount covers the bridge fee
	// so the net lands exactly on the Ethereum denomination.
	bridged, err := shielded.NewNote()
	if err != nil {
		return err
	}
	gross := uint64(denomination) + denomination*bridgeFeeBP/types.BasisPointsDenominator
	out, err := sol.Program.InitiateTransfer(ctx, alice, bridge.InitiateRequest{
		Asset:      sol.Asset,
		Amount:     gross,
		DestChain:  eth.ID,
		Commitment: bridged.Commitment(),
	})
	if err != nil {
		return err
	}
	log.Info().Uint64("sequence", out.Transfer.Sequence).Uint64("fee", out.Fee).Msg("transfer initiated")

	receipts, err := d.Relay(ctx)
	if err != nil {
		return err
	}
	if len(receipts) != 1 {
		return errors.Errorf("relayed %d messages, want 1", len(receipts))
	}
	if _, err := sol.Program.SetTransferStatus(ctx, authority, out.Transfer.Sequence, bridge.StatusCompleted); err != nil {
		return err
	}

	// 3. Withdraw the bridged note on Ethereum. Inbound messages append the
	// commitment only; the operator backs the pool with liquidity.
	if err := eth.Program.Mint(ctx, eth.Asset, eth.Pool.Vault, denomination); err != nil {
		return err
	}
	req, err = d.Prove(eth, bridged, receipts[0].LeafIndex, bob, types.Address{}, 0)
	if err != nil {
		return err
	}
	if _, err := eth.Program.Withdraw(ctx, eth.Pool.ID, req); err != nil {
		return err
	}
	bal, err := eth.Program.Balance(eth.Asset, bob)
	if err != nil {
		return err
	}
	log.Info().Uint64("balance", bal).Msg("withdrawn on ethereum")

	for _, c := range []*chain{sol, eth} {
		log.Info().Str("chain", c.Name).Int("events", len(c.Events.Events())).Msg("event log")
	}
	return nil
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	if err := run(context.Background(), log); err != nil {
		fmt.Fprintln(os.Stderr, "demo failed:", err)
		os.Exit(1)
	}
}
