// serve.go - Wiring of the running daemon
package main

import (
	"context"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/solveil/veil/internal/bridge"
	"github.com/solveil/veil/internal/events"
	"github.com/solveil/veil/internal/program"
	"github.com/solveil/veil/internal/proofgate"
	"github.com/solveil/veil/internal/store"
	"github.com/solveil/veil/internal/transport"
	"github.com/solveil/veil/internal/types"
)

const (
	limiterIdle   = 10 * time.Minute
	publishBudget = 10 * time.Second
)

func serve(ctx context.Context, cfg *Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()
	log.Info().Str("version", Version).Uint16("chain", cfg.ChainID).Msg("starting veild")

	db, err := store.Open(filepath.Join(cfg.DataDir, "state"), &store.Options{Sync: cfg.SyncWrites})
	if err != nil {
		return err
	}
	defer db.Close()

	prover, err := proofgate.NewProver(int(cfg.TreeDepth), cfg.KeyDir)
	if err != nil {
		return errors.Wrap(err, "load circuit keys")
	}

	metrics := NewMetrics()
	health := NewHealthChecker(Version)
	health.Register("store", func(context.Context) error { return db.Ping() })

	verifier := proofgate.NewVerifier()
	verifier.OnVerify(metrics.ObserveProof)

	sinks := events.Multi{events.LogSink{Log: log.Logger}}
	if cfg.NATSURL != "" {
		ns, err := events.DialNATS(events.NATSOptions{
			URL:     cfg.NATSURL,
			Prefix:  cfg.NATSSubject,
			Timeout: 5 * time.Second,
			Log:     log.Logger,
		})
		if err != nil {
			return err
		}
		defer ns.Close()
		sinks = append(sinks, ns)
		health.RegisterOptional("nats", func(context.Context) error {
			if !ns.Connected() {
				metrics.natsConnected.Set(0)
				return errors.New("disconnected")
			}
			metrics.natsConnected.Set(1)
			return nil
		})
	}

	opts := []program.Option{
		program.WithLogger(log.Logger),
		program.WithObserver(metrics),
		program.WithVerifier(verifier),
		program.WithSink(sinks),
	}

	var node *transport.Node
	if len(cfg.Peers) > 0 {
		node = transport.NewNode(cfg.NodeID, cfg.ListenAddr, cfg.Peers, log.Logger)
		health.RegisterOptional("peers", func(ctx context.Context) error {
			up := 0
			for _, ok := range node.HealthCheck(ctx) {
				if ok {
					up++
				}
			}
			metrics.peersReachable.Set(float64(up))
			if want := len(cfg.Peers); up < want {
				return errors.Errorf("%d of %d peers reachable", up, want)
			}
			return nil
		})
	}

	var guardian *transport.Guardian
	if cfg.GuardianKey != "" {
		key, err := cfg.GuardianPrivateKey()
		if err != nil {
			return err
		}
		gdb, err := store.Open(filepath.Join(cfg.DataDir, "guardian"), &store.Options{Sync: true})
		if err != nil {
			return err
		}
		defer gdb.Close()

		guardian, err = transport.NewGuardian(transport.GuardianConfig{
			Key:              key,
			Index:            cfg.GuardianIndex,
			GuardianSetIndex: cfg.GuardianSetIndex,
			Chain:            types.ChainID(cfg.ChainID),
			Emitter:          bridge.EmitterAddress(),
			DB:               gdb,
			Log:              log.Logger,
		})
		if err != nil {
			return err
		}
		guardian.OnPublish(func(v *transport.VAA) {
			metrics.vaasPublished.Inc()
			if node == nil {
				return
			}
			go func() {
				pctx, cancel := context.WithTimeout(context.Background(), publishBudget)
				defer cancel()
				for peer, err := range node.PublishVAA(pctx, v) {
					log.Warn().Err(err).Str("peer", peer).Uint64("sequence", v.Sequence).Msg("vaa delivery failed")
				}
			}()
		})
		health.Register("guardian", func(context.Context) error { return guardian.Ping() })
		opts = append(opts, program.WithPublisher(guardian))
		log.Info().Str("guardian", guardian.Address().Hex()).Msg("guardian enabled")
	}

	guardians := cfg.GuardianSet()
	if len(guardians.Keys) == 0 && guardian != nil {
		guardians.Keys = []common.Address{guardian.Address()}
	}

	prog := program.New(db, opts...)
	limiter := NewClientRateLimiter(cfg.RateLimitBurst, cfg.RateLimitRefill, cfg.RateLimitPeriod)
	srv := NewServer(ServerConfig{
		Program:      prog,
		Log:          log,
		Metrics:      metrics,
		Health:       health,
		Limiter:      limiter,
		Guardians:    guardians,
		Guardian:     guardian,
		Node:         node,
		VerifyingKey: prover.VerifyingKey,
		LocalChain:   types.ChainID(cfg.ChainID),
		Faucet:       cfg.EnableFaucet,
	})

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("http listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := limiter.Prune(limiterIdle); n > 0 {
				log.Debug().Int("clients", n).Msg("pruned idle rate limiters")
			}
		case err := <-errc:
			return errors.Wrap(err, "http server")
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpSrv.Shutdown(sctx)
		}
	}
}
