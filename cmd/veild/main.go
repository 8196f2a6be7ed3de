// main.go - veild, the shielded pool and bridge daemon.
//
// Usage:
//   veild config init --config veild.yaml --chain 1 --node-id solana
//   veild keys setup --config veild.yaml
//   veild serve --config veild.yaml
//
// One daemon hosts the pools and the bridge endpoint of a single chain. A
// second daemon configured for another chain id, listed in Peers, receives
// the messages this one publishes.

package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/solveil/veil/internal/proofgate"
)

var (
	Version = "dev"
	Commit  = "none"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "veild",
		Short:         "Shielded pool and cross-chain bridge daemon",
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&configPath, "config", "veild.yaml", "Path to the configuration file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	root.AddCommand(serveCmd, keysCommand(&configPath), configCommand(&configPath))
	return root
}

func keysCommand(configPath *string) *cobra.Command {
	keys := &cobra.Command{Use: "keys", Short: "Manage proving and guardian keys"}

	setup := &cobra.Command{
		Use:   "setup",
		Short: "Compile the withdrawal circuit and create its Groth16 keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, err := NewLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Close()

			if err := os.MkdirAll(cfg.KeyDir, 0700); err != nil {
				return err
			}
			p, err := proofgate.NewProver(int(cfg.TreeDepth), cfg.KeyDir)
			if err != nil {
				return err
			}
			pkPath, vkPath := proofgate.KeyPaths(cfg.KeyDir, p.Depth)
			log.Info().
				Int("depth", p.Depth).
				Int("constraints", p.CCS.GetNbConstraints()).
				Str("proving_key", pkPath).
				Str("verifying_key", vkPath).
				Msg("circuit keys ready")
			return nil
		},
	}

	guardian := &cobra.Command{
		Use:   "guardian",
		Short: "Generate a guardian signing key and store it in the configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return err
			}
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			cfg.GuardianKey = hex.EncodeToString(crypto.FromECDSA(key))
			if err := SaveConfig(cfg, *configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "guardian address %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
			return nil
		},
	}

	keys.AddCommand(setup, guardian)
	return keys
}

func configCommand(configPath *string) *cobra.Command {
	var (
		chain  uint16
		nodeID string
		listen string
	)
	cmd := &cobra.Command{Use: "config", Short: "Manage the configuration file"}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration",
		RunE: func(c *cobra.Command, _ []string) error {
			if _, err := os.Stat(*configPath); err == nil {
				return errors.Errorf("%s already exists", *configPath)
			}
			cfg := DefaultConfig()
			if chain != 0 {
				cfg.ChainID = chain
			}
			if nodeID != "" {
				cfg.NodeID = nodeID
			}
			if listen != "" {
				cfg.ListenAddr = listen
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := SaveConfig(cfg, *configPath); err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "wrote %s\n", *configPath)
			return nil
		},
	}
	initCmd.Flags().Uint16Var(&chain, "chain", 0, "Local chain id")
	initCmd.Flags().StringVar(&nodeID, "node-id", "", "Node id used by peers")
	initCmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address")

	cmd.AddCommand(initCmd)
	return cmd
}
