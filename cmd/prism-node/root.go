package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/prismdkg/prism"
	"github.com/prismdkg/prism/adapters/httpnode"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:           "prism-node",
	Short:         "PRISM threshold key node",
	Long:          "Run a node that holds Shamir shares of user keys and serves the PRISM protocol over HTTP.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("home", "", "Node home directory (default $HOME/.prism)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug|info|warn|error")
	rootCmd.PersistentFlags().String("log-format", "console", "Log format: console|json")
	_ = v.BindPFlag("home", rootCmd.PersistentFlags().Lookup("home"))
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate the node's static key",
		RunE:  runInit,
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing key")
	rootCmd.AddCommand(initCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "pubkey",
		Short: "Print the node's public key and participant id",
		RunE:  runPubkey,
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the node API",
		RunE:  runServe,
	}
	serveCmd.Flags().String("addr", "", "Listen address (overrides config)")
	serveCmd.Flags().Int("threshold", 0, "Sharing threshold (overrides config)")
	serveCmd.Flags().Duration("freshness-window", 0, "Share freshness window (overrides config)")
	_ = v.BindPFlag("http.addr", serveCmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("node.threshold", serveCmd.Flags().Lookup("threshold"))
	_ = v.BindPFlag("node.freshness_window", serveCmd.Flags().Lookup("freshness-window"))
	rootCmd.AddCommand(serveCmd)
}

func keyPath(home string) string {
	return filepath.Join(home, keyFileName)
}

func readNodeKey(home string) (prism.Scalar, error) {
	raw, err := os.ReadFile(keyPath(home))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no node key in %s; run prism-node init", home)
		}
		return nil, fmt.Errorf("failed to read node key: %w", err)
	}
	b, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	prism.ZeroizeBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("node key is not hex: %w", err)
	}
	defer prism.ZeroizeBytes(b)
	return prism.NewEd25519Curve().ScalarFromBytes(b)
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(keyPath(cfg.Home)); err == nil && !force {
		return errors.New("node key already exists; use --force to replace it")
	}
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return fmt.Errorf("failed to create home: %w", err)
	}

	priv, err := prism.GenerateNodeKey()
	if err != nil {
		return err
	}
	if err := os.WriteFile(keyPath(cfg.Home), []byte(hex.EncodeToString(priv.Bytes())), 0o600); err != nil {
		return fmt.Errorf("failed to write node key: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", prism.NewEd25519Curve().BasePoint().Mul(priv))
	return nil
}

func runPubkey(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	priv, err := readNodeKey(cfg.Home)
	if err != nil {
		return err
	}
	curve := prism.NewEd25519Curve()
	pub := curve.BasePoint().Mul(priv)
	id, err := prism.ParticipantID(curve, pub)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "public_key:     %s\nparticipant_id: %s\n", pub, id)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	priv, err := readNodeKey(cfg.Home)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, err := prism.NewFileKeyStore(cfg.Home, prism.RecordKey(priv))
	if err != nil {
		return err
	}
	cache := prism.NewMemorySessionCache(cfg.Node.FreshnessWindow, time.Now, logger)
	node, err := prism.NewNode(priv, prism.NodeOptions{
		Config:  cfg.Node,
		Cache:   cache,
		Store:   store,
		Logger:  logger,
		Audit:   prism.NewLogAuditHandler(logger),
		Metrics: prism.NewMetrics(reg),
	})
	if err != nil {
		return err
	}
	go cache.Run(ctx, cfg.Node.SweepInterval)

	srv, err := httpnode.NewServer(node, cfg.HTTP, logger,
		httpnode.WithGatherer(reg),
		httpnode.WithNodeID(node.ID().String()))
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	logger.Info().
		Str("public_key", node.PublicKey().String()).
		Int("threshold", cfg.Node.Threshold).
		Dur("freshness_window", cfg.Node.FreshnessWindow).
		Msg("node started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
