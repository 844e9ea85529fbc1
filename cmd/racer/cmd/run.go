package cmd

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/racer-mesh/racer/pkg/config"
	"github.com/racer-mesh/racer/pkg/crypto"
	"github.com/racer-mesh/racer/pkg/transport"
	"github.com/racer-mesh/racer/node"
	"github.com/racer-mesh/racer/racerlog"
)

var (
	runConfigPath   string
	runIdentityPath string
	runMetricsBind  string
)

func init() {
	RootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to a TOML config file (defaults to config.Default())")
	runCmd.Flags().StringVarP(&runIdentityPath, "identity", "i", "", "path to a hex-encoded Ed25519 identity file written by 'racer keygen' (a fresh one is generated if omitted)")
	runCmd.Flags().StringVar(&runMetricsBind, "metrics-bind", "", "address to serve Prometheus metrics on (disabled if empty)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a RACER mesh node",
	RunE: func(cmd *cobra.Command, args []string) error {
		configureLogging()

		cfg := config.Default()
		if runConfigPath != "" {
			loaded, err := config.Load(runConfigPath)
			if err != nil {
				return err
			}
			cfg = loaded
		}

		signer, err := loadOrGenerateSigner(runIdentityPath)
		if err != nil {
			return fmt.Errorf("racer run: %w", err)
		}

		tr, err := transport.NewTCPTransport(cfg.Node.RouterBind, racerlog.NewLogrus(log.StandardLogger()))
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrBindFailure, cfg.Node.RouterBind, err)
		}

		n, err := node.Bootstrap(cfg, signer, tr, racerlog.NewLogrus(log.StandardLogger()))
		if err != nil {
			_ = tr.Close()
			return fmt.Errorf("racer run: bootstrap: %w", err)
		}

		log.Infof("racer: node %s listening on %s", n.Self().String(), tr.LocalAddr())

		if runMetricsBind != "" {
			serveMetrics(runMetricsBind, n.Collectors())
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		log.Info("racer: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return n.Shutdown(shutdownCtx)
	},
}

// loadOrGenerateSigner loads the node identity from path, or mints an
// ephemeral one for this process if path is empty (convenient for local
// experimentation; operators who want a stable identity across restarts use
// 'racer keygen' and pass --identity).
func loadOrGenerateSigner(path string) (ed25519.PrivateKey, error) {
	if path == "" {
		_, priv, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generating ephemeral identity: %w", err)
		}
		log.Warn("racer: no --identity given, using an ephemeral identity for this process only")
		return priv, nil
	}
	return loadSigner(path)
}

// serveMetrics starts a background HTTP server exposing collectors on
// /metrics, grounded on the teacher's own promhttp.Handler() wiring.
func serveMetrics(bind string, collectors []prometheus.Collector) {
	reg := prometheus.NewRegistry()
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warnf("racer: failed to register a metrics collector: %v", err)
		}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(bind, mux); err != nil {
			log.Warnf("racer: metrics server stopped: %v", err)
		}
	}()
}
