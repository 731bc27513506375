// Command orchestratord is the control plane daemon: it wires config,
// logging, the manager.Manager (Raft, storage, scheduler, transport), the
// Public Core Facade, and the metrics/health/admin HTTP endpoints into one
// running process with bootstrap/join subcommands for cluster formation.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orchestrator/controlplane/pkg/config"
	"github.com/orchestrator/controlplane/pkg/facade"
	"github.com/orchestrator/controlplane/pkg/jobstore"
	"github.com/orchestrator/controlplane/pkg/log"
	"github.com/orchestrator/controlplane/pkg/manager"
	"github.com/orchestrator/controlplane/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "orchestratord",
	Short:   "orchestratord runs one node of the job orchestrator control plane",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("orchestratord version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("node-id", "node-1", "Unique node ID")
	rootCmd.PersistentFlags().String("bind-addr", "127.0.0.1:7420", "Address for Raft communication")
	rootCmd.PersistentFlags().String("data-dir", "./orchestrator-data", "Data directory for node state")
	rootCmd.PersistentFlags().String("metrics-addr", "127.0.0.1:9090", "Address for the metrics/health/admin HTTP server")
	rootCmd.PersistentFlags().String("worker-addr", "0.0.0.0:7421", "Address for the Worker Transport listener")
	rootCmd.PersistentFlags().Bool("worker-tls", false, "Require mutual TLS on the Worker Transport listener, issued from the cluster CA")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(joinCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

func configFromFlags(cmd *cobra.Command) config.Config {
	cfg := config.DefaultConfig()
	cfg.NodeID, _ = cmd.Flags().GetString("node-id")
	cfg.BindAddr, _ = cmd.Flags().GetString("bind-addr")
	cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
	cfg.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	cfg.WorkerAddr, _ = cmd.Flags().GetString("worker-addr")
	cfg.WorkerTLS, _ = cmd.Flags().GetBool("worker-tls")
	return cfg
}

// serve brings up a Manager, starts it via start, wires the metrics/health/
// admin HTTP server, and blocks until SIGINT/SIGTERM.
//
// There is no manager-to-manager join RPC in this build (see manager.Join's
// doc comment), so cluster membership changes are exposed as admin HTTP
// endpoints on the already-running leader process instead of a CLI
// subcommand that would otherwise need to construct a second, throwaway
// Manager just to reach AddVoter/RemoveServer.
func serve(cfg config.Config, start func(*manager.Manager) error) error {
	mgr, err := manager.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	if err := start(mgr); err != nil {
		return fmt.Errorf("failed to start raft: %w", err)
	}

	f := facade.New(mgr.Store(), mgr.Jobs(), mgr.Scheduler(), mgr.Coordinator(), mgr.Pools(), mgr.Quotas(), mgr.Artifacts(), mgr.Broker())

	collector := metrics.NewCollector(mgr)
	collector.Start()
	defer collector.Stop()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("raft", true, "bootstrapped")
	metrics.RegisterComponent("storage", true, "opened")

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	mux.HandleFunc("/admin/add-voter", adminAddVoterHandler(mgr))
	mux.HandleFunc("/admin/remove-server", adminRemoveServerHandler(mgr))
	mux.HandleFunc("/admin/servers", adminServersHandler(mgr))
	mux.HandleFunc("/admin/jobs", adminSubmitJobHandler(f))
	server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server error: %w", err)
		}
	}()
	log.Logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics, health, and admin endpoints listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("shutting down")
	case err := <-errCh:
		log.Logger.Error().Err(err).Msg("serving error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	mgr.Stop()
	return nil
}

func adminAddVoterHandler(mgr *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nodeID := r.URL.Query().Get("node_id")
		addr := r.URL.Query().Get("address")
		if nodeID == "" || addr == "" {
			http.Error(w, "node_id and address query params are required", http.StatusBadRequest)
			return
		}
		if err := mgr.AddVoter(nodeID, addr); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		fmt.Fprintf(w, "added %s (%s) as a voter\n", nodeID, addr)
	}
}

func adminRemoveServerHandler(mgr *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nodeID := r.URL.Query().Get("node_id")
		if nodeID == "" {
			http.Error(w, "node_id query param is required", http.StatusBadRequest)
			return
		}
		if err := mgr.RemoveServer(nodeID); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		fmt.Fprintf(w, "removed %s\n", nodeID)
	}
}

func adminSubmitJobHandler(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var def jobstore.Definition
		if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
			http.Error(w, fmt.Sprintf("invalid job definition: %v", err), http.StatusBadRequest)
			return
		}
		job, err := f.SubmitJob(def)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(job)
	}
}

func adminServersHandler(mgr *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		servers, err := mgr.GetClusterServers()
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		for _, s := range servers {
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Address, s.Suffrage)
		}
	}
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Initialize a brand-new single-node cluster with this node as the first voter",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(configFromFlags(cmd), (*manager.Manager).Bootstrap)
	},
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Start this node and wait to be added as a voter by the cluster leader",
	Long: `join starts this node's local Raft instance without bootstrapping a new
cluster. The operator must then call the leader's admin HTTP endpoint,
POST /admin/add-voter?node_id=...&address=..., to add this node as a voter.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(configFromFlags(cmd), (*manager.Manager).Join)
	},
}
