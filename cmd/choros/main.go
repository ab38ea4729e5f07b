package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"choros/core"
	pkgconfig "choros/pkg/config"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{Use: "choros", Short: "choros blockchain node core"}
	root.AddCommand(startCmd())
	root.AddCommand(healthCmd())
	root.AddCommand(configCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config"}
	validate := &cobra.Command{
		Use:   "validate",
		Short: "load and validate the node configuration, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, _ := cmd.Flags().GetString("env")
			cfg, err := pkgconfig.Load(env)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config invalid: %w", err)
			}
			fmt.Println("config valid")
			return nil
		},
	}
	validate.Flags().String("env", "", "environment overlay name")
	cmd.AddCommand(validate)
	return cmd
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "query a running node's /healthz endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			resp, err := http.Get("http://" + addr + "/healthz")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			fmt.Println("status:", resp.Status)
			return nil
		},
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, _ := cmd.Flags().GetString("env")
			return runNode(env)
		},
	}
	cmd.Flags().String("env", "", "environment overlay name")
	return cmd
}

func runNode(env string) error {
	logger := logrus.StandardLogger()

	cfg, err := pkgconfig.Load(env)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("fatal to node: %w", err)
	}

	store, err := core.OpenLevelDBStore(cfg.Assembler.DBPath)
	if err != nil {
		return fmt.Errorf("open block store: %w", err)
	}
	defer store.Close()

	router := core.NewEventRouter(core.RouterConfig{
		HMACSecret:            []byte(cfg.Router.HMACSecret),
		NonceCacheExpirySecs:  cfg.Router.NonceCacheExpirySecs,
		MaxMessageAgeSecs:     cfg.Router.MaxMessageAgeSecs,
		MaxFutureSkewSecs:     cfg.Router.MaxFutureSkewSecs,
		SubscriberBufferSize:  cfg.Router.SubscriberBufferSize,
		PerSenderPublishRate:  cfg.Router.PerSenderPublishRate,
		PerSenderPublishBurst: cfg.Router.PerSenderPublishBurst,
	}, logger, nil)

	assembler, err := core.NewAssembler(core.AssemblerConfig{
		AssemblyTimeoutSecs:  cfg.Assembler.AssemblyTimeoutSecs,
		MaxPendingAssemblies: cfg.Assembler.MaxPendingAssemblies,
		MaxBlockSize:         cfg.Assembler.MaxBlockSize,
		MinDiskSpacePercent:  cfg.Assembler.MinDiskSpacePercent,
	}, store, logger, nil, nil)
	if err != nil {
		return fmt.Errorf("construct assembler: %w", err)
	}

	reversionShield := core.NewReversionShield(assembler, 10_000, cfg.Finality.ReversionMaxDepth)
	inactivity := core.NewInactivityTracker(
		cfg.Finality.MaxEpochsWithoutFinality,
		cfg.Finality.InactivityBasePenaltyBps,
		cfg.Finality.InactivityQuadraticFactor,
		nil, // populated once the active validator set is known to the node
	)

	finalityGadget := core.NewFinalityGadget(core.FinalityConfig{
		InactivityLeak:  inactivity,
		ReversionShield: reversionShield,
	})

	consensusValidator := core.NewConsensusValidator(core.ConsensusConfig{
		AttestationThreshold: cfg.Finality.MinAttestationPercent / 100,
	}, assembler)

	registry := core.NewRegistry(core.RegistryConfig{
		HealthPollInterval: time.Duration(cfg.Registry.HealthPollIntervalMS) * time.Millisecond,
	}, logger)
	registry.Register(&routerSubsystem{router: router})
	registry.Register(&assemblerSubsystem{assembler: assembler, router: router, logger: logger})
	registry.Register(&consensusSubsystem{validator: consensusValidator, router: router, logger: logger})
	registry.Register(&finalitySubsystem{gadget: finalityGadget, router: router, logger: logger})
	registry.Register(&schedulerSubsystem{maxBatch: cfg.Scheduler.MaxBatchSize, router: router, logger: logger})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := registry.Start(ctx); err != nil {
		return fmt.Errorf("start registry: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(router.MetricsCollectors()...)
	reg.MustRegister(assembler.MetricsCollectors()...)
	reg.MustRegister(finalityGadget.Collectors()...)
	reg.MustRegister(registry.MetricsCollectors()...)

	srv := debugServer(cfg.Metrics.ListenAddr, reg, registry)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("debug server stopped")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return registry.Shutdown(shutdownCtx)
}

func debugServer(addr string, reg *prometheus.Registry, registry *core.Registry) *http.Server {
	if addr == "" {
		addr = ":9090"
	}
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		status := registry.Status()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})
	r.HandleFunc("/debug/pprof/", pprof.Index)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return &http.Server{Addr: addr, Handler: r}
}
