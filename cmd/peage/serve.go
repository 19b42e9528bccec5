package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/peagelabs/peage/internal/api"
	"github.com/peagelabs/peage/internal/capability"
	"github.com/peagelabs/peage/internal/config"
	"github.com/peagelabs/peage/internal/llm"
	"github.com/peagelabs/peage/internal/metrics"
	"github.com/peagelabs/peage/internal/operator"
	"github.com/peagelabs/peage/internal/orchestrator"
	"github.com/peagelabs/peage/internal/payment"
	"github.com/peagelabs/peage/internal/policy"
	"github.com/peagelabs/peage/internal/ratelimit"
	"github.com/peagelabs/peage/internal/reserve"
	"github.com/peagelabs/peage/internal/session"
	"github.com/peagelabs/peage/internal/settle"
	"github.com/peagelabs/peage/internal/trace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Peage orchestrator server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// meteredDecisions forwards every policy decision to the batch recorder and
// the metrics registry.
type meteredDecisions struct {
	recorder *policy.Recorder
	metrics  *metrics.Metrics
}

func (d *meteredDecisions) Record(rec policy.DecisionRecord) {
	d.recorder.Record(rec)
	d.metrics.IncDecision(rec.Decision, rec.Code)
	switch rec.Code {
	case policy.CodeDaily:
		d.metrics.IncBudgetRejection("daily")
	case policy.CodePerCall:
		d.metrics.IncBudgetRejection("per_call")
	}
}

// meteredSettlements forwards every receipt to the settlement recorder and
// the metrics registry.
type meteredSettlements struct {
	recorder *settle.Recorder
	metrics  *metrics.Metrics
}

func (s *meteredSettlements) Record(ctx context.Context, receipt *settle.Receipt) {
	s.recorder.Record(ctx, receipt)
	seconds := float64(receipt.LatencyMs) / 1000
	s.metrics.RecordPayment(receipt.AgentID, receipt.AmountUSD, receipt.Success, seconds)
	if !receipt.Success {
		s.metrics.IncUpstreamError("payment_failed", receipt.AgentID)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	slog.Info("connected to database")

	m := metrics.New()
	m.RegisterDBPoolCollector(func() (total, idle, acquired int32) {
		stat := pool.Stat()
		return stat.TotalConns(), stat.IdleConns(), stat.AcquiredConns()
	})

	registry := capability.NewRegistry(cfg.Capabilities)

	policyStore := policy.NewStore(pool)
	decisionStore := policy.NewDecisionStore(pool)
	decisionRecorder := policy.NewRecorder(decisionStore, cfg.DecisionLog.BatchSize, cfg.DecisionLog.FlushInterval)
	go decisionRecorder.Start(ctx)

	settleStore := settle.NewStore(pool)
	history := settle.NewHistory(500)
	daily := settle.NewDailyAccumulator(settleStore)
	settleRecorder := settle.NewRecorder(settleStore, history, daily)

	reservations := reserve.NewLedger()
	engine := policy.NewEngine(
		policyStore,
		registry,
		daily,
		reservations,
		&meteredDecisions{recorder: decisionRecorder, metrics: m},
		policy.Defaults{
			DailyLimitUSD:   cfg.Budget.DailyLimitUSD,
			PerCallLimitUSD: cfg.Budget.PerCallLimitUSD,
		},
	)
	if err := engine.Hydrate(ctx); err != nil {
		return err
	}

	sessions := session.NewLedger(session.NewStore(pool), settleStore)
	traces := trace.NewRecorder()

	model := llm.NewHTTPClient(cfg.LLM)
	executor := payment.NewExecutor(payment.NewHTTPInvoker(30 * time.Second))

	orch := orchestrator.New(
		model,
		registry,
		engine,
		executor,
		reservations,
		&meteredSettlements{recorder: settleRecorder, metrics: m},
		sessions,
		traces,
		cfg.Budget.SessionLimitUSD,
		cfg.Budget.MaxTurns,
	)

	operatorStore := operator.NewStore(pool)
	go reapOperatorSessions(ctx, operatorStore)

	limiter := ratelimit.New(cfg.RateLimit.Default, cfg.RateLimit.Window)

	router := api.NewRouter(api.RouterDeps{
		Chat:        orch,
		Engine:      engine,
		Decisions:   decisionStore,
		Settlements: settleStore,
		Operators:   operatorStore,
		Sessions:    operator.NewAuthAdapter(operatorStore),
		Limiter:     limiter,
		Metrics:     m,
		AdminKey:    cfg.Auth.AdminKey,
		CORSOrigins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	decisionRecorder.Stop()

	return srv.Shutdown(shutdownCtx)
}

// reapOperatorSessions deletes expired operator sessions once an hour.
func reapOperatorSessions(ctx context.Context, store *operator.Store) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := store.CleanExpiredSessions(ctx); err != nil {
				slog.Warn("cleaning expired operator sessions", "error", err)
			} else if n > 0 {
				slog.Info("cleaned expired operator sessions", "count", n)
			}
		}
	}
}
