package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/peagelabs/peage/internal/capability"
	"github.com/peagelabs/peage/internal/config"
	"github.com/peagelabs/peage/internal/operator"
	"github.com/peagelabs/peage/internal/policy"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed default capability policies and a bootstrap operator",
	RunE:  runSeed,
}

var (
	seedOperatorEmail string
	seedOperatorName  string
)

func init() {
	seedCmd.Flags().StringVar(&seedOperatorEmail, "operator-email", "admin@peage.local", "email for the bootstrap operator")
	seedCmd.Flags().StringVar(&seedOperatorName, "operator-name", "Bootstrap Admin", "display name for the bootstrap operator")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	registry := capability.NewRegistry(cfg.Capabilities)
	policyStore := policy.NewStore(pool)
	engine := policy.NewEngine(policyStore, registry, nil, nil, nil, policy.Defaults{
		DailyLimitUSD:   cfg.Budget.DailyLimitUSD,
		PerCallLimitUSD: cfg.Budget.PerCallLimitUSD,
	})
	if err := engine.Hydrate(ctx); err != nil {
		return fmt.Errorf("loading existing policies: %w", err)
	}

	// Persist a default policy row for every configured capability. Updating
	// with an empty patch materializes the defaults without changing anything
	// already tuned by an operator.
	for _, c := range registry.List() {
		p := engine.Update(ctx, c.ID, policy.UpdatePolicyInput{}, "seed")
		slog.Info("seeded policy",
			"agent_id", p.AgentID,
			"daily_limit_usd", p.DailyLimitUSD,
			"per_call_limit_usd", p.PerCallLimitUSD,
		)
	}

	// Bootstrap operator with a generated password, printed once.
	operatorStore := operator.NewStore(pool)
	existing, err := operatorStore.GetByEmail(ctx, seedOperatorEmail)
	if err != nil {
		return fmt.Errorf("checking for existing operator: %w", err)
	}
	if existing != nil {
		slog.Info("operator already exists, skipping", "email", seedOperatorEmail)
		return nil
	}

	password, err := generatePassword()
	if err != nil {
		return fmt.Errorf("generating operator password: %w", err)
	}
	op, err := operatorStore.Create(ctx, operator.CreateOperatorInput{
		Email:    seedOperatorEmail,
		Password: password,
		Name:     seedOperatorName,
	})
	if err != nil {
		return fmt.Errorf("creating bootstrap operator: %w", err)
	}

	slog.Info("created bootstrap operator", "id", op.ID, "email", op.Email)
	fmt.Printf("\n=== Seed Complete ===\n")
	fmt.Printf("Policies:  %d capabilities\n", len(registry.List()))
	fmt.Printf("Operator:  %s\n", op.Email)
	fmt.Printf("Password:  %s\n", password)
	fmt.Printf("\nTry it:\n")
	fmt.Printf("  curl -X POST http://localhost:8080/api/v1/chat -d '{\"prompt\":\"what is the ETH price?\",\"budget_usd\":0.50}'\n")

	return nil
}

func generatePassword() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
