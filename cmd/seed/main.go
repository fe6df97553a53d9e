package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kixikila/backend/internal/config"
	"github.com/kixikila/backend/internal/domain"
	"github.com/kixikila/backend/internal/generator"
	"github.com/kixikila/backend/internal/group"
	"github.com/kixikila/backend/internal/ledger"
	"github.com/kixikila/backend/internal/logging"
	"github.com/kixikila/backend/internal/retry"
	"github.com/kixikila/backend/internal/store"
	"github.com/kixikila/backend/internal/store/postgres"
)

func main() {
	cfg := generator.DefaultConfig()
	var (
		users       = flag.Int("users", cfg.NumUsers, "number of demo users to generate")
		groups      = flag.Int("groups", cfg.NumGroups, "number of demo groups to generate")
		seed        = flag.Int64("seed", cfg.Seed, "random seed for deterministic generation")
		outputDir   = flag.String("output-dir", "seed-data", "directory to write users.json and groups.json")
		writeStdout = flag.Bool("stdout", false, "write the dataset to stdout instead of files")
		apply       = flag.Bool("apply", false, "apply the dataset to the configured database instead of writing files")
	)
	flag.Parse()

	genCfg := generator.Config{
		NumUsers:  *users,
		NumGroups: *groups,
		Seed:      *seed,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gen := generator.New(genCfg)
	dataset, err := gen.Generate(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generation failed: %v\n", err)
		os.Exit(1)
	}

	switch {
	case *apply:
		if err := applyDataset(ctx, dataset); err != nil {
			fmt.Fprintf(os.Stderr, "seeding failed: %v\n", err)
			os.Exit(1)
		}
	case *writeStdout:
		if err := json.NewEncoder(os.Stdout).Encode(dataset); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write dataset to stdout: %v\n", err)
			os.Exit(1)
		}
	default:
		if err := generator.WriteDataset(dataset, *outputDir); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write dataset: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stdout, "Generated %d users and %d groups into %s\n",
			len(dataset.Users), len(dataset.Groups), *outputDir)
	}
}

// applyDataset loads the demo data through the real services so every
// invariant (balances, memberships, counters) holds afterwards.
func applyDataset(ctx context.Context, dataset generator.Dataset) error {
	appCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(appCfg.Logging).With("component", "seed")

	var st store.Store
	policy := retry.Policy{
		MaxAttempts: appCfg.Database.ConnectAttempts,
		Backoff:     retry.ExponentialBackoff(time.Second, 15*time.Second),
	}
	err = policy.Do(ctx, func(ctx context.Context) error {
		s, err := postgres.New(ctx, appCfg.Database.URL)
		if err != nil {
			logger.Warn("database connection failed, retrying", "error", err)
			return err
		}
		st = s
		return nil
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer st.Close()

	ledgerService := ledger.New(st, logger)
	groupService := group.New(st, ledgerService, logger)

	start := time.Now()
	created := 0
	for _, u := range dataset.Users {
		if err := seedUser(ctx, st, ledgerService, u); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
		created++
	}
	logger.Info("seeded users", "count", created)

	for _, gs := range dataset.Groups {
		if err := seedGroup(ctx, logger, groupService, dataset.Users, gs); err != nil {
			return fmt.Errorf("seed group %q: %w", gs.Name, err)
		}
	}
	logger.Info("seeding complete", "duration", time.Since(start).String(),
		"users", len(dataset.Users), "groups", len(dataset.Groups))
	return nil
}

func seedUser(ctx context.Context, st store.Store, lg *ledger.Service, u generator.UserSeed) error {
	now := time.Now().UTC()
	err := st.CreateUser(ctx, domain.User{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Phone:      u.Phone,
		TrustScore: 50,
		KYCStatus:  domain.KYCApproved,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil
		}
		return err
	}

	_, err = lg.PostCompleted(ctx, ledger.CreateInput{
		UserID:      u.ID,
		Type:        domain.TxDeposit,
		Amount:      u.InitialDeposit,
		Description: "demo opening deposit",
	})
	return err
}

func seedGroup(ctx context.Context, logger *slog.Logger, gs *group.Service, users []generator.UserSeed, seed generator.GroupSeed) error {
	if len(seed.MemberIndexes) == 0 {
		return nil
	}
	creator := users[seed.MemberIndexes[0]]

	g, err := gs.Create(ctx, group.CreateInput{
		Name:               seed.Name,
		CreatorID:          creator.ID,
		ContributionAmount: seed.ContributionAmount,
		MaxMembers:         seed.MaxMembers,
		GroupType:          seed.GroupType,
		FirstPayoutDate:    seed.FirstPayoutDate,
	})
	if err != nil {
		return err
	}

	for _, idx := range seed.MemberIndexes[1:] {
		if _, err := gs.Join(ctx, g.ID, users[idx].ID); err != nil {
			if errors.Is(err, group.ErrAlreadyMember) || errors.Is(err, group.ErrGroupFull) {
				logger.Warn("skipping member", "group", seed.Name, "user", users[idx].ID, "reason", err)
				continue
			}
			return err
		}
	}
	return nil
}
