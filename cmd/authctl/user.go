package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"avatar-api/internal/db"
	"avatar-api/internal/repository"
	"avatar-api/internal/service"
)

// NewUserCmd agrupa operaciones sobre cuentas.
func NewUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Inspect and (de)activate accounts by providerId",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <providerId>",
		Short: "Print the account owning a providerId",
		Args:  cobra.ExactArgs(1),
		RunE:  runUserShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "deactivate <providerId>",
		Short: "Deactivate an account; its signed requests are rejected",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runSetActive(cmd, args[0], false) },
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "activate <providerId>",
		Short: "Re-activate an account",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runSetActive(cmd, args[0], true) },
	})
	return cmd
}

type userDeps struct {
	pool       *pgxpool.Pool
	users      *repository.PgUserRepository
	identities *service.IdentityService
	closers    []func()
}

func (d *userDeps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func openUserDeps(cmd *cobra.Command) (*userDeps, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	ctx := cmd.Context()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	deps := &userDeps{pool: pool, closers: []func(){pool.Close}}

	// Sin redis no hay cache compartido que invalidar.
	cache := service.NewNoopIdentityCache()
	if cfg.RedisURL != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		client, err := db.NewRedisClient(pingCtx, cfg.RedisURL)
		cancel()
		if err != nil {
			cmd.PrintErrf("warning: redis unavailable, cached identities expire on their own: %v\n", err)
		} else {
			deps.closers = append(deps.closers, func() { _ = client.Close() })
			cache = service.NewRedisIdentityCache(client, zap.NewNop(), cfg.IdentityCacheTTL)
		}
	}

	deps.users = repository.NewPgUserRepository(pool)
	deps.identities = service.NewIdentityService(zap.NewNop(), deps.users, cache)
	return deps, nil
}

func runUserShow(cmd *cobra.Command, args []string) error {
	deps, err := openUserDeps(cmd)
	if err != nil {
		return err
	}
	defer deps.Close()

	user, err := deps.users.GetByProviderID(cmd.Context(), args[0])
	if err != nil {
		return oops.Code("USER_LOOKUP_FAILED").With("provider_id", args[0]).Wrap(err)
	}
	out, err := json.MarshalIndent(struct {
		ID         string    `json:"id"`
		Email      string    `json:"email"`
		Name       string    `json:"name"`
		Provider   string    `json:"provider"`
		ProviderID string    `json:"providerId"`
		IsActive   bool      `json:"isActive"`
		Score      int       `json:"score"`
		Level      int       `json:"level"`
		CreatedAt  time.Time `json:"createdAt"`
	}{
		ID:         user.ID,
		Email:      user.Email,
		Name:       user.Name,
		Provider:   user.Provider.String(),
		ProviderID: user.ProviderID,
		IsActive:   user.IsActive,
		Score:      user.Score,
		Level:      user.Level,
		CreatedAt:  user.CreatedAt,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func runSetActive(cmd *cobra.Command, providerID string, active bool) error {
	deps, err := openUserDeps(cmd)
	if err != nil {
		return err
	}
	defer deps.Close()

	user, err := deps.identities.SetActive(cmd.Context(), providerID, active)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("provider_id", providerID).With("active", active).Wrap(err)
	}
	state := "deactivated"
	if active {
		state = "activated"
	}
	cmd.Printf("%s user %s (%s)\n", state, user.ID, user.Email)
	return nil
}
