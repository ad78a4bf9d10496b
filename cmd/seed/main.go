package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/arklim/inventory-auth/internal/core/domain"
	"github.com/arklim/inventory-auth/internal/infra/config"
	"github.com/arklim/inventory-auth/internal/infra/database"
	"github.com/arklim/inventory-auth/internal/infra/logger"
	"github.com/arklim/inventory-auth/internal/infra/security"
	postgresrepo "github.com/arklim/inventory-auth/internal/repository/postgres"
)

// seed creates or updates a single principal so the login flow can be exercised locally.
func main() {
	username := flag.String("username", "admin", "principal username")
	email := flag.String("email", "admin@inventory.local", "principal email")
	secret := flag.String("secret", "", "login secret (required)")
	role := flag.String("role", "admin", "principal role")
	status := flag.String("status", string(domain.PrincipalStatusActive), "active, inactive or suspended")
	allowWeak := flag.Bool("allow-weak", false, "skip the secret strength policy")
	flag.Parse()

	if *secret == "" {
		log.Fatal("-secret is required")
	}
	if err := domain.ValidateUsername(*username); err != nil {
		log.Fatalf("invalid -username: %v", err)
	}
	if !*allowWeak {
		if err := security.DefaultSecretPolicy().Validate(*secret, *username, *email); err != nil {
			log.Fatalf("secret rejected: %v", err)
		}
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.App.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, zl)
	if err != nil {
		zl.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pool.Close()

	hasher, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		zl.Fatal("invalid argon2 settings", zap.Error(err))
	}

	hash, err := hasher.Hash(*secret)
	if err != nil {
		zl.Fatal("failed to hash secret", zap.Error(err))
	}

	principals := postgresrepo.NewPrincipalRepository(pool)
	principal := domain.Principal{
		ID:         uuid.NewString(),
		Username:   *username,
		Email:      *email,
		SecretHash: hash,
		Status:     domain.ParsePrincipalStatus(*status),
		Role:       *role,
	}
	if err := principals.Upsert(ctx, principal); err != nil {
		zl.Fatal("failed to upsert principal", zap.Error(err))
	}

	zl.Info("principal seeded",
		zap.String("username", principal.Username),
		zap.String("email", logger.MaskEmail(principal.Email)),
		zap.String("status", string(principal.Status)),
		zap.String("role", principal.Role),
	)
}
