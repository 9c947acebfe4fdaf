package seeder

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Shiva2076/Saas-backend-repo/internal/auth"
	"github.com/Shiva2076/Saas-backend-repo/internal/company"
)

const (
	DemoCompanyName = "Acme Inc"
	DemoAdminEmail  = "admin@acme.test"
	DemoPassword    = "demo-password-12345"
)

var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`,
	`CREATE TABLE IF NOT EXISTS companies (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name TEXT NOT NULL UNIQUE,
		plan TEXT NOT NULL DEFAULT 'free',
		monthly_limit BIGINT NOT NULL DEFAULT 100,
		current_usage BIGINT NOT NULL DEFAULT 0,
		reset_date TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		is_active BOOLEAN NOT NULL DEFAULT true,
		company_id UUID NOT NULL REFERENCES companies(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS usage_logs (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id UUID NOT NULL,
		company_id UUID NOT NULL,
		tool_name TEXT NOT NULL,
		prompt TEXT NOT NULL DEFAULT '',
		response TEXT NOT NULL DEFAULT '',
		success BOOLEAN NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		latency_ms BIGINT NOT NULL DEFAULT 0,
		ip TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_logs_company_time ON usage_logs (company_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_logs_user_time ON usage_logs (user_id, created_at)`,
}

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema bootstrap failed: %w", err)
		}
	}
	return nil
}

// SeedDemo creates a demo company with an admin user so the API is usable
// out of the box when RUN_SEED=true.
func SeedDemo(ctx context.Context, companies company.Store, users auth.Store, log *zap.Logger) {
	c := &company.Company{Name: DemoCompanyName, Plan: company.PlanFree}
	if err := companies.Create(ctx, c); err != nil {
		log.Info("seeder: demo company may already exist, skipping", zap.Error(err))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(DemoPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Error("seeder: failed to hash demo password", zap.Error(err))
		return
	}

	u := &auth.User{
		Name:         "Demo Admin",
		Email:        DemoAdminEmail,
		PasswordHash: string(hash),
		Role:         auth.RoleAdmin,
		CompanyID:    c.ID,
	}
	if err := users.Create(ctx, u); err != nil {
		log.Error("seeder: failed to create demo user", zap.Error(err))
		return
	}

	log.Info("seeder: demo tenant created",
		zap.String("company", DemoCompanyName),
		zap.String("email", DemoAdminEmail))
}
