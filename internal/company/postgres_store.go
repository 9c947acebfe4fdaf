package company

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Company, error) {
	query := `
		SELECT id, name, plan, monthly_limit, current_usage, reset_date, created_at
		FROM companies
		WHERE id = $1
	`

	var c Company
	err := s.db.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.Plan, &c.MonthlyLimit, &c.CurrentUsage, &c.ResetDate, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get company: %w", err)
	}

	return &c, nil
}

func (s *PostgresStore) Create(ctx context.Context, c *Company) error {
	if c.Plan == "" {
		c.Plan = PlanFree
	}
	c.MonthlyLimit = LimitForPlan(c.Plan)
	if c.ResetDate.IsZero() {
		c.ResetDate = NextResetDate(time.Now())
	}

	query := `
		INSERT INTO companies (name, plan, monthly_limit, current_usage, reset_date)
		VALUES ($1, $2, $3, 0, $4)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query, c.Name, c.Plan, c.MonthlyLimit, c.ResetDate).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create company: %w", err)
	}

	return nil
}

func (s *PostgresStore) IncrementUsage(ctx context.Context, id string) error {
	query := `UPDATE companies SET current_usage = current_usage + 1 WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStore) ResetUsage(ctx context.Context, id string, oldResetDate, next time.Time) (bool, error) {
	// CAS on reset_date: only the first concurrent caller performs the
	// rollover, everyone else sees zero rows affected.
	query := `
		UPDATE companies
		SET current_usage = 0, reset_date = $3
		WHERE id = $1 AND reset_date = $2
	`
	tag, err := s.db.Exec(ctx, query, id, oldResetDate, next)
	if err != nil {
		return false, fmt.Errorf("failed to reset usage: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) SetUsage(ctx context.Context, id string, usage int64) error {
	query := `UPDATE companies SET current_usage = $2 WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, id, usage)
	if err != nil {
		return fmt.Errorf("failed to set usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStore) UpdatePlan(ctx context.Context, id, plan string) error {
	query := `UPDATE companies SET plan = $2, monthly_limit = $3 WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, id, plan, LimitForPlan(plan))
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStore) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM companies`)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan company id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating companies: %w", err)
	}

	return ids, nil
}
