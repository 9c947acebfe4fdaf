package usage

import (
	"context"
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

func (s *PostgresStore) Append(ctx context.Context, l *Log) error {
	query := `
		INSERT INTO usage_logs (user_id, company_id, tool_name, prompt, response, success, error_message, latency_ms, ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		l.UserID, l.CompanyID, l.ToolName, l.Prompt, l.Response,
		l.Success, l.ErrorMessage, l.LatencyMs, l.IP,
	).Scan(&l.ID, &l.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to append usage log: %w", err)
	}

	return nil
}

func (s *PostgresStore) CountSuccessSince(ctx context.Context, companyID string, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM usage_logs
		WHERE company_id = $1 AND created_at >= $2 AND success = true
	`
	var count int64
	if err := s.db.QueryRow(ctx, query, companyID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count usage: %w", err)
	}

	return count, nil
}

func (s *PostgresStore) CountByUserSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM usage_logs
		WHERE user_id = $1 AND created_at >= $2
	`
	var count int64
	if err := s.db.QueryRow(ctx, query, userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count user requests: %w", err)
	}

	return count, nil
}

func (s *PostgresStore) AggregateByTool(ctx context.Context, companyID string, from, to time.Time) ([]ToolUsage, error) {
	query := `
		SELECT tool_name, COUNT(*), MAX(created_at)
		FROM usage_logs
		WHERE company_id = $1 AND created_at BETWEEN $2 AND $3 AND success = true
		GROUP BY tool_name
		ORDER BY COUNT(*) DESC, tool_name ASC
	`
	rows, err := s.db.Query(ctx, query, companyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	defer rows.Close()

	var tools []ToolUsage
	for rows.Next() {
		var t ToolUsage
		if err := rows.Scan(&t.ToolName, &t.Count, &t.LastUsed); err != nil {
			return nil, fmt.Errorf("failed to scan tool usage: %w", err)
		}
		tools = append(tools, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tool usage: %w", err)
	}

	return tools, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID, companyID string, from, to time.Time) ([]*Log, error) {
	query := `
		SELECT id, user_id, company_id, tool_name, prompt, response, success, error_message, latency_ms, ip, created_at
		FROM usage_logs
		WHERE user_id = $1 AND company_id = $2 AND created_at BETWEEN $3 AND $4
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, userID, companyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage logs: %w", err)
	}
	defer rows.Close()

	var logs []*Log
	for rows.Next() {
		var l Log
		err := rows.Scan(
			&l.ID, &l.UserID, &l.CompanyID, &l.ToolName, &l.Prompt, &l.Response,
			&l.Success, &l.ErrorMessage, &l.LatencyMs, &l.IP, &l.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage log: %w", err)
		}
		logs = append(logs, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage logs: %w", err)
	}

	return logs, nil
}
