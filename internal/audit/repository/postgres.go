package repository

import (
	"context"
	"database/sql"

	"company-claims/backend/internal/audit/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository backed by the audit_logs table.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the audit log. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, actor_id, action, resource, ip, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, sql.NullString{String: a.ActorID, Valid: a.ActorID != ""}, a.Action, a.Resource, a.IP,
		sql.NullString{String: a.Metadata, Valid: a.Metadata != ""}, a.CreatedAt,
	)
	return err
}

// ListByActor returns audit logs for actorID, paginated by limit and offset.
func (r *PostgresRepository) ListByActor(ctx context.Context, actorID string, limit, offset int) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, actor_id, action, resource, ip, metadata, created_at FROM audit_logs
		 WHERE actor_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		actorID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		var actor, meta sql.NullString
		if err := rows.Scan(&a.ID, &actor, &a.Action, &a.Resource, &a.IP, &meta, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.ActorID, a.Metadata = actor.String, meta.String
		out = append(out, &a)
	}
	return out, rows.Err()
}
