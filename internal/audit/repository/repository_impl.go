package repository

import (
	"context"

	"github.com/clinicore/clinicore/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO audit_logs (id, actor_id, action, target_type, target_id, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.ActorID,
		entry.Action,
		entry.TargetType,
		entry.TargetID,
		entry.Metadata,
		entry.CreatedAt,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, req domain.ListAuditLogRequest) ([]domain.AuditLog, error) {
	limit := req.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var items []domain.AuditLog
	err := db.WithContext(ctx).Raw(
		`SELECT id, actor_id, action, target_type, target_id, metadata, created_at
		 FROM audit_logs
		 WHERE target_type = ? AND (? = '' OR target_id = ?)
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		req.TargetType,
		req.TargetID,
		req.TargetID,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
