package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/clinicore/clinicore/internal/patient/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

func (r *repo) FindByID(ctx context.Context, id snowflake.ID) (domain.Patient, error) {
	var item domain.Patient
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, name, created_at FROM patients WHERE id = ? LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return domain.Patient{}, err
	}
	if item.ID == 0 {
		return domain.Patient{}, domain.ErrNotFound
	}
	return item, nil
}
