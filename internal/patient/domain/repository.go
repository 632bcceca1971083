package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Patient is the minimal projection of the hospital registry this
// engine needs; the registry itself is owned elsewhere.
type Patient struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
}

func (Patient) TableName() string { return "patients" }

type Repository interface {
	FindByID(ctx context.Context, id snowflake.ID) (Patient, error)
}

var ErrNotFound = errors.New("patient_not_found")
