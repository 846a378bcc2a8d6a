package courses

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coursehub-app/coursehub-backend/pkg/db/models"
)

// Repository reads course catalog data for checkout pricing.
type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Course, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a course repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	var course models.Course
	if err := r.db.WithContext(ctx).
		Preload("Prices").
		Where("id = ?", id).
		First(&course).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &course, nil
}
