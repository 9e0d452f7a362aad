package repository

import (
	"context"
	"time"

	"commerce-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProfileRepository is the data access contract for membership profiles.
// The grant path only ever reads and conditionally updates single rows.
type ProfileRepository interface {
	FindByUserID(ctx context.Context, userID string) (*models.MembershipProfile, error)
	FindByEmail(ctx context.Context, email string) (*models.MembershipProfile, error)
	// ApplyMembership updates a profile row only if it has not changed since
	// it was read, closing the race between concurrent webhook deliveries.
	// Returns false when the row moved underneath us and the caller should
	// re-read and retry.
	ApplyMembership(ctx context.Context, id uuid.UUID, seenUpdatedAt time.Time, updates map[string]interface{}) (bool, error)
}

type gormProfileRepo struct {
	db *gorm.DB
}

func NewGormProfileRepo(db *gorm.DB) ProfileRepository {
	return &gormProfileRepo{db: db}
}

func (r *gormProfileRepo) FindByUserID(ctx context.Context, userID string) (*models.MembershipProfile, error) {
	var profile models.MembershipProfile
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// FindByEmail is case-insensitive. Emails are assumed unique; on duplicates
// the first match wins.
func (r *gormProfileRepo) FindByEmail(ctx context.Context, email string) (*models.MembershipProfile, error) {
	var profile models.MembershipProfile
	if err := r.db.WithContext(ctx).Where("LOWER(email) = LOWER(?)", email).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *gormProfileRepo) ApplyMembership(ctx context.Context, id uuid.UUID, seenUpdatedAt time.Time, updates map[string]interface{}) (bool, error) {
	updates["updated_at"] = time.Now()
	tx := r.db.WithContext(ctx).
		Model(&models.MembershipProfile{}).
		Where("id = ? AND updated_at = ?", id, seenUpdatedAt).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
