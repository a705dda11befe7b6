package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/books_sync/config"
	"bitbucket.org/mmdatafocus/books_sync/utils"
	"github.com/google/uuid"
)

type Business struct {
	ID        uuid.UUID `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	Email     string    `gorm:"size:255" json:"email"`
	Timezone  string    `gorm:"size:50" json:"timezone"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBusiness struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required"`
}

func CreateBusiness(ctx context.Context, input *NewBusiness) (*Business, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, errors.New("business name is required")
	}
	if input.Email != "" && !utils.IsValidEmail(strings.TrimSpace(input.Email)) {
		return nil, errors.New("invalid email")
	}
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	business := Business{
		ID:    uuid.New(),
		Name:  strings.TrimSpace(input.Name),
		Email: strings.TrimSpace(input.Email),
	}
	if err := db.WithContext(ctx).Create(&business).Error; err != nil {
		return nil, err
	}
	return &business, nil
}

// ListActiveBusinessIds is used by the scheduled auto-resolve job to iterate
// all tenants. Internal callers only; bypasses per-request tenant context.
func ListActiveBusinessIds(ctx context.Context) ([]string, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	var businesses []Business
	if err := db.WithContext(ctx).Model(&Business{}).Select("id").Where("is_active = 1").Find(&businesses).Error; err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(businesses))
	for _, b := range businesses {
		ids = append(ids, b.ID.String())
	}
	return ids, nil
}
