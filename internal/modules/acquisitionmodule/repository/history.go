// Package repository persists finished acquisition runs.
package repository

import (
	"context"
	"fmt"

	"github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/models"
	"gorm.io/gorm"
)

// HistoryRepository reads and writes AcquisitionRecords
type HistoryRepository struct {
	db *gorm.DB
}

// NewHistoryRepository creates a new repository
func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Migrate creates or updates the history table
func (r *HistoryRepository) Migrate() error {
	return r.db.AutoMigrate(&models.AcquisitionRecord{})
}

// Save inserts a record
func (r *HistoryRepository) Save(ctx context.Context, record *models.AcquisitionRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to save acquisition %s: %w", record.ID, err)
	}
	return nil
}

// Get returns one record by id
func (r *HistoryRepository) Get(ctx context.Context, id string) (*models.AcquisitionRecord, error) {
	var record models.AcquisitionRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		return nil, fmt.Errorf("failed to load acquisition %s: %w", id, err)
	}
	return &record, nil
}

// Recent returns the newest records of a session, newest first. An empty
// sessionKey lists every session.
func (r *HistoryRepository) Recent(ctx context.Context, sessionKey string, limit int) ([]models.AcquisitionRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := r.db.WithContext(ctx).Model(&models.AcquisitionRecord{})
	if sessionKey != "" {
		query = query.Where("session_key = ?", sessionKey)
	}

	var records []models.AcquisitionRecord
	if err := query.Order("finished_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list acquisitions: %w", err)
	}
	return records, nil
}
