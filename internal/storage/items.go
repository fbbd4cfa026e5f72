// Package storage is the document-store adapter for tracked items: the
// minimal find/save operations the refresh engine needs, on top of GORM.
package storage

import (
	"github.com/ffxiv-tools/marketboard-backend/internal/models"
	"gorm.io/gorm"
)

type ItemStore struct {
	db *gorm.DB
}

func NewItemStore(db *gorm.DB) *ItemStore {
	return &ItemStore{db: db}
}

// FindByName returns every item in a category with the given name. The
// uniqueness invariant means more than one result signals corruption;
// classifying that is the engine's job, not the store's.
func (s *ItemStore) FindByName(category models.Category, name string) ([]models.Item, error) {
	var items []models.Item
	err := s.db.Where("category = ? AND name = ?", category, name).Find(&items).Error
	return items, err
}

// FindByCategory returns all items of a category
func (s *ItemStore) FindByCategory(category models.Category) ([]models.Item, error) {
	var items []models.Item
	err := s.db.Where("category = ?", category).Find(&items).Error
	return items, err
}

// FindByIDs returns the items with the given primary keys
func (s *ItemStore) FindByIDs(ids []string) ([]models.Item, error) {
	var items []models.Item
	err := s.db.Where("id IN ?", ids).Find(&items).Error
	return items, err
}

// Names returns the names of all persisted items in a category
func (s *ItemStore) Names(category models.Category) ([]string, error) {
	var names []string
	err := s.db.Model(&models.Item{}).Where("category = ?", category).Pluck("name", &names).Error
	return names, err
}

// Count returns the number of items in a category
func (s *ItemStore) Count(category models.Category) (int64, error) {
	var n int64
	err := s.db.Model(&models.Item{}).Where("category = ?", category).Count(&n).Error
	return n, err
}

// Create inserts a new item. The unique indexes on (category, name) and
// (category, universalis_id) reject duplicate inserts at the database.
func (s *ItemStore) Create(item *models.Item) error {
	return s.db.Create(item).Error
}

// Save writes the full item document back
func (s *ItemStore) Save(item *models.Item) error {
	return s.db.Save(item).Error
}

// DeleteAll removes every item in a category. Test setup only; the
// service has no delete path.
func (s *ItemStore) DeleteAll(category models.Category) error {
	return s.db.Where("category = ?", category).Delete(&models.Item{}).Error
}
