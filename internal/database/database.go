package database

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/wbobeirne/run-lnd-store/internal/types"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&types.Order{}); err != nil {
		return nil, err
	}

	return db, nil
}
