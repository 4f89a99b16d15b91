package database

import "gorm.io/gorm"

// Database holds user accounts. Chat messages live in the KV store.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}
