package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type collectionRow struct {
	Name      string `gorm:"primaryKey;size:128"`
	LastID    int64  `gorm:"not null;default:0"`
	Records   string `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time
}

func (collectionRow) TableName() string { return "record_collections" }

// PostgresBackend stores each collection as one jsonb row through gorm.
type PostgresBackend struct {
	db *gorm.DB
}

// OpenPostgres connects to dsn. Call Migrate before using the backend on a
// fresh database.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return gdb, nil
}

// NewPostgresBackend stores collections in the record_collections table.
// Call Migrate first.
func NewPostgresBackend(gdb *gorm.DB) *PostgresBackend {
	return &PostgresBackend{db: gdb}
}

func (b *PostgresBackend) Load(ctx context.Context, name string) (Collection, error) {
	var row collectionRow
	err := b.db.WithContext(ctx).Where("name = ?", name).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Collection{}, nil
	}
	if err != nil {
		return Collection{}, fmt.Errorf("load %s: %w", name, err)
	}

	recs, err := decodeRecords([]byte(row.Records))
	if err != nil {
		return Collection{}, fmt.Errorf("decode %s: %w", name, err)
	}
	return Collection{LastID: row.LastID, Records: recs}, nil
}

func (b *PostgresBackend) Save(ctx context.Context, name string, c Collection) error {
	records, err := encodeRecords(c.Records)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	row := collectionRow{
		Name:      name,
		LastID:    c.LastID,
		Records:   string(records),
		UpdatedAt: time.Now().UTC(),
	}
	err = b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_id", "records", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (b *PostgresBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates the collections table.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&collectionRow{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
