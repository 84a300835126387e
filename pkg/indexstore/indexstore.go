// Package indexstore mirrors a result index into a SQL database so it can be
// queried without loading the JSON file.
package indexstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/labrat-lab/labrat/pkg/config"
	"github.com/labrat-lab/labrat/pkg/query"
	"github.com/labrat-lab/labrat/pkg/resultindex"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const batchSize = 100

// Store provides persistence for a mirrored index.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// ReplaceIndex atomically replaces the mirrored contents with idx.
	ReplaceIndex(ctx context.Context, idx *resultindex.Index) error
	// ListResults returns the records matching filter, in index order.
	ListResults(ctx context.Context, filter query.Filter) ([]resultindex.Record, error)
	// ListFiles returns the merged package names, in index order.
	ListFiles(ctx context.Context) ([]string, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new index Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.DatabaseConfig) Store {
	return &store{
		log: log.WithField("component", "indexstore"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return fmt.Errorf("opening index database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(&ResultRow{}, &FileRow{}); err != nil {
		return fmt.Errorf("running index migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Index database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// ReplaceIndex deletes every mirrored row and inserts idx in one transaction.
func (s *store) ReplaceIndex(ctx context.Context, idx *resultindex.Index) error {
	now := time.Now().UTC()

	files := make([]FileRow, 0, len(idx.Files))
	for i, name := range idx.Files {
		files = append(files, FileRow{Position: i, Name: name, SyncedAt: now})
	}

	results := make([]ResultRow, 0, len(idx.Results))
	for i := range idx.Results {
		results = append(results, newResultRow(i, &idx.Results[i], now))
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})

		if err := all.Delete(&ResultRow{}).Error; err != nil {
			return fmt.Errorf("clearing results: %w", err)
		}

		if err := all.Delete(&FileRow{}).Error; err != nil {
			return fmt.Errorf("clearing files: %w", err)
		}

		if len(files) > 0 {
			if err := tx.CreateInBatches(files, batchSize).Error; err != nil {
				return fmt.Errorf("inserting files: %w", err)
			}
		}

		if len(results) > 0 {
			if err := tx.CreateInBatches(results, batchSize).Error; err != nil {
				return fmt.Errorf("inserting results: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"files":   len(files),
		"results": len(results),
	}).Info("Index mirrored to database")

	return nil
}

// ListResults pushes the equality filter down to SQL. A constraint on an
// unknown field or with an empty value matches nothing, as does a non
// canonical integer for a timestamp column.
func (s *store) ListResults(
	ctx context.Context, filter query.Filter,
) ([]resultindex.Record, error) {
	q := s.db.WithContext(ctx).Model(&ResultRow{})

	for _, c := range filter {
		value, ok := columnValue(c)
		if !ok {
			return []resultindex.Record{}, nil
		}

		q = q.Where(clause.Eq{Column: clause.Column{Name: c.Key}, Value: value})
	}

	var rows []ResultRow
	if err := q.Order("position ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}

	records := make([]resultindex.Record, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].Record())
	}

	return records, nil
}

// ListFiles returns the merged package names ordered by position.
func (s *store) ListFiles(ctx context.Context) ([]string, error) {
	names := make([]string, 0)
	if err := s.db.WithContext(ctx).
		Model(&FileRow{}).
		Order("position ASC").
		Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	return names, nil
}

// columnValue converts a constraint value to the column's type. An empty
// value matches present empty strings but never a timestamp.
func columnValue(c query.Constraint) (any, bool) {
	switch c.Key {
	case resultindex.FieldStartTime, resultindex.FieldEndTime:
		n, err := strconv.ParseInt(c.Value, 10, 64)
		if err != nil || strconv.FormatInt(n, 10) != c.Value {
			return nil, false
		}

		return n, true
	}

	for _, f := range resultindex.Fields {
		if f == c.Key {
			return c.Value, true
		}
	}

	return nil, false
}
