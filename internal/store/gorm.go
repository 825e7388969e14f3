package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/ppiankov/sentinel/internal/model"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// GormStore persists to PostgreSQL or SQLite through gorm
type GormStore struct {
	db  *gorm.DB
	log *logrus.Entry
}

// Open connects using driver ("postgres" or "sqlite") and migrates the schema
func Open(driver, dsn string, log *logrus.Entry) (*GormStore, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "sqlite", "sqlite3", "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown store driver: %s (supported: postgres, sqlite)", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	if dialector.Name() == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlite handle: %w", err)
		}
		// single writer avoids "database is locked" under concurrent item workers
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&sourceRow{}, &recordRow{}, &attemptRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.WithField("driver", dialector.Name()).Info("Connected to store")
	return &GormStore{db: db, log: log}, nil
}

// Close releases the underlying connection pool
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) ListSources(ctx context.Context) ([]model.SourceConfig, error) {
	var rows []sourceRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	out := make([]model.SourceConfig, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *GormStore) GetSource(ctx context.Context, id string) (model.SourceConfig, error) {
	var row sourceRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.SourceConfig{}, ErrNotFound
	}
	if err != nil {
		return model.SourceConfig{}, fmt.Errorf("get source %s: %w", id, err)
	}
	return row.toModel(), nil
}

func (s *GormStore) SaveSource(ctx context.Context, src model.SourceConfig) error {
	row := toSourceRow(src)
	row.UpdatedAt = time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = row.UpdatedAt
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "address", "name", "enabled", "interval_seconds", "cursor", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save source %s: %w", src.ID, err)
	}
	return nil
}

func (s *GormStore) UpdateCursor(ctx context.Context, id, cursor string) error {
	res := s.db.WithContext(ctx).Model(&sourceRow{}).Where("id = ?", id).
		Updates(map[string]interface{}{"cursor": cursor, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("update cursor %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) RemoveSource(ctx context.Context, id string) (bool, error) {
	disabled := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row sourceRow
		if err := tx.Where("id = ?", id).Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var refs int64
		if err := tx.Model(&recordRow{}).Where("source_id = ?", id).Count(&refs).Error; err != nil {
			return err
		}
		if refs > 0 {
			disabled = true
			return tx.Model(&sourceRow{}).Where("id = ?", id).
				Updates(map[string]interface{}{"enabled": false, "updated_at": time.Now().UTC()}).Error
		}
		return tx.Delete(&sourceRow{}, "id = ?", id).Error
	})
	if errors.Is(err, ErrNotFound) {
		return false, err
	}
	if err != nil {
		return false, fmt.Errorf("remove source %s: %w", id, err)
	}
	return disabled, nil
}

func (s *GormStore) GetRecord(ctx context.Context, id string) (model.ContentRecord, error) {
	var row recordRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ContentRecord{}, ErrNotFound
	}
	if err != nil {
		return model.ContentRecord{}, fmt.Errorf("get record %s: %w", id, err)
	}
	return row.toModel(), nil
}

func (s *GormStore) FindByHash(ctx context.Context, sourceID, hash string) (model.ContentRecord, bool, error) {
	var rows []recordRow
	err := s.db.WithContext(ctx).Where("source_id = ? AND content_hash = ?", sourceID, hash).Limit(1).Find(&rows).Error
	if err != nil {
		return model.ContentRecord{}, false, fmt.Errorf("find by hash: %w", err)
	}
	if len(rows) == 0 {
		return model.ContentRecord{}, false, nil
	}
	return rows[0].toModel(), true, nil
}

// SaveRecord upserts the full row; replaying the same write is a no-op
func (s *GormStore) SaveRecord(ctx context.Context, rec model.ContentRecord) error {
	row, err := toRecordRow(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *GormStore) ListForSweep(ctx context.Context, olderThan time.Time, limit int) ([]model.ContentRecord, error) {
	qb := sq.Select(recordColumns...).From("content_records").
		Where(sq.Lt{"first_seen": olderThan.UTC()}).
		Where(sq.Or{
			sq.Eq{"dedup_state": string(model.DedupPending)},
			sq.And{
				sq.Eq{"dedup_state": string(model.DedupUnique)},
				sq.Eq{"score_state": []string{string(model.ScoreUnscored), string(model.ScoreExhausted)}},
			},
		}).
		OrderBy("first_seen ASC")
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}
	return s.queryRecords(ctx, qb)
}

// Feed returns served records only: unique and scored
func (s *GormStore) Feed(ctx context.Context, q FeedQuery) ([]model.ContentRecord, error) {
	qb := sq.Select(recordColumns...).From("content_records").
		Where(sq.Eq{
			"dedup_state": string(model.DedupUnique),
			"score_state": string(model.ScoreScored),
		})
	if q.SourceType != "" {
		qb = qb.Where(sq.Eq{"source_type": string(q.SourceType)})
	}
	if q.MinScore > 0 {
		qb = qb.Where(sq.GtOrEq{"score_value": q.MinScore})
	}
	if !q.Since.IsZero() {
		qb = qb.Where(sq.GtOrEq{"first_seen": q.Since.UTC()})
	}
	qb = qb.OrderBy("first_seen DESC")
	if q.Limit > 0 {
		qb = qb.Limit(uint64(q.Limit))
	}
	return s.queryRecords(ctx, qb)
}

// queryRecords renders qb with ? placeholders; gorm rebinds them per dialect
func (s *GormStore) queryRecords(ctx context.Context, qb sq.SelectBuilder) ([]model.ContentRecord, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []recordRow
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}

	out := make([]model.ContentRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *GormStore) RecordAttempt(ctx context.Context, a model.ScoreAttempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	row := toAttemptRow(a)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (s *GormStore) ListAttempts(ctx context.Context, recordID string) ([]model.ScoreAttempt, error) {
	var rows []attemptRow
	if err := s.db.WithContext(ctx).Where("record_id = ?", recordID).Order("at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	out := make([]model.ScoreAttempt, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}
