package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/modelguard/drift-engine/internal/config"
	"github.com/modelguard/drift-engine/internal/models"
)

// Database wraps the GORM database connection.
type Database struct {
	*gorm.DB
}

// NewDatabase opens a PostgreSQL connection with pooled settings.
func NewDatabase(cfg *config.DatabaseConfig) (*Database, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &Database{DB: db}, nil
}

// AutoMigrate creates or updates every engine collection.
func (db *Database) AutoMigrate() error {
	return db.DB.AutoMigrate(
		&models.Baseline{},
		&models.DriftSnapshot{},
		&models.Alert{},
		&models.RetrainRequest{},
		&models.EvaluationRecord{},
	)
}

// Close closes the underlying connection pool.
func (db *Database) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health pings the database.
func (db *Database) Health() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// NewStores returns postgres-backed stores over one shared connection.
func NewStores(db *Database) *Stores {
	return &Stores{
		Baselines:   &pgBaselineStore{db: db},
		Snapshots:   &pgSnapshotStore{db: db},
		Alerts:      &pgAlertStore{db: db},
		Retrains:    &pgRetrainStore{db: db},
		Evaluations: &pgEvaluationSource{db: db},
	}
}

type pgBaselineStore struct {
	db *Database
}

func (s *pgBaselineStore) Save(ctx context.Context, baseline *models.Baseline) error {
	// Single-statement upsert keyed on model_id keeps the replace atomic.
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "model_id"}},
			UpdateAll: true,
		}).
		Create(baseline).Error
	return models.Transient("baseline save", err)
}

func (s *pgBaselineStore) Get(ctx context.Context, modelID string) (*models.Baseline, error) {
	var baseline models.Baseline
	err := s.db.WithContext(ctx).First(&baseline, "model_id = ?", modelID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrBaselineNotFound
	}
	if err != nil {
		return nil, models.Transient("baseline get", err)
	}
	return &baseline, nil
}

func (s *pgBaselineStore) ListModels(ctx context.Context) ([]string, error) {
	var modelIDs []string
	err := s.db.WithContext(ctx).
		Model(&models.Baseline{}).
		Order("model_id").
		Pluck("model_id", &modelIDs).Error
	if err != nil {
		return nil, models.Transient("baseline list models", err)
	}
	return modelIDs, nil
}

type pgSnapshotStore struct {
	db *Database
}

func (s *pgSnapshotStore) Create(ctx context.Context, snapshot *models.DriftSnapshot) error {
	return models.Transient("snapshot create", s.db.WithContext(ctx).Create(snapshot).Error)
}

func (s *pgSnapshotStore) Latest(ctx context.Context, modelID string) (*models.DriftSnapshot, error) {
	var snapshot models.DriftSnapshot
	err := s.db.WithContext(ctx).
		Where("model_id = ?", modelID).
		Order("window_end DESC").
		First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, models.Transient("snapshot latest", err)
	}
	return &snapshot, nil
}

func (s *pgSnapshotStore) List(ctx context.Context, modelID string, since time.Time, limit int) ([]*models.DriftSnapshot, error) {
	var snapshots []*models.DriftSnapshot
	q := s.db.WithContext(ctx).
		Where("model_id = ? AND window_end >= ?", modelID, since).
		Order("window_end DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&snapshots).Error; err != nil {
		return nil, models.Transient("snapshot list", err)
	}
	return snapshots, nil
}

func (s *pgSnapshotStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("window_end < ?", cutoff).
		Delete(&models.DriftSnapshot{})
	return res.RowsAffected, models.Transient("snapshot prune", res.Error)
}

type pgAlertStore struct {
	db *Database
}

func (s *pgAlertStore) Create(ctx context.Context, alert *models.Alert) error {
	return models.Transient("alert create", s.db.WithContext(ctx).Create(alert).Error)
}

func (s *pgAlertStore) Update(ctx context.Context, alert *models.Alert) error {
	return models.Transient("alert update", s.db.WithContext(ctx).Save(alert).Error)
}

func (s *pgAlertStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	var alert models.Alert
	err := s.db.WithContext(ctx).First(&alert, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, models.Transient("alert get", err)
	}
	return &alert, nil
}

func (s *pgAlertStore) FindOpenByFingerprint(ctx context.Context, fingerprint string) (*models.Alert, error) {
	var alert models.Alert
	err := s.db.WithContext(ctx).
		Where("fingerprint = ? AND resolved = false", fingerprint).
		Order("created_at DESC").
		First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, models.Transient("alert find open", err)
	}
	return &alert, nil
}

func (s *pgAlertStore) List(ctx context.Context, modelID string, filter AlertFilter) ([]*models.Alert, error) {
	q := s.db.WithContext(ctx).Where("model_id = ?", modelID)
	if filter.Severity != nil {
		q = q.Where("severity = ?", *filter.Severity)
	}
	if filter.Resolved != nil {
		q = q.Where("resolved = ?", *filter.Resolved)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var alerts []*models.Alert
	if err := q.Order("created_at DESC").Find(&alerts).Error; err != nil {
		return nil, models.Transient("alert list", err)
	}
	return alerts, nil
}

func (s *pgAlertStore) OpenCriticalSince(ctx context.Context, modelID string, since time.Time) ([]*models.Alert, error) {
	var alerts []*models.Alert
	err := s.db.WithContext(ctx).
		Where("model_id = ? AND severity = ? AND resolved = false AND window_end >= ?",
			modelID, models.SeverityCritical, since).
		Find(&alerts).Error
	if err != nil {
		return nil, models.Transient("alert critical scan", err)
	}
	return alerts, nil
}

func (s *pgAlertStore) CountOpen(ctx context.Context, modelID string) (map[models.Severity]int64, error) {
	type row struct {
		Severity models.Severity
		Count    int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&models.Alert{}).
		Select("severity, count(*) as count").
		Where("model_id = ? AND resolved = false", modelID).
		Group("severity").
		Scan(&rows).Error
	if err != nil {
		return nil, models.Transient("alert count", err)
	}
	counts := make(map[models.Severity]int64, len(rows))
	for _, r := range rows {
		counts[r.Severity] = r.Count
	}
	return counts, nil
}

func (s *pgAlertStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.Alert{})
	return res.RowsAffected, models.Transient("alert prune", res.Error)
}

type pgRetrainStore struct {
	db *Database
}

func (s *pgRetrainStore) Create(ctx context.Context, req *models.RetrainRequest) error {
	return models.Transient("retrain create", s.db.WithContext(ctx).Create(req).Error)
}

func (s *pgRetrainStore) HasPending(ctx context.Context, modelID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.RetrainRequest{}).
		Where("model_id = ? AND status = ?", modelID, models.RetrainStatusPending).
		Count(&count).Error
	if err != nil {
		return false, models.Transient("retrain pending check", err)
	}
	return count > 0, nil
}

func (s *pgRetrainStore) List(ctx context.Context, modelID string, limit int) ([]*models.RetrainRequest, error) {
	q := s.db.WithContext(ctx).
		Where("model_id = ?", modelID).
		Order("requested_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var reqs []*models.RetrainRequest
	if err := q.Find(&reqs).Error; err != nil {
		return nil, models.Transient("retrain list", err)
	}
	return reqs, nil
}

type pgEvaluationSource struct {
	db *Database
}

func (s *pgEvaluationSource) FetchWindow(ctx context.Context, modelID string, start, end time.Time, limit int) ([]*models.EvaluationRecord, error) {
	q := s.db.WithContext(ctx).
		Where("model_id = ? AND timestamp >= ? AND timestamp < ?", modelID, start, end).
		Order("timestamp ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var records []*models.EvaluationRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, models.Transient("evaluation fetch", err)
	}
	return records, nil
}
