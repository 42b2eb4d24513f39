package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/ppiankov/wphunter/internal/models"
)

// sessionRow maps scan_sessions
type sessionRow struct {
	ID            string    `gorm:"primaryKey;type:text"`
	CreatedAt     time.Time `gorm:"index;not null"`
	ConfigJSON    string    `gorm:"column:config_json;type:text"`
	Status        string    `gorm:"index;not null"`
	TotalFound    int       `gorm:"not null;default:0"`
	HighRiskCount int       `gorm:"not null;default:0"`
	ErrorMessage  string    `gorm:"type:text"`
}

func (sessionRow) TableName() string { return "scan_sessions" }

// resultRow maps scan_results
type resultRow struct {
	ID                int64       `gorm:"primaryKey;autoIncrement"`
	SessionID         string      `gorm:"index;not null"`
	Session           *sessionRow `gorm:"foreignKey:SessionID;references:ID"`
	Slug              string      `gorm:"index"`
	Name              string
	Version           string
	Kind              string
	Score             int `gorm:"index"`
	Installations     int
	DaysSinceUpdate   int
	TestedWPVersion   string `gorm:"column:tested_wp_version"`
	Author            string
	AuthorTrusted     bool
	IsRiskyCategory   bool
	IsUserFacing      bool
	RiskTags          string `gorm:"type:text"`
	SecurityFlags     string `gorm:"type:text"`
	FeatureFlags      string `gorm:"type:text"`
	Tags              string `gorm:"type:text"`
	DownloadLink      string
	CodeAnalysisJSON  *string `gorm:"column:code_analysis_json;type:text"`
	ContributionsJSON string  `gorm:"column:contributions_json;type:text"`
}

func (resultRow) TableName() string { return "scan_results" }

// sortColumns is the allow-list of orderable result columns
var sortColumns = map[models.SortKey]string{
	models.SortByScore:           "score",
	models.SortByInstallations:   "installations",
	models.SortByDaysSinceUpdate: "days_since_update",
	models.SortByName:            "name",
	models.SortBySlug:            "slug",
}

// SQLRepository implements Repository on SQLite through GORM
type SQLRepository struct {
	db  *gorm.DB
	now func() time.Time

	// mu serializes writes
	mu          sync.Mutex
	lastCreated time.Time
}

// Option configures a SQLRepository
type Option func(*SQLRepository)

// WithClock sets the time source used for session timestamps
func WithClock(now func() time.Time) Option {
	return func(r *SQLRepository) { r.now = now }
}

// Open opens or creates the database at path and migrates the schema
func Open(path string, opts ...Option) (*SQLRepository, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// one connection keeps :memory: databases shared and SQLite writes ordered
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&sessionRow{}, &resultRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	r := &SQLRepository{db: db, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Close closes the database
func (r *SQLRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateSession stores a new PENDING session with a fresh UUID
func (r *SQLRepository) CreateSession(ctx context.Context, configJSON string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// strictly increasing timestamps keep newest-first listing stable
	created := r.now().UTC()
	if !created.After(r.lastCreated) {
		created = r.lastCreated.Add(time.Microsecond)
	}

	row := sessionRow{
		ID:         uuid.NewString(),
		CreatedAt:  created,
		ConfigJSON: configJSON,
		Status:     string(models.StatusPending),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	r.lastCreated = created
	return row.ID, nil
}

// UpdateSessionStatus applies a legal status transition and any supplied counters
func (r *SQLRepository) UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus, upd SessionUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row sessionRow
		if err := tx.Select("id", "status").First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
			}
			return fmt.Errorf("failed to load session: %w", err)
		}

		current := models.SessionStatus(row.Status)
		if !current.CanTransition(status) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, status)
		}

		updates := map[string]any{"status": string(status)}
		if upd.TotalFound != nil {
			updates["total_found"] = *upd.TotalFound
		}
		if upd.HighRiskCount != nil {
			updates["high_risk_count"] = *upd.HighRiskCount
		}
		if upd.ErrorMessage != nil {
			updates["error_message"] = *upd.ErrorMessage
		}

		if err := tx.Model(&sessionRow{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		return nil
	})
}

// SaveResult appends a result to an existing session
func (r *SQLRepository) SaveResult(ctx context.Context, sessionID string, result models.ScoredResult) (int64, error) {
	row, err := toRow(sessionID, result)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&sessionRow{}).Where("id = ?", sessionID).Count(&n).Error; err != nil {
			return fmt.Errorf("failed to check session: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		if err := tx.Omit(clause.Associations).Create(row).Error; err != nil {
			return fmt.Errorf("failed to save result: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return row.ID, nil
}

// GetSession returns one session
func (r *SQLRepository) GetSession(ctx context.Context, id string) (*models.ScanSession, error) {
	var row sessionRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	s := fromSessionRow(row)
	return &s, nil
}

// ListSessions returns sessions newest first
func (r *SQLRepository) ListSessions(ctx context.Context, limit int) ([]models.ScanSession, error) {
	if limit <= 0 {
		limit = DefaultSessionLimit
	}

	var rows []sessionRow
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]models.ScanSession, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, fromSessionRow(row))
	}
	return sessions, nil
}

// GetSessionResults returns the results of one session. Unknown sort keys fall
// back to score; ties are broken by insertion order.
func (r *SQLRepository) GetSessionResults(ctx context.Context, sessionID string, q ResultQuery) ([]models.ResultRecord, error) {
	col, ok := sortColumns[q.SortBy]
	if !ok {
		col = sortColumns[models.SortByScore]
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultResultLimit
	}

	var rows []resultRow
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: col}, Desc: q.Order != models.OrderAsc}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}}).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}

	out := make([]models.ResultRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// DeleteSession removes a session's results and then the session itself
func (r *SQLRepository) DeleteSession(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var existed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&resultRow{}).Error; err != nil {
			return fmt.Errorf("failed to delete results: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&sessionRow{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete session: %w", res.Error)
		}
		existed = res.RowsAffected > 0
		return nil
	})
	return existed, err
}

func toRow(sessionID string, r models.ScoredResult) (*resultRow, error) {
	row := &resultRow{
		SessionID:       sessionID,
		Slug:            r.Slug,
		Name:            r.Name,
		Version:         r.Version,
		Kind:            string(r.Kind),
		Score:           r.Score,
		Installations:   r.ActiveInstalls,
		DaysSinceUpdate: r.DaysSinceUpdate,
		TestedWPVersion: r.TestedWP,
		Author:          r.Author,
		AuthorTrusted:   r.AuthorTrusted,
		IsRiskyCategory: r.IsRiskyCategory,
		IsUserFacing:    r.IsUserFacing,
		RiskTags:        EncodeList(r.RiskTags),
		SecurityFlags:   EncodeList(r.SecurityFlags),
		FeatureFlags:    EncodeList(r.FeatureFlags),
		Tags:            EncodeList(r.Tags),
		DownloadLink:    r.DownloadLink,
	}

	if r.CodeAnalysis != nil {
		data, err := json.Marshal(r.CodeAnalysis)
		if err != nil {
			return nil, fmt.Errorf("failed to encode code analysis: %w", err)
		}
		s := string(data)
		row.CodeAnalysisJSON = &s
	}

	if len(r.Contributions) > 0 {
		data, err := json.Marshal(r.Contributions)
		if err != nil {
			return nil, fmt.Errorf("failed to encode contributions: %w", err)
		}
		row.ContributionsJSON = string(data)
	}
	return row, nil
}

func fromRow(row resultRow) (models.ResultRecord, error) {
	rec := models.ResultRecord{
		ID:        row.ID,
		SessionID: row.SessionID,
		ScoredResult: models.ScoredResult{
			TargetMetadata: models.TargetMetadata{
				Slug:           row.Slug,
				Name:           row.Name,
				Version:        row.Version,
				Kind:           models.TargetKind(row.Kind),
				ActiveInstalls: row.Installations,
				TestedWP:       row.TestedWPVersion,
				Author:         row.Author,
				AuthorTrusted:  row.AuthorTrusted,
				Tags:           DecodeList(row.Tags),
				DownloadLink:   row.DownloadLink,
			},
			Score:           row.Score,
			DaysSinceUpdate: row.DaysSinceUpdate,
			RiskTags:        DecodeList(row.RiskTags),
			SecurityFlags:   DecodeList(row.SecurityFlags),
			FeatureFlags:    DecodeList(row.FeatureFlags),
			IsRiskyCategory: row.IsRiskyCategory,
			IsUserFacing:    row.IsUserFacing,
		},
	}

	if row.CodeAnalysisJSON != nil {
		ca := models.NewCodeAnalysisResult()
		if err := json.Unmarshal([]byte(*row.CodeAnalysisJSON), ca); err != nil {
			return rec, fmt.Errorf("failed to decode code analysis for %s: %w", row.Slug, err)
		}
		rec.CodeAnalysis = ca
	}

	if row.ContributionsJSON != "" {
		if err := json.Unmarshal([]byte(row.ContributionsJSON), &rec.Contributions); err != nil {
			return rec, fmt.Errorf("failed to decode contributions for %s: %w", row.Slug, err)
		}
	}
	return rec, nil
}

func fromSessionRow(row sessionRow) models.ScanSession {
	return models.ScanSession{
		ID:            row.ID,
		CreatedAt:     row.CreatedAt,
		ConfigJSON:    row.ConfigJSON,
		Status:        models.SessionStatus(row.Status),
		TotalFound:    row.TotalFound,
		HighRiskCount: row.HighRiskCount,
		ErrorMessage:  row.ErrorMessage,
	}
}
