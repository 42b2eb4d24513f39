package storage

import (
	"context"
	"errors"

	"github.com/ppiankov/wphunter/internal/models"
)

var (
	// ErrSessionNotFound is returned when a session id does not exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrIllegalTransition is returned when a status change is not allowed
	ErrIllegalTransition = errors.New("illegal session status transition")
)

// DefaultResultLimit applies when a non-positive limit is requested
const DefaultResultLimit = 100

// DefaultSessionLimit applies when listing sessions with a non-positive limit
const DefaultSessionLimit = 50

// SessionUpdate carries optional counters for a status update.
// Nil fields are left unchanged.
type SessionUpdate struct {
	TotalFound    *int
	HighRiskCount *int
	ErrorMessage  *string
}

// ResultQuery selects and orders the results of one session
type ResultQuery struct {
	SortBy models.SortKey
	Order  models.SortOrder
	Limit  int
}

// Repository persists scan sessions and their results
type Repository interface {
	// CreateSession stores a new PENDING session and returns its id
	CreateSession(ctx context.Context, configJSON string) (string, error)

	// UpdateSessionStatus moves a session to status and applies any supplied counters
	UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus, upd SessionUpdate) error

	// SaveResult appends a result to a session and returns the result id
	SaveResult(ctx context.Context, sessionID string, result models.ScoredResult) (int64, error)

	// GetSession returns one session
	GetSession(ctx context.Context, id string) (*models.ScanSession, error)

	// ListSessions returns the most recent sessions, newest first
	ListSessions(ctx context.Context, limit int) ([]models.ScanSession, error)

	// GetSessionResults returns the results of a session in the requested order
	GetSessionResults(ctx context.Context, sessionID string, q ResultQuery) ([]models.ResultRecord, error)

	// DeleteSession removes a session and its results, reporting whether it existed
	DeleteSession(ctx context.Context, id string) (bool, error)

	// Close releases the underlying connection
	Close() error
}

// Int returns a pointer to v, for SessionUpdate fields
func Int(v int) *int { return &v }

// String returns a pointer to v, for SessionUpdate fields
func String(v string) *string { return &v }
