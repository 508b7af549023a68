// Package storage defines the persistence boundary for principals and
// analysis records. Backends live in the memory, bbolt and postgres
// subpackages.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmailTaken is returned by CreatePrincipal for a duplicate email.
	ErrEmailTaken = errors.New("email already registered")
)

// Principal is a registered user. Email is stored normalized.
type Principal struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	CredentialHash string    `json:"credential_hash"`
	CreatedAt      time.Time `json:"created_at"`
}

// AnalysisRecord is one successful classification. Records are immutable.
type AnalysisRecord struct {
	ID             string    `json:"id"`
	PrincipalID    string    `json:"principal_id"`
	PredictedLabel string    `json:"predicted_label"`
	Confidence     float64   `json:"confidence"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists principals and analyses. Implementations are safe for
// concurrent use.
type Store interface {
	// CreatePrincipal inserts p. The email is normalized in place; a
	// duplicate returns ErrEmailTaken.
	CreatePrincipal(ctx context.Context, p *Principal) error
	PrincipalByEmail(ctx context.Context, email string) (*Principal, error)
	PrincipalByID(ctx context.Context, id string) (*Principal, error)
	InsertAnalysis(ctx context.Context, rec *AnalysisRecord) error
	// ListAnalyses returns one page of a principal's records, newest first,
	// and the total number of records the principal has.
	ListAnalyses(ctx context.Context, principalID string, limit, offset int) ([]AnalysisRecord, int, error)
	Ping(ctx context.Context) error
	Close() error
}

// NormalizeEmail trims surrounding space and applies Unicode case folding
// so that addresses differing only in case map to the same principal.
func NormalizeEmail(email string) string {
	// A Caser is stateful and must not be shared between goroutines.
	return cases.Fold().String(strings.TrimSpace(email))
}

// Page clamps limit and offset against total and returns the slice bounds.
func Page(total, limit, offset int) (start, end int) {
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end = total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return offset, end
}
