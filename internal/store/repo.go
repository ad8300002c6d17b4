package store

import (
	"context"

	"github.com/ykvlv/timekeeper/internal/domain"
)

// Queries is the set of record operations available both on the repository
// and inside a transaction.
type Queries interface {
	GetOrCreateUser(ctx context.Context, id, defaultTZ string) (u *domain.User, created bool, err error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	SaveUser(ctx context.Context, u *domain.User) error
	// ClaimName sets the user's name unless it is already set or held by
	// another user, and reports whether it was stored.
	ClaimName(ctx context.Context, id, name string) (bool, error)

	// LastAttendance returns the most recently started attendance, or nil.
	LastAttendance(ctx context.Context, userID string) (*domain.Attendance, error)
	CreateAttendance(ctx context.Context, a *domain.Attendance) error
	SaveAttendance(ctx context.Context, a *domain.Attendance) error
	ListAttendances(ctx context.Context, userID string, limit int) ([]domain.Attendance, error)
	CountAttendances(ctx context.Context, userID string) (int, error)
	DailyAttendances(ctx context.Context, userID string, limit int) ([]domain.DailyAttendance, error)
}

// Repo is the attendance record store.
type Repo interface {
	Queries
	// InTx runs fn inside one transaction; fn must only use the Queries it is given.
	InTx(ctx context.Context, fn func(q Queries) error) error
	// Query runs a raw statement for the operator debug console.
	Query(ctx context.Context, query string) (columns []string, rows [][]string, err error)
	Close() error
}
