package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no session state exists for an account.
var ErrNotFound = errors.New("session state not found")

// Session is the login state kept for one presence account between runs.
type Session struct {
	Account      string
	MachineToken string
	UpdatedAt    time.Time
}

// SessionStore persists presence login state inside the data folder.
type SessionStore interface {
	GetSession(ctx context.Context, account string) (*Session, error)
	SaveMachineToken(ctx context.Context, account, token string) error
	DeleteSession(ctx context.Context, account string) error
	Close() error
}
