// Package store defines the persistence interfaces for the relay: user
// accounts and the call history ledger.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// User is a registered relay account.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// CallRecord is one finished or in-flight call session as the relay saw
// it. Status values mirror the signaling protocol.
type CallRecord struct {
	ID             string
	CallerUserID   string
	CalleeUserID   string
	ConversationID string
	IsVideoCall    bool
	IsGroupCall    bool
	Status         string
	Reason         string
	StartedAt      time.Time
	EndedAt        *time.Time
}

// UserStore handles account persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, id, username, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// CallStore handles call history persistence.
type CallStore interface {
	// CreateCall records a new call session.
	CreateCall(ctx context.Context, rec *CallRecord) error

	// UpdateCallStatus updates the status (and optional reason) of a call.
	// A terminal status also stamps EndedAt.
	UpdateCallStatus(ctx context.Context, id, status, reason string, endedAt *time.Time) error

	// GetCall retrieves a call by ID.
	GetCall(ctx context.Context, id string) (*CallRecord, error)

	// ListCallsForUser lists the most recent calls a user took part in.
	ListCallsForUser(ctx context.Context, userID string, limit int) ([]*CallRecord, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	CallStore

	// Close closes the underlying database connection.
	Close() error
}
