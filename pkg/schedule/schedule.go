// Package schedule persists planned outbound calls and the external
// conditions that gate them.
//
// Entries are append-only: a planned call is seeded once and then only
// its completion flag ever changes. Conditions are named booleans set
// to true exactly once and read repeatedly by the scheduling loop.
//
// The Badger implementation is the production store; Memory backs unit
// tests of consumers.
package schedule

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when an entry or condition does not exist.
	ErrNotFound = errors.New("schedule: not found")
)

// Entry is one planned outbound call.
type Entry struct {
	// ID uniquely identifies the entry. Assigned at seed time.
	ID string `msgpack:"id" yaml:"id"`

	// Persona is the name of the persona placing the call.
	Persona string `msgpack:"persona" yaml:"persona"`

	// Prompt overrides the persona's inbound prompt for this call.
	Prompt string `msgpack:"prompt" yaml:"prompt"`

	// StartAt is the earliest time the call may be attempted.
	StartAt time.Time `msgpack:"start_at" yaml:"start_at"`

	// ConditionID, if set, names a condition that must be satisfied
	// before the call is attempted.
	ConditionID string `msgpack:"condition_id,omitempty" yaml:"condition_id"`

	// Completed is set once, immediately after the call ends.
	Completed bool `msgpack:"completed" yaml:"-"`
}

// Store is the persistence contract for planned calls and conditions.
type Store interface {
	// CountByPersona returns the number of entries (completed or not)
	// recorded for a persona. Used for first-run seeding.
	CountByPersona(ctx context.Context, persona string) (int, error)

	// BulkInsert stores entries and registers any condition IDs they
	// reference as unsatisfied (without overwriting satisfied ones).
	BulkInsert(ctx context.Context, entries []Entry) error

	// PendingByPersona returns a persona's not-completed entries
	// ordered by StartAt ascending.
	PendingByPersona(ctx context.Context, persona string) ([]Entry, error)

	// MarkCompleted sets an entry's completion flag.
	MarkCompleted(ctx context.Context, id string) error

	// Condition reports whether a condition is satisfied. Unknown
	// conditions are unsatisfied, not errors.
	Condition(ctx context.Context, id string) (bool, error)

	// SetCondition records a condition's satisfied flag.
	SetCondition(ctx context.Context, id string, satisfied bool) error

	// Close releases the store.
	Close() error
}
