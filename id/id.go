// Package id defines TypeID-based identity types for watchledger entities.
//
// Users and videos are owned by external collaborators and keep their own
// string identifiers. The identifiers minted here belong to records the
// engine creates itself: estimator sessions, historical watch events and
// reconciliation runs. IDs are K-sortable (UUIDv7-based) and render as
// "prefix_suffix".
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for all watchledger entity types.
const (
	PrefixWatchSession Prefix = "wsess" // Estimator/accumulator session
	PrefixWatchEvent   Prefix = "wevt"  // Historical watched-video event
	PrefixReconcileRun Prefix = "rrun"  // Batch reconciliation run
)

// ID is the identifier type for engine-minted records.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g., "wevt_01h2xcejqtf2nbrexx3vqjhp41").
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// SessionID identifies a single tracked viewing session (prefix: "wsess").
type SessionID = ID

// WatchEventID identifies a historical watch event (prefix: "wevt").
type WatchEventID = ID

// ReconcileRunID identifies one batch reconciliation pass (prefix: "rrun").
type ReconcileRunID = ID

// NewSessionID generates a new session ID.
func NewSessionID() ID { return New(PrefixWatchSession) }

// NewWatchEventID generates a new watch event ID.
func NewWatchEventID() ID { return New(PrefixWatchEvent) }

// NewReconcileRunID generates a new reconciliation run ID.
func NewReconcileRunID() ID { return New(PrefixReconcileRun) }

// ParseSessionID parses a string and validates the "wsess" prefix.
func ParseSessionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWatchSession) }

// ParseWatchEventID parses a string and validates the "wevt" prefix.
func ParseWatchEventID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWatchEvent) }

// ParseReconcileRunID parses a string and validates the "rrun" prefix.
func ParseReconcileRunID(s string) (ID, error) { return ParseWithPrefix(s, PrefixReconcileRun) }

// String returns the full TypeID string representation (prefix_suffix).
// Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer for database storage.
// Returns nil for the Nil ID so that optional foreign key columns store NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil

			return nil
		}

		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil

			return nil
		}

		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
