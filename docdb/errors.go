package docdb

import (
	"errors"
	"fmt"
)

// ErrNoDocuments is returned by single-document reads when no document
// matched the filter.
var ErrNoDocuments = errors.New("docdb: no documents in result")

// Kind classifies a database error for retry decisions.
type Kind int

const (
	// KindUnclassified covers everything the implementation could not place.
	KindUnclassified Kind = iota
	// KindConnectivity covers network failures, timeouts and failover errors.
	KindConnectivity
	// KindWriteConflict covers write/command errors carrying a server code.
	KindWriteConflict
	// KindDuplicateKey covers unique-constraint violations.
	KindDuplicateKey
	// KindCollectionExists covers creation of an already existing collection.
	KindCollectionExists
)

// String returns a readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindWriteConflict:
		return "write_conflict"
	case KindDuplicateKey:
		return "duplicate_key"
	case KindCollectionExists:
		return "collection_exists"
	default:
		return "unclassified"
	}
}

// Error is a classified database error. Implementations wrap every error
// they surface so callers can branch on kind and code without importing
// driver packages.
type Error struct {
	Kind Kind
	// Code is the server error code, when the kind carries one.
	Code int32
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("docdb: %s (code %d): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("docdb: %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a classification.
func NewError(kind Kind, code int32, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

// KindOf returns the classification of err, KindUnclassified when none.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnclassified
}

// CodeOf returns the server error code carried by err, if any.
func CodeOf(err error) (int32, bool) {
	var ce *Error
	if errors.As(err, &ce) && ce.Code != 0 {
		return ce.Code, true
	}
	return 0, false
}

// IsConnectivity reports whether err is a connectivity-class error.
func IsConnectivity(err error) bool {
	return KindOf(err) == KindConnectivity
}

// IsDuplicateKey reports whether err is a unique-constraint violation.
func IsDuplicateKey(err error) bool {
	return KindOf(err) == KindDuplicateKey
}

// IsCollectionExists reports whether err signals that the collection was
// already created, typically by a racing peer.
func IsCollectionExists(err error) bool {
	return KindOf(err) == KindCollectionExists
}

// IsNoDocuments reports whether err means the filter matched nothing.
func IsNoDocuments(err error) bool {
	return errors.Is(err, ErrNoDocuments)
}
