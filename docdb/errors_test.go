package docdb

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "connectivity", KindConnectivity.String())
	assert.Equal(t, "write_conflict", KindWriteConflict.String())
	assert.Equal(t, "duplicate_key", KindDuplicateKey.String())
	assert.Equal(t, "collection_exists", KindCollectionExists.String())
	assert.Equal(t, "unclassified", KindUnclassified.String())
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("socket closed")
	err := NewError(KindConnectivity, 0, cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connectivity")
	assert.Contains(t, err.Error(), "socket closed")
}

func TestErrorMessageIncludesCode(t *testing.T) {
	err := NewError(KindWriteConflict, 91, errors.New("stepping down"))
	assert.Contains(t, err.Error(), "code 91")
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindConnectivity, KindOf(NewError(KindConnectivity, 0, errors.New("x"))))
	assert.Equal(t, KindUnclassified, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnclassified, KindOf(nil))

	// classification survives wrapping
	wrapped := fmt.Errorf("outer: %w", NewError(KindDuplicateKey, 11000, errors.New("dup")))
	assert.Equal(t, KindDuplicateKey, KindOf(wrapped))
}

func TestCodeOf(t *testing.T) {
	code, ok := CodeOf(NewError(KindWriteConflict, 189, errors.New("x")))
	require.True(t, ok)
	assert.Equal(t, int32(189), code)

	_, ok = CodeOf(NewError(KindConnectivity, 0, errors.New("x")))
	assert.False(t, ok)

	_, ok = CodeOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsConnectivity(NewError(KindConnectivity, 0, errors.New("x"))))
	assert.False(t, IsConnectivity(errors.New("plain")))

	assert.True(t, IsDuplicateKey(NewError(KindDuplicateKey, 11000, errors.New("x"))))
	assert.True(t, IsCollectionExists(NewError(KindCollectionExists, 48, errors.New("x"))))

	assert.True(t, IsNoDocuments(ErrNoDocuments))
	assert.True(t, IsNoDocuments(fmt.Errorf("find: %w", ErrNoDocuments)))
	assert.False(t, IsNoDocuments(errors.New("plain")))
}
