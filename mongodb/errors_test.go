package mongodb

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mongoward/mongoward/docdb"
)

func TestClassifyNil(t *testing.T) {
	assert.NoError(t, classify(nil))
}

func TestClassifyNoDocuments(t *testing.T) {
	err := classify(mongo.ErrNoDocuments)
	assert.True(t, docdb.IsNoDocuments(err))
}

func TestClassifyConnectivity(t *testing.T) {
	cases := map[string]error{
		"deadline":  context.DeadlineExceeded,
		"eof":       io.EOF,
		"mongo_net": mongo.CommandError{Labels: []string{"NetworkError"}},
	}

	for name, cause := range cases {
		err := classify(cause)
		assert.True(t, docdb.IsConnectivity(err), name)
	}
}

func TestClassifyCommandErrorCarriesCode(t *testing.T) {
	err := classify(mongo.CommandError{Code: 91, Message: "ShutdownInProgress"})

	assert.Equal(t, docdb.KindWriteConflict, docdb.KindOf(err))
	code, ok := docdb.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, int32(91), code)
}

func TestClassifyNamespaceExists(t *testing.T) {
	err := classify(mongo.CommandError{Code: namespaceExistsCode, Message: "NamespaceExists"})
	assert.True(t, docdb.IsCollectionExists(err))
}

func TestClassifyWriteException(t *testing.T) {
	err := classify(mongo.WriteException{
		WriteErrors: mongo.WriteErrors{{Code: 11602, Message: "InterruptedDueToReplStateChange"}},
	})

	assert.Equal(t, docdb.KindWriteConflict, docdb.KindOf(err))
	code, ok := docdb.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, int32(11602), code)
}

func TestClassifyDuplicateKey(t *testing.T) {
	err := classify(mongo.WriteException{
		WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key error"}},
	})

	assert.True(t, docdb.IsDuplicateKey(err))
	code, ok := docdb.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, int32(11000), code)
}

func TestClassifyUnclassifiedPassesThrough(t *testing.T) {
	cause := errors.New("unrelated failure")
	err := classify(cause)

	assert.Same(t, cause, err)
	assert.Equal(t, docdb.KindUnclassified, docdb.KindOf(err))
}

func TestDefaultRetryCodes(t *testing.T) {
	assert.Equal(t, []int32{91, 189, 10107, 11600, 11602, 13435, 13436}, DefaultRetryCodes)
}
