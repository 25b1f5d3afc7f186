package mongodb

import (
	"context"
	"errors"
	"io"
	"net"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mongoward/mongoward/docdb"
)

// namespaceExistsCode is raised when a collection is created twice,
// typically by a racing bootstrapper.
const namespaceExistsCode = 48

// DefaultRetryCodes is the "switched primary" family of write error codes
// that are safe to retry after a reconnect.
var DefaultRetryCodes = []int32{
	91,    // ShutdownInProgress
	189,   // PrimarySteppedDown
	10107, // NotWritablePrimary
	11600, // InterruptedAtShutdown
	11602, // InterruptedDueToReplStateChange
	13435, // NotPrimaryNoSecondaryOk
	13436, // NotPrimaryOrSecondary
}

// classify translates a driver error into the docdb taxonomy. Unclassified
// errors pass through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return docdb.ErrNoDocuments
	}
	if mongo.IsDuplicateKeyError(err) {
		code, _ := serverErrorCode(err)
		return docdb.NewError(docdb.KindDuplicateKey, code, err)
	}
	if isConnectivity(err) {
		return docdb.NewError(docdb.KindConnectivity, 0, err)
	}
	if code, ok := serverErrorCode(err); ok {
		if code == namespaceExistsCode {
			return docdb.NewError(docdb.KindCollectionExists, code, err)
		}
		return docdb.NewError(docdb.KindWriteConflict, code, err)
	}
	return err
}

// isConnectivity covers network failures, timeouts and server selection
// errors. Everything in this class is safe to retry after a reconnect.
func isConnectivity(err error) bool {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// serverErrorCode extracts the first server error code carried by err.
func serverErrorCode(err error) (int32, bool) {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, wErr := range we.WriteErrors {
			return int32(wErr.Code), true
		}
		if we.WriteConcernError != nil {
			return int32(we.WriteConcernError.Code), true
		}
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, wErr := range bwe.WriteErrors {
			return int32(wErr.Code), true
		}
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return 0, false
}
