package update

import (
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/store"
)

// ErrDocumentNotFound is returned when the document to update does not exist
// (or vanished between fetch and commit). It matches store.ErrNotFound.
var ErrDocumentNotFound = store.NewError(store.RetCNotFound, "document to update not found")

// AbandonedError is returned when every allowed attempt ended in a version conflict.
type AbandonedError struct {
	Key      string
	Attempts int
}

func (e *AbandonedError) Error() string {
	return fmt.Sprintf("update of %q abandoned after %d conflicting attempts", e.Key, e.Attempts)
}
