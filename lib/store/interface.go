package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dDoc/lib/docdb"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new document db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() docdb.DocDB

// IDocStore is the narrow interface the benchmark client uses to talk to a document store.
// All keys passed to the store are fully qualified (see QualifyKey).
// Every write returns the version the store assigned to the document, reads return the
// current version so that callers can issue conditional writes.
type IDocStore interface {
	// Get returns the current content and version of a document.
	// The boolean return value indicates whether the document exists.
	Get(key string) (doc Document, found bool, err error)
	// Insert creates or overwrites a document. A zero expiry means the document never expires.
	// The write fails with RetCDurabilityImpossible if the durability requirement can not be met.
	Insert(key string, fields Fields, expiry time.Duration, durability Durability) (version Version, err error)
	// Add creates a document only if it does not exist yet (RetCExists otherwise).
	Add(key string, fields Fields, expiry time.Duration, durability Durability) (version Version, err error)
	// CompareAndSwap replaces the content of a document only if its current version
	// still equals expected. The check and the write are a single atomic step inside the store.
	// A version mismatch returns RetCVersionConflict, a missing document RetCNotFound.
	// The expiry of the document is kept.
	CompareAndSwap(key string, expected Version, fields Fields, durability Durability) (version Version, err error)
	// Delete removes a document. Deleting a missing document returns RetCNotFound.
	Delete(key string) (err error)
	// ResolveView looks up the metadata of a view. Unknown views return RetCViewNotFound.
	ResolveView(id ViewID) (view *ViewHandle, err error)
	// RangeQuery returns up to limit rows of a view ordered by the view key,
	// starting at the first row whose key is greater or equal to startKey.
	RangeQuery(view *ViewHandle, startKey string, limit int) (page Page, err error)
	// Close releases the resources held by the store.
	Close() (err error)
}

// IInfoProvider is implemented by stores that can report information about their database.
type IInfoProvider interface {
	GetDBInfo() (info docdb.DatabaseInfo, err error)
}

// IExpiryPurger is implemented by stores that can remove expired documents on request.
// Replicated stores purge through their log so all replicas remove the same documents.
type IExpiryPurger interface {
	PurgeExpired() (removed int, err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("DocStoreError (code %s): %s", e.Code, e.Msg)
}

// Is reports whether target is a *Error with the same code (or a code family
// the target stands for, see ErrWriteFailed).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t == ErrWriteFailed {
		return e.Code.IsWriteFailure()
	}
	return t.Code == e.Code
}

// NewError creates a new DocStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new DocStoreError with a formatted message.
func Errorf(code RetCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// CodeOf returns the return code of err. Errors that are not a *Error map to RetCTransport
// since they were produced outside the store (network, serialization, ...).
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCTransport
}

// Sentinel errors for errors.Is checks
var (
	ErrNotFound        = NewError(RetCNotFound, "document not found")
	ErrExists          = NewError(RetCExists, "document already exists")
	ErrVersionConflict = NewError(RetCVersionConflict, "version conflict")
	ErrWriteFailed     = NewError(RetCDurabilityImpossible, "write failed")
	ErrViewNotFound    = NewError(RetCViewNotFound, "view not found")
	ErrQueryFailed     = NewError(RetCQueryFailed, "query failed")
	ErrTransport       = NewError(RetCTransport, "transport error")
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCNotFound                            // 4: The document does not exist.
	RetCExists                              // 5: The document already exists (Add).
	RetCVersionConflict                     // 6: The document was changed since it was read.
	RetCDurabilityImpossible                // 7: The durability requirement can not be satisfied.
	RetCTimeout                             // 8: The operation did not finish within the operation timeout.
	RetCViewNotFound                        // 9: The view is not defined.
	RetCQueryFailed                         // 10: The view query reported index errors.
	RetCTransport                           // 11: The request could not be delivered or decoded.
)

// IsWriteFailure reports whether a write that returned this code failed for a
// systemic reason (durability, timeout, internal error, transport) rather than
// because of the state of the document.
func (c RetCode) IsWriteFailure() bool {
	switch c {
	case RetCDurabilityImpossible, RetCTimeout, RetCInternalError, RetCTransport, RetCUnsupportedOperation:
		return true
	default:
		return false
	}
}

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCNotFound:
		return "NotFound"
	case RetCExists:
		return "Exists"
	case RetCVersionConflict:
		return "VersionConflict"
	case RetCDurabilityImpossible:
		return "DurabilityImpossible"
	case RetCTimeout:
		return "Timeout"
	case RetCViewNotFound:
		return "ViewNotFound"
	case RetCQueryFailed:
		return "QueryFailed"
	case RetCTransport:
		return "Transport"
	default:
		return "Unknown"
	}
}
