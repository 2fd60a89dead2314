package tx

import (
	"errors"
	"fmt"
)

// Error represents a failure of a transaction or session operation.
//
// Errors come in four kinds:
//   - Identity conflict: an insert for an id the transaction already logged
//   - Ordering violation: begin, commit or rollback out of stack order
//   - Backend failure: the storage adapter failed while committing or rolling back
//   - Serialization failure: a snapshot could not be taken or restored
//
// Identity conflicts and ordering violations leave the log untouched.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// TxID is the affected transaction, zero if none.
	TxID int64

	// ObjectID is the affected object, zero for transaction-level errors.
	ObjectID uint64

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes transaction errors.
type ErrorCode string

const (
	// ErrCodeIdentityConflict indicates a duplicate insert id within a transaction.
	ErrCodeIdentityConflict ErrorCode = "IDENTITY_CONFLICT"

	// ErrCodeOrderingViolation indicates an operation on a transaction that is not current.
	ErrCodeOrderingViolation ErrorCode = "ORDERING_VIOLATION"

	// ErrCodeBackendFailure indicates the storage adapter failed.
	ErrCodeBackendFailure ErrorCode = "BACKEND_FAILURE"

	// ErrCodeSerializationFailure indicates a malformed or unwritable snapshot.
	ErrCodeSerializationFailure ErrorCode = "SERIALIZATION_FAILURE"
)

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.TxID != 0 && e.ObjectID != 0:
		msg = fmt.Sprintf("%s (tx=%d, object=%d)", msg, e.TxID, e.ObjectID)
	case e.TxID != 0:
		msg = fmt.Sprintf("%s (tx=%d)", msg, e.TxID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func hasCode(err error, code ErrorCode) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}

// IsIdentityConflict returns true if the error is an identity conflict.
func IsIdentityConflict(err error) bool { return hasCode(err, ErrCodeIdentityConflict) }

// IsOrderingViolation returns true if the error is an ordering violation.
func IsOrderingViolation(err error) bool { return hasCode(err, ErrCodeOrderingViolation) }

// IsBackendFailure returns true if the error is a backend failure.
func IsBackendFailure(err error) bool { return hasCode(err, ErrCodeBackendFailure) }

// IsSerializationFailure returns true if the error is a serialization failure.
func IsSerializationFailure(err error) bool { return hasCode(err, ErrCodeSerializationFailure) }

// Code returns the code of the first transaction error in err's chain.
func Code(err error) (ErrorCode, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Code, true
	}
	return "", false
}

func newOrderingError(txID int64, format string, args ...any) *Error {
	return &Error{
		Code:    ErrCodeOrderingViolation,
		Message: fmt.Sprintf(format, args...),
		TxID:    txID,
	}
}

func newIdentityError(txID int64, objectID uint64) *Error {
	return &Error{
		Code:     ErrCodeIdentityConflict,
		Message:  "an object with this id is already logged",
		TxID:     txID,
		ObjectID: objectID,
	}
}

func newBackendError(txID int64, objectID uint64, message string, err error) *Error {
	return &Error{
		Code:     ErrCodeBackendFailure,
		Message:  message,
		TxID:     txID,
		ObjectID: objectID,
		Err:      err,
	}
}

func newSerializationError(txID int64, objectID uint64, message string, err error) *Error {
	return &Error{
		Code:     ErrCodeSerializationFailure,
		Message:  message,
		TxID:     txID,
		ObjectID: objectID,
		Err:      err,
	}
}
