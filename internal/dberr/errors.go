// Package dberr defines the error taxonomy shared by every layer of the path
// database.
//
// Errors fall into two classes:
//   - Recoverable: NotFound, InvalidPath, InvalidDocument, StructuralConflict.
//     These are returned to the caller as normal results.
//   - Fatal: CorruptData, MigrationGap, MigrationTransformFailed. These put the
//     store into a failed state and it stops serving requests.
package dberr

import (
	"errors"
	"fmt"
)

// Code categorizes database errors.
type Code string

const (
	// CodeNotFound indicates no entry exists at or below a path.
	CodeNotFound Code = "NOT_FOUND"

	// CodeInvalidPath indicates a malformed path segment or member name.
	CodeInvalidPath Code = "INVALID_PATH"

	// CodeInvalidDocument indicates a request body that is not acceptable JSON.
	CodeInvalidDocument Code = "INVALID_DOCUMENT"

	// CodeStructuralConflict indicates a leaf/container clash that was
	// resolved by the last-write-wins policy.
	CodeStructuralConflict Code = "STRUCTURAL_CONFLICT"

	// CodeCorruptData indicates a stored leaf could not be decoded or decrypted.
	CodeCorruptData Code = "CORRUPT_DATA"

	// CodeMigrationGap indicates no transform is registered for a required
	// intermediate schema version.
	CodeMigrationGap Code = "MIGRATION_GAP"

	// CodeMigrationTransformFailed indicates a registered transform returned
	// an error.
	CodeMigrationTransformFailed Code = "MIGRATION_TRANSFORM_FAILED"
)

// Error is the structured error returned by the database.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Path is the document path involved, if any.
	Path string

	// Version is the schema version involved (migration errors only).
	Version int

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Path != "" {
		msg += fmt.Sprintf(" (path=%s)", e.Path)
	}
	if e.Version != 0 {
		msg += fmt.Sprintf(" (version=%d)", e.Version)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code, so sentinel comparisons like
// errors.Is(err, dberr.ErrNotFound) work regardless of message or path.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code && t.Message == "" && t.Path == ""
	}
	return false
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound                 = &Error{Code: CodeNotFound}
	ErrInvalidPath              = &Error{Code: CodeInvalidPath}
	ErrInvalidDocument          = &Error{Code: CodeInvalidDocument}
	ErrStructuralConflict       = &Error{Code: CodeStructuralConflict}
	ErrCorruptData              = &Error{Code: CodeCorruptData}
	ErrMigrationGap             = &Error{Code: CodeMigrationGap}
	ErrMigrationTransformFailed = &Error{Code: CodeMigrationTransformFailed}
)

// NotFound creates a NotFound error for path.
func NotFound(path string) *Error {
	return &Error{Code: CodeNotFound, Message: "no data at path", Path: path}
}

// InvalidPath creates an InvalidPath error.
func InvalidPath(path, format string, args ...any) *Error {
	return &Error{Code: CodeInvalidPath, Message: fmt.Sprintf(format, args...), Path: path}
}

// InvalidDocument creates an InvalidDocument error wrapping cause.
func InvalidDocument(path, message string, cause error) *Error {
	return &Error{Code: CodeInvalidDocument, Message: message, Path: path, Err: cause}
}

// StructuralConflict describes a resolved leaf/container clash at path.
func StructuralConflict(path, message string) *Error {
	return &Error{Code: CodeStructuralConflict, Message: message, Path: path}
}

// CorruptData creates a CorruptData error for the stored entry at path.
func CorruptData(path, message string, cause error) *Error {
	return &Error{Code: CodeCorruptData, Message: message, Path: path, Err: cause}
}

// MigrationGap creates a MigrationGap error for the missing version.
func MigrationGap(version int) *Error {
	return &Error{
		Code:    CodeMigrationGap,
		Message: fmt.Sprintf("no transform registered for schema version %d", version),
		Version: version,
	}
}

// MigrationTransformFailed wraps the error a transform returned.
func MigrationTransformFailed(version int, name string, cause error) *Error {
	return &Error{
		Code:    CodeMigrationTransformFailed,
		Message: fmt.Sprintf("transform %q failed", name),
		Version: version,
		Err:     cause,
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound returns true if err is a NotFound error.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsInvalidPath returns true if err is an InvalidPath error.
func IsInvalidPath(err error) bool {
	return CodeOf(err) == CodeInvalidPath
}

// IsInvalidDocument returns true if err is an InvalidDocument error.
func IsInvalidDocument(err error) bool {
	return CodeOf(err) == CodeInvalidDocument
}

// IsCorruptData returns true if err is a CorruptData error.
func IsCorruptData(err error) bool {
	return CodeOf(err) == CodeCorruptData
}

// IsMigrationGap returns true if err is a MigrationGap error.
func IsMigrationGap(err error) bool {
	return CodeOf(err) == CodeMigrationGap
}

// IsMigrationFailed returns true if err is a MigrationTransformFailed error.
func IsMigrationFailed(err error) bool {
	return CodeOf(err) == CodeMigrationTransformFailed
}

// IsFatal returns true if err must stop the store from serving requests.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case CodeCorruptData, CodeMigrationGap, CodeMigrationTransformFailed:
		return true
	}
	return false
}

// IsRecoverable returns true if err is a database error the caller can
// handle as a normal result.
func IsRecoverable(err error) bool {
	switch CodeOf(err) {
	case CodeNotFound, CodeInvalidPath, CodeInvalidDocument, CodeStructuralConflict:
		return true
	}
	return false
}
