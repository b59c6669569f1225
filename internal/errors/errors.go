// Package errors defines the typed error kinds that cross component
// boundaries in devac. Each kind is opaque to callers except by
// discriminant (errors.As / errors.Is), per the propagation policy:
// per-file errors are captured in call reports and never raised past
// the sync orchestrator; fatal errors retry once and then propagate.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind discriminates the error catalogue.
type Kind int

const (
	KindParseError Kind = iota
	KindSchemaViolation
	KindIntegrityMismatch
	KindAcquireTimeout
	KindPoolShutdown
	KindFatalStoreError
	KindPreprocessError
	KindResolveTimeout
	KindHubWriteError
	KindURIParseError
)

func (k Kind) String() string {
	switch k {
	case KindParseError:
		return "ParseError"
	case KindSchemaViolation:
		return "SchemaViolation"
	case KindIntegrityMismatch:
		return "IntegrityMismatch"
	case KindAcquireTimeout:
		return "AcquireTimeout"
	case KindPoolShutdown:
		return "PoolShutdown"
	case KindFatalStoreError:
		return "FatalStoreError"
	case KindPreprocessError:
		return "PreprocessError"
	case KindResolveTimeout:
		return "ResolveTimeout"
	case KindHubWriteError:
		return "HubWriteError"
	case KindURIParseError:
		return "URIParseError"
	default:
		return "Unknown"
	}
}

// Fatal reports whether a Kind must stop the current operation rather
// than being captured in a per-call report.
func (k Kind) Fatal() bool {
	switch k {
	case KindSchemaViolation, KindIntegrityMismatch, KindAcquireTimeout,
		KindPoolShutdown, KindFatalStoreError, KindPreprocessError:
		return true
	default:
		return false
	}
}

// Error wraps a Kind with structured context and an optional cause.
type Error struct {
	Kind    Kind
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// With attaches a context key/value and returns the same error for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func newErr(k Kind, cause error) *Error {
	return &Error{Kind: k, Cause: cause, Context: make(map[string]any)}
}

// ParseError records a per-file parse failure. Non-fatal to the package.
func ParseError(file string, cause error) *Error {
	return newErr(KindParseError, cause).With("file", file)
}

// SchemaViolation refuses to persist a batch. Fatal to the sync.
func SchemaViolation(table, field string) *Error {
	return newErr(KindSchemaViolation, nil).With("table", table).With("field", field)
}

// IntegrityMismatch reports a parquet file contradicting an on-disk assumption.
func IntegrityMismatch(detail string) *Error {
	return newErr(KindIntegrityMismatch, nil).With("detail", detail)
}

// AcquireTimeout reports a pool acquire that exceeded its deadline.
func AcquireTimeout() *Error {
	return newErr(KindAcquireTimeout, nil)
}

// PoolShutdown reports an acquire against a torn-down pool.
func PoolShutdown() *Error {
	return newErr(KindPoolShutdown, nil)
}

// FatalStoreError wraps an engine-level fault. Triggers one recovery retry.
func FatalStoreError(cause error) *Error {
	return newErr(KindFatalStoreError, cause)
}

// PreprocessError reports a failed SQL macro expansion. Fatal to that query.
func PreprocessError(detail string) *Error {
	return newErr(KindPreprocessError, nil).With("detail", detail)
}

// ResolveTimeout reports a resolver that exceeded its per-package budget.
// Non-fatal: the affected refs remain unresolved.
func ResolveTimeout(pkg string) *Error {
	return newErr(KindResolveTimeout, nil).With("package", pkg)
}

// HubWriteError wraps a central hub write refusal. Non-fatal to parquet,
// but leaves the cross-repo registry stale until the next sync.
func HubWriteError(cause error) *Error {
	return newErr(KindHubWriteError, cause)
}

// URIParseError reports a malformed entity URI. Caller must recover.
func URIParseError(input, detail string) *Error {
	return newErr(KindURIParseError, nil).With("input", input).With("detail", detail)
}

// IsFatal reports whether err (or a *Error it wraps) must stop the current operation.
func IsFatal(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind.Fatal()
	}
	return false
}

// GetKind extracts the Kind from err or from a *Error it wraps, or -1 if
// there is none.
func GetKind(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return -1
}
