package types

import (
	"errors"
	"fmt"
)

// LoadFailure is a platform load rejection for one library. Kind
// decides whether the recovery chain gets a chance to repair state.
type LoadFailure struct {
	SoName string
	Kind   FailureKind
	Detail string
	Cause  error
}

func (e *LoadFailure) Error() string {
	msg := fmt.Sprintf("failed to load %s (%s)", e.SoName, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadFailure) Unwrap() error { return e.Cause }

// NewLoadFailure wraps a platform rejection for one library.
func NewLoadFailure(soName string, kind FailureKind, detail string, cause error) *LoadFailure {
	return &LoadFailure{SoName: soName, Kind: kind, Detail: detail, Cause: cause}
}

// NewLibraryAbsent is the terminal failure produced when every
// configured source reported NotFound for the library.
func NewLibraryAbsent(soName string) *LoadFailure {
	return &LoadFailure{
		SoName: soName,
		Kind:   FailureLibraryAbsent,
		Detail: "not present in any configured source",
	}
}

// AsLoadFailure reports whether err carries a LoadFailure anywhere in
// its chain.
func AsLoadFailure(err error) (*LoadFailure, bool) {
	var failure *LoadFailure
	if errors.As(err, &failure) {
		return failure, true
	}
	return nil, false
}

// StateError signals that a manifest-dependent operation was invoked on
// an unprepared source. It is a programming-error class: it fails fast
// and is never caught by recovery.
type StateError struct {
	Op     string
	Source string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s called before prepare", e.Source, e.Op)
}

// NewStateError reports op being invoked on source before prepare.
func NewStateError(source, op string) *StateError {
	return &StateError{Op: op, Source: source}
}

// IsStateError reports whether err is a lifecycle violation.
func IsStateError(err error) bool {
	var stateErr *StateError
	return errors.As(err, &stateErr)
}

// MalformedKind distinguishes what failed to parse.
type MalformedKind string

const (
	MalformedImage    MalformedKind = "image"
	MalformedManifest MalformedKind = "manifest"
)

// MalformedError is a local parse failure: a manifest that aborts the
// owning source's preparation, or a library image that aborts
// dependency discovery for one library.
type MalformedError struct {
	Kind   MalformedKind
	Detail string
	Cause  error
}

func (e *MalformedError) Error() string {
	msg := fmt.Sprintf("malformed %s: %s", e.Kind, e.Detail)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *MalformedError) Unwrap() error { return e.Cause }

// NewMalformedImage reports an inconsistent shared-object image.
func NewMalformedImage(detail string) *MalformedError {
	return &MalformedError{Kind: MalformedImage, Detail: detail}
}

// NewMalformedManifest reports an unparseable source manifest.
func NewMalformedManifest(detail string, cause error) *MalformedError {
	return &MalformedError{Kind: MalformedManifest, Detail: detail, Cause: cause}
}

// IsMalformed reports whether err is a parse failure of the given kind.
func IsMalformed(err error, kind MalformedKind) bool {
	var malformed *MalformedError
	return errors.As(err, &malformed) && malformed.Kind == kind
}

// BasePackageMissingError is the distinguished failure raised when the
// application's base package no longer exists on storage. It is
// surfaced for tracking rather than treated as a generic load failure.
type BasePackageMissingError struct {
	Path    string
	History string
}

func (e *BasePackageMissingError) Error() string {
	msg := "base package does not exist: " + e.Path
	if e.History != "" {
		msg += " (" + e.History + ")"
	}
	return msg
}

// NewBasePackageMissing reports the vanished base package path along
// with the recorded path history for diagnostics.
func NewBasePackageMissing(path, history string) *BasePackageMissingError {
	return &BasePackageMissingError{Path: path, History: history}
}

// IsBasePackageMissing reports whether err is the distinguished
// base-package-missing classification.
func IsBasePackageMissing(err error) bool {
	var missing *BasePackageMissingError
	return errors.As(err, &missing)
}
