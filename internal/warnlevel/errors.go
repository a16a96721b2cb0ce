package warnlevel

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork matches fetch failures caused by transport, status or timeout.
	ErrNetwork = errors.New("network error")
	// ErrDecode matches fetch failures caused by an unreadable payload.
	ErrDecode = errors.New("decode error")
	// ErrPersist matches store failures while committing a snapshot.
	ErrPersist = errors.New("persist error")
)

// FetchErrorKind classifies a FetchError.
type FetchErrorKind int

const (
	FetchNetwork FetchErrorKind = iota
	FetchDecode
)

func (k FetchErrorKind) String() string {
	if k == FetchDecode {
		return "decode"
	}
	return "network"
}

// FetchError is returned by a Fetcher.
type FetchError struct {
	Kind FetchErrorKind
	Err  error
}

// NewNetworkError wraps err as a network fetch failure.
func NewNetworkError(err error) *FetchError {
	return &FetchError{Kind: FetchNetwork, Err: err}
}

// NewDecodeError wraps err as a decode fetch failure.
func NewDecodeError(err error) *FetchError {
	return &FetchError{Kind: FetchDecode, Err: err}
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == FetchNetwork
	case ErrDecode:
		return e.Kind == FetchDecode
	}
	return false
}

// StoreError is returned by a Store when a snapshot could not be committed.
// The previously committed snapshot is left intact.
type StoreError struct {
	Err error
}

// NewPersistError wraps err as a store persist failure.
func NewPersistError(err error) *StoreError {
	return &StoreError{Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store persist: %v", e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool {
	return target == ErrPersist
}

// SyncStage names the step of a sync that failed.
type SyncStage string

const (
	StageFetch SyncStage = "fetch"
	StageStore SyncStage = "store"
)

// SyncError is the composite failure reported by Service.SyncIfStale.
type SyncError struct {
	Stage SyncStage
	Err   error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s: %v", e.Stage, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Category returns "network", "decode" or "storage", which is what a caller
// needs to choose between its "could not refresh" signals.
func (e *SyncError) Category() string {
	if e.Stage == StageStore {
		return "storage"
	}
	if errors.Is(e.Err, ErrDecode) {
		return "decode"
	}
	return "network"
}
