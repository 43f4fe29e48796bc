package chatter

import (
	"errors"
	"fmt"
)

// Recoverable, expected conditions returned by the caches. None of these are
// fatal; callers decide whether to retry or surface them.
var (
	// ErrNoActiveChannel is returned by message operations when no
	// conversation is selected.
	ErrNoActiveChannel = errors.New("chatter: no active channel")

	// ErrPaginationInProgress is returned when a backward fetch is issued
	// while another one is still in flight for the same conversation.
	ErrPaginationInProgress = errors.New("chatter: pagination already in progress")

	// ErrChannelNotFound is returned by lookups that matched nothing.
	ErrChannelNotFound = errors.New("chatter: channel not found")
)

// FetchError wraps a backend failure during loadInitial or loadBefore.
type FetchError struct {
	Op    string
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("chatter: %s failed: %v", e.Op, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}
