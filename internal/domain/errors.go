// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking
// or a lost compare-and-set on a sync record).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates a request failed validation.
var ErrValidation = errors.New("validation failed")

// ErrConfiguration indicates the sync target is misconfigured (unknown vendor
// type, inactive system addressed by a sync attempt). It is never retried.
var ErrConfiguration = errors.New("configuration error")
