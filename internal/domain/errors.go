// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity already exists, e.g. a second pending
// scheduled payment for the same request.
var ErrConflict = errors.New("already exists")

// ErrValidation marks malformed input. Wrap it with the field-level message:
// fmt.Errorf("%w: amount must be positive", domain.ErrValidation).
var ErrValidation = errors.New("validation failed")

// ErrNoWorkflowFound is returned when no registered workflow handles a request type.
var ErrNoWorkflowFound = errors.New("no workflow found")
