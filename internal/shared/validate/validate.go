// Package validate checks stream requests before they reach the wire.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// Limits on stream requests.
const (
	MaxKindLength = 64
	MaxIDLength   = 128
	MaxParamsSize = 64 * 1024 // 64KB
)

// Sentinels returned, wrapped, by the validators.
var (
	ErrInvalidKind   = errors.New("invalid stream kind")
	ErrInvalidID     = errors.New("invalid stream id")
	ErrInvalidParams = errors.New("invalid stream params")
)

// SafeIDPattern allows alphanumeric, hyphens, underscores
var SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Kind checks a stream kind such as "script_generation".
func Kind(kind string) error {
	if kind == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKind)
	}
	if len(kind) > MaxKindLength {
		return fmt.Errorf("%w: %d characters exceeds %d", ErrInvalidKind, len(kind), MaxKindLength)
	}
	if !SafeIDPattern.MatchString(kind) {
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	return nil
}

// StreamID checks a stream id received from a peer.
func StreamID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: %d characters exceeds %d", ErrInvalidID, len(id), MaxIDLength)
	}
	if !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Params checks encoded stream params. Empty params are valid; anything
// else must be a JSON value no larger than MaxParamsSize.
func Params(params json.RawMessage) error {
	if len(params) == 0 {
		return nil
	}
	if len(params) > MaxParamsSize {
		return fmt.Errorf("%w: %d bytes exceeds maximum %d bytes", ErrInvalidParams, len(params), MaxParamsSize)
	}
	if !json.Valid(params) {
		return fmt.Errorf("%w: not valid JSON", ErrInvalidParams)
	}
	return nil
}
