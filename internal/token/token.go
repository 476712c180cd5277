// Package token provides opaque unique identifier sources.
//
// The record store requests a token whenever an identity is not
// caller-supplied; how the token is generated is deliberately outside the
// engine's contract.
package token

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/xid"
)

// Source produces opaque unique tokens.
type Source interface {
	Next() string
}

// UUIDv7Source generates time-sortable UUIDv7 tokens.
//
// UUIDv7 embeds a timestamp in the most significant bits, making ids
// sortable by creation time, which keeps default `_id` ordering roughly
// chronological.
//
// Thread-safety: UUIDv7Source is stateless and safe for concurrent use.
type UUIDv7Source struct{}

// Next creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Source) Next() string {
	return uuid.Must(uuid.NewV7()).String()
}

// XIDSource generates compact 20-character sortable tokens.
// Useful where id length matters more than UUID compatibility.
type XIDSource struct{}

// Next returns a new xid string.
func (XIDSource) Next() string {
	return xid.New().String()
}

// FixedSource returns predetermined tokens for testing.
//
// This enables deterministic tests: a known sequence of ids makes result
// rows and golden output stable.
//
// Thread-safety: FixedSource is safe for concurrent use via internal mutex.
type FixedSource struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedSource creates a source that returns tokens in order.
//
// Example:
//
//	src := NewFixedSource("id-1", "id-2")
//	src.Next() // "id-1"
//	src.Next() // "id-2"
//	src.Next() // panic: all tokens exhausted
func NewFixedSource(tokens ...string) *FixedSource {
	return &FixedSource{tokens: tokens}
}

// Next returns the next predetermined token.
//
// Panics when all tokens have been consumed. This is a fail-fast approach
// to catch test misconfiguration.
func (s *FixedSource) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idx >= len(s.tokens) {
		panic("token: FixedSource exhausted")
	}
	tok := s.tokens[s.idx]
	s.idx++
	return tok
}
