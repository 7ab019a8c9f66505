// Package session provides HTTP session management on top of a
// tablesession.Store.
package session

import (
	"time"

	"github.com/google/uuid"
)

// flags track what the manager must do with a session once the handler
// returns.
type flags uint8

const (
	stored    flags = 1 << iota // loaded from the store
	modified                    // values changed during the request
	destroyed                   // removed by the handler
)

// Session is the per-request view of a stored session. It is not safe for
// concurrent use.
type Session struct {
	id        string
	createdAt time.Time
	values    map[string]any
	flags     flags
}

func newSession() *Session {
	return &Session{
		id:        genSessionID(),
		createdAt: time.Now(),
		values:    make(map[string]any),
	}
}

func loadedSession(id string, createdAt time.Time, values map[string]any) *Session {
	if values == nil {
		values = make(map[string]any)
	}
	return &Session{id: id, createdAt: createdAt, values: values, flags: stored}
}

func (s *Session) is(f flags) bool {
	return s.flags&f != 0
}

// GetID returns the session token.
func (s *Session) GetID() string {
	return s.id
}

// GetCreatedAt returns when the session was first issued. Its lifetime is
// counted from here.
func (s *Session) GetCreatedAt() time.Time {
	return s.createdAt
}

// Get returns the value stored under key, or nil.
func (s *Session) Get(key string) any {
	return s.values[key]
}

// value returns the value under key when it holds a T, and the zero T
// otherwise.
func value[T any](s *Session, key string) T {
	v, _ := s.values[key].(T)
	return v
}

func (s *Session) GetInt(key string) int         { return value[int](s, key) }
func (s *Session) GetUint(key string) uint       { return value[uint](s, key) }
func (s *Session) GetBool(key string) bool       { return value[bool](s, key) }
func (s *Session) GetFloat32(key string) float32 { return value[float32](s, key) }
func (s *Session) GetFloat64(key string) float64 { return value[float64](s, key) }
func (s *Session) GetString(key string) string   { return value[string](s, key) }

// Set stores value under key.
func (s *Session) Set(key string, value any) {
	s.values[key] = value
	s.flags |= modified
}

// Delete removes key.
func (s *Session) Delete(key string) {
	delete(s.values, key)
	s.flags |= modified
}

// Clear drops every value but keeps the session.
func (s *Session) Clear() {
	s.values = make(map[string]any)
	s.flags |= modified
}

// Destroy drops every value and removes the session from the store when
// the request completes.
func (s *Session) Destroy() {
	s.Clear()
	s.flags |= destroyed
}

// genSessionID returns a random UUIDv4. The token is the only secret a
// client holds, so it carries no timestamp.
func genSessionID() string {
	return uuid.New().String()
}
