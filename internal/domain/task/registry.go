// Package task tracks in-flight streaming sessions and the cancellation
// tokens used to stop them.
package task

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrTaskAlreadyRunning is returned when a key already has a live session
	// and the registry rejects duplicates.
	ErrTaskAlreadyRunning = errors.New("task already running")

	// ErrEmptyKey is returned when registering an empty task key.
	ErrEmptyKey = errors.New("task key is empty")
)

// DuplicatePolicy decides what Register does with a key that is already live.
type DuplicatePolicy string

const (
	// DuplicateReject refuses the second registration.
	DuplicateReject DuplicatePolicy = "reject"
	// DuplicateReplace overwrites the live entry; the earlier session can no
	// longer be cancelled through the registry.
	DuplicateReplace DuplicatePolicy = "replace"
)

// ParseDuplicatePolicy maps a config value to a policy.
func ParseDuplicatePolicy(value string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", DuplicateReject:
		return DuplicateReject, nil
	case DuplicateReplace:
		return DuplicateReplace, nil
	default:
		return "", fmt.Errorf("unknown duplicate policy %q", value)
	}
}

// Info is a point-in-time view of one registry entry.
type Info struct {
	Key       string    `json:"task_id"`
	StartedAt time.Time `json:"started_at"`
	Cancelled bool      `json:"cancelled"`
}

type entry struct {
	token     *Token
	startedAt time.Time
}

// Registry maps task keys to the tokens of their live sessions.
type Registry struct {
	mu      sync.Mutex
	entries map[string]entry
	policy  DuplicatePolicy
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithDuplicatePolicy sets how duplicate registrations are handled.
func WithDuplicatePolicy(policy DuplicatePolicy) Option {
	return func(r *Registry) {
		if policy != "" {
			r.policy = policy
		}
	}
}

// WithClock overrides the time source used for StartedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry returns an empty registry. Duplicates are rejected unless
// configured otherwise.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]entry),
		policy:  DuplicateReject,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Policy returns the configured duplicate policy.
func (r *Registry) Policy() DuplicatePolicy {
	return r.policy
}

// Register creates a fresh token under key.
func (r *Registry) Register(key string) (*Token, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[key]; exists && r.policy == DuplicateReject {
		return nil, fmt.Errorf("register %q: %w", key, ErrTaskAlreadyRunning)
	}
	tok := NewToken()
	r.entries[key] = entry{token: tok, startedAt: r.now()}
	return tok, nil
}

// Cancel flips the token registered under key. It returns false when no
// session is live for key.
func (r *Registry) Cancel(key string) bool {
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.token.Cancel()
	return true
}

// Unregister removes key unconditionally. Missing keys are ignored.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	delete(r.entries, key)
	r.mu.Unlock()
}

// Release removes key only while it still maps to tok, so a session whose
// entry was replaced cannot remove its successor.
func (r *Registry) Release(key string, tok *Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok || e.token != tok {
		return false
	}
	delete(r.entries, key)
	return true
}

// Lookup describes the live entry under key.
func (r *Registry) Lookup(key string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return Info{}, false
	}
	return Info{Key: key, StartedAt: e.startedAt, Cancelled: e.token.Cancelled()}, true
}

// ListActive returns the live keys in sorted order.
func (r *Registry) ListActive() []string {
	r.mu.Lock()
	keys := make([]string, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	r.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Snapshot returns every live entry ordered by key.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	infos := make([]Info, 0, len(r.entries))
	for key, e := range r.entries {
		infos = append(infos, Info{Key: key, StartedAt: e.startedAt, Cancelled: e.token.Cancelled()})
	}
	r.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
