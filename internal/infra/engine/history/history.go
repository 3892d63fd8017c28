// Package history keeps recent conversation turns per thread so model-backed
// engines can continue a conversation.
package history

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultThreads  = 1024
	defaultMaxTurns = 10
)

// Turn is one completed question and answer.
type Turn struct {
	Query  string
	Answer string
}

// Store holds the most recent turns of the most recently used threads.
type Store struct {
	mu       sync.Mutex
	threads  *lru.Cache[string, []Turn]
	maxTurns int
}

// NewStore keeps up to maxTurns turns for up to threads threads.
func NewStore(threads, maxTurns int) *Store {
	if threads <= 0 {
		threads = defaultThreads
	}
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	cache, _ := lru.New[string, []Turn](threads)
	return &Store{threads: cache, maxTurns: maxTurns}
}

// Turns returns a copy of the turns recorded for threadID, oldest first.
func (s *Store) Turns(threadID string) []Turn {
	if s == nil || threadID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	turns, ok := s.threads.Get(threadID)
	if !ok {
		return nil
	}
	return append([]Turn(nil), turns...)
}

// Append records a finished turn, dropping the oldest beyond the limit.
func (s *Store) Append(threadID string, turn Turn) {
	if s == nil || threadID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	turns, _ := s.threads.Get(threadID)
	turns = append(append([]Turn(nil), turns...), turn)
	if len(turns) > s.maxTurns {
		turns = turns[len(turns)-s.maxTurns:]
	}
	s.threads.Add(threadID, turns)
}
