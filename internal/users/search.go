// Package users implements the user lookup behind persona sharing: a
// debounced name search that only fires once typing settles.
package users

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/memorahq/memora/internal/memora"
)

const (
	// DefaultDebounce is the quiet period after the last keystroke before a
	// search fires.
	DefaultDebounce = 300 * time.Millisecond
	// DefaultMinChars is the shortest term worth searching.
	DefaultMinChars = 3
)

// Backend performs the actual lookup.
type Backend interface {
	SearchUsers(ctx context.Context, name string) ([]memora.User, error)
}

// Result is the outcome of one settled search term.
type Result struct {
	Term  string
	Users []memora.User
	Err   error
}

// Searcher debounces search terms: each term resets the quiet period, and
// only the term that survives it reaches the backend. Terms below the
// minimum length clear results without a backend call. Users already on the
// exclude list are filtered out of every result.
type Searcher struct {
	backend  Backend
	debounce time.Duration
	minChars int
	deliver  func(Result)

	mu      sync.Mutex
	timer   *time.Timer
	cancel  context.CancelFunc
	gen     int
	exclude map[string]bool
	closed  bool
}

// NewSearcher creates a Searcher delivering results through the given
// callback. Non-positive debounce or minChars fall back to the defaults.
// The callback runs on the timer goroutine, never concurrently with itself
// for the same settled term.
func NewSearcher(backend Backend, debounce time.Duration, minChars int, deliver func(Result)) *Searcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if minChars <= 0 {
		minChars = DefaultMinChars
	}
	return &Searcher{
		backend:  backend,
		debounce: debounce,
		minChars: minChars,
		deliver:  deliver,
		exclude:  map[string]bool{},
	}
}

// Exclude removes the given user ids from all future results. The sharing
// view seeds this with the persona's current shared-access list.
func (s *Searcher) Exclude(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.exclude[id] = true
	}
}

// SetTerm registers a new search term. Any pending or in-flight search for
// an earlier term is cancelled. A term shorter than the minimum clears the
// results immediately.
func (s *Searcher) SetTerm(term string) {
	term = strings.TrimSpace(term)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.cancelPendingLocked()
	s.gen++
	gen := s.gen

	if len([]rune(term)) < s.minChars {
		deliver := s.deliver
		s.mu.Unlock()
		deliver(Result{Term: term})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.timer = time.AfterFunc(s.debounce, func() {
		s.search(ctx, gen, term)
	})
	s.mu.Unlock()
}

// Close cancels any pending or in-flight search. The searcher delivers
// nothing after Close returns observable effect; call on view teardown.
func (s *Searcher) Close() {
	s.mu.Lock()
	s.cancelPendingLocked()
	s.closed = true
	s.mu.Unlock()
}

func (s *Searcher) cancelPendingLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Searcher) search(ctx context.Context, gen int, term string) {
	users, err := s.backend.SearchUsers(ctx, term)

	s.mu.Lock()
	if s.closed || gen != s.gen || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	filtered := users[:0]
	for _, u := range users {
		if !s.exclude[u.ID] {
			filtered = append(filtered, u)
		}
	}
	deliver := s.deliver
	s.mu.Unlock()

	deliver(Result{Term: term, Users: filtered, Err: err})
}
