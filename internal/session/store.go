// Package session persists research sessions. Two backends are provided:
// an embedded SQLite database (store.url is a file path or file: URL) and
// Redis (store.url is redis://...). Both treat the research state as an
// opaque JSON document guarded by a monotonic version; concurrent updates on
// one id are serialised and lost writes are impossible.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/haneulab/deepresearch/internal/research"
)

// Filter narrows and pages List results.
type Filter struct {
	Stage  research.Stage
	Limit  int
	Offset int
}

// Store is the session persistence contract. Update applies the mutator
// atomically: the written session is durable before Update returns.
type Store interface {
	Create(ctx context.Context, spec research.Spec) (*research.Session, error)
	Load(ctx context.Context, id string) (*research.Session, error)
	Update(ctx context.Context, id string, mutate func(*research.Session) error) (*research.Session, error)
	List(ctx context.Context, f Filter) ([]*research.Session, int, error)
	Delete(ctx context.Context, id string) error
	SaveReport(ctx context.Context, id string, markdown string) error
	Close() error
}

// New selects a backend from the store URL.
func New(url string, logger *zap.Logger) (Store, error) {
	switch {
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		return newRedisStore(url, logger)
	case strings.HasPrefix(url, "file:"):
		return newSQLiteStore(strings.TrimPrefix(url, "file:"), logger)
	default:
		return newSQLiteStore(url, logger)
	}
}

// newSession builds the initial record for a spec.
func newSession(spec research.Spec) *research.Session {
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = time.Now().UTC()
	}
	return &research.Session{
		ID:        uuid.NewString(),
		Spec:      spec,
		Stage:     research.StageIntake,
		Progress:  0,
		UpdatedAt: spec.CreatedAt,
		Version:   1,
		State: research.State{
			Subtasks:  []research.Subtask{},
			Summaries: []research.Summary{},
			Errors:    []research.StageError{},
		},
	}
}

// idLocks serialises updates per session id within the process.
type idLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newIDLocks() *idLocks {
	return &idLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *idLocks) lock(id string) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (l *idLocks) forget(id string) {
	l.mu.Lock()
	delete(l.locks, id)
	l.mu.Unlock()
}

const updateRetries = 3

func conflictErr(id string) error {
	return fmt.Errorf("session %s: %w after %d attempts", id, research.ErrVersionConflict, updateRetries)
}
