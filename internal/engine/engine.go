// Package engine drives research sessions through the workflow state machine:
// intake, clarify, brief, then a supervise/research loop, compression, and
// the final report. One engine serves many sessions; each session runs its
// machine sequentially on its own goroutine while the scheduler fans
// researcher slots out in parallel inside a single research stage.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/haneulab/deepresearch/internal/bus"
	"github.com/haneulab/deepresearch/internal/llm"
	"github.com/haneulab/deepresearch/internal/metrics"
	"github.com/haneulab/deepresearch/internal/prompts"
	"github.com/haneulab/deepresearch/internal/research"
	"github.com/haneulab/deepresearch/internal/search"
	"github.com/haneulab/deepresearch/internal/session"
)

// Config is the engine's tuning surface.
type Config struct {
	// MaxIterations caps the supervisor loop; depth may lower it but never
	// raise it past this value.
	MaxIterations int
	// SlotTimeout bounds one researcher slot.
	SlotTimeout time.Duration
	// ContentTruncation caps each search snippet fed into a researcher prompt.
	ContentTruncation int
	// MaxResults is the per-subtask search result count.
	MaxResults int
}

// Engine owns the per-session state machines.
type Engine struct {
	llm      *llm.Gateway
	search   *search.Client
	registry *prompts.Registry
	store    session.Store
	bus      *bus.Bus
	cfg      Config
	logger   *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New wires the engine to its collaborators. Gateways are explicit
// dependencies; the engine holds no process-global state.
func New(gw *llm.Gateway, sc *search.Client, reg *prompts.Registry, store session.Store, b *bus.Bus, cfg Config, logger *zap.Logger) *Engine {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 6
	}
	if cfg.SlotTimeout <= 0 {
		cfg.SlotTimeout = 120 * time.Second
	}
	if cfg.ContentTruncation <= 0 {
		cfg.ContentTruncation = 500
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	return &Engine{
		llm:      gw,
		search:   sc,
		registry: reg,
		store:    store,
		bus:      b,
		cfg:      cfg,
		logger:   logger,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Start launches the workflow for a created session in the background.
func (e *Engine) Start(sess *research.Session) {
	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[sess.ID] = cancel
	e.mu.Unlock()

	metrics.SessionsStarted.Inc()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.finish(sess.ID, cancel)
		e.run(ctx, sess.ID)
	}()
}

// Cancel signals the session's workflow to stop. A second cancel, or a
// cancel for an unknown or finished session, is a no-op.
func (e *Engine) Cancel(id string) {
	e.mu.Lock()
	cancel, ok := e.cancels[id]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// Running reports whether the session's workflow is still in flight.
func (e *Engine) Running(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.cancels[id]
	return ok
}

// Wait blocks until every in-flight workflow returns; used on shutdown.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) finish(id string, cancel context.CancelFunc) {
	cancel()
	e.mu.Lock()
	delete(e.cancels, id)
	e.mu.Unlock()
	e.bus.Close(id)
}

// maxIterations resolves the cap for a session: the depth knob chooses
// shallow=3 medium=4 deep=6, clamped by the configured ceiling.
func (e *Engine) maxIterations(sess *research.Session) int {
	n := sess.Spec.Depth.MaxIterations()
	if n > e.cfg.MaxIterations {
		n = e.cfg.MaxIterations
	}
	return n
}

// update persists a mutation and returns the fresh session.
func (e *Engine) update(ctx context.Context, id string, mutate func(*research.Session) error) (*research.Session, error) {
	return e.store.Update(ctx, id, mutate)
}

// setProgress persists stage/progress and publishes a progress_update.
// Progress never moves backwards.
func (e *Engine) setProgress(ctx context.Context, sess *research.Session, stage research.Stage, progress int) *research.Session {
	updated, err := e.update(ctx, sess.ID, func(s *research.Session) error {
		s.Stage = stage
		if progress > s.Progress {
			s.Progress = progress
		}
		return nil
	})
	if err != nil {
		e.logger.Error("persist progress failed", zap.String("session_id", sess.ID), zap.Error(err))
		updated = sess
		updated.Stage = stage
		if progress > updated.Progress {
			updated.Progress = progress
		}
	}
	e.bus.Publish(sess.ID, bus.Event{
		Type:     bus.TypeProgressUpdate,
		Stage:    updated.Stage,
		Progress: updated.Progress,
	})
	return updated
}

// detail publishes a progress_thinking or progress_searching event without
// advancing progress.
func (e *Engine) detail(sess *research.Session, typ bus.EventType, message, detailText string) {
	e.bus.Publish(sess.ID, bus.Event{
		Type:     typ,
		Stage:    sess.Stage,
		Progress: sess.Progress,
		Message:  message,
		Detail:   detailText,
	})
}

// fail moves the session to the terminal error stage and publishes the
// terminal error event with a localised message.
func (e *Engine) fail(ctx context.Context, sess *research.Session, kind research.Kind, stage research.Stage, cause error) {
	msg := research.LocalizedMessage(kind, sess.Spec.Language)
	e.logger.Warn("session failed",
		zap.String("session_id", sess.ID),
		zap.String("stage", string(stage)),
		zap.String("kind", string(kind)),
		zap.Error(cause),
	)

	// persist with a background context: the session ctx may be the cancelled one
	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	updated, err := e.update(persistCtx, sess.ID, func(s *research.Session) error {
		s.Stage = research.StageErrored
		s.LastError = msg
		s.ErrorKind = kind
		s.State.Errors = append(s.State.Errors, research.StageError{
			Stage:       stage,
			Kind:        kind,
			Message:     msg,
			Recoverable: false,
		})
		return nil
	})
	if err != nil {
		e.logger.Error("persist terminal error failed", zap.String("session_id", sess.ID), zap.Error(err))
		updated = sess
	}

	e.bus.Publish(sess.ID, bus.Event{
		Type:     bus.TypeError,
		Stage:    research.StageErrored,
		Progress: updated.Progress,
		Error:    msg,
		Kind:     kind,
	})
	metrics.SessionsCompleted.WithLabelValues(string(kind)).Inc()
}
