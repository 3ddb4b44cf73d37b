package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/haneulab/deepresearch/internal/bus"
	"github.com/haneulab/deepresearch/internal/llm"
	"github.com/haneulab/deepresearch/internal/metrics"
	"github.com/haneulab/deepresearch/internal/prompts"
	"github.com/haneulab/deepresearch/internal/research"
)

// proceedSentinel is emitted by the clarification prompt when the question
// needs no refinement.
const proceedSentinel = "PROCEED_TO_RESEARCH"

// run executes the whole state machine for one session.
func (e *Engine) run(ctx context.Context, id string) {
	sess, err := e.store.Load(ctx, id)
	if err != nil {
		e.logger.Error("session vanished before start", zap.String("session_id", id), zap.Error(err))
		return
	}
	lang := sess.Spec.Language
	maxIter := e.maxIterations(sess)

	// Intake: the spec was validated at creation; announce and move on.
	sess = e.setProgress(ctx, sess, research.StageIntake, 2)

	// Clarify
	sess, err = e.clarify(ctx, sess)
	if err != nil {
		e.failFrom(ctx, sess, research.StageClarifying, err)
		return
	}

	// Brief
	sess, err = e.brief(ctx, sess)
	if err != nil {
		e.failFrom(ctx, sess, research.StageBriefing, err)
		return
	}

	// Supervise ⇄ Research
	for {
		batch, done, err := e.supervise(ctx, sess, maxIter)
		if err != nil {
			e.failFrom(ctx, sess, research.StageSupervising, err)
			return
		}
		if fresh, err := e.store.Load(ctx, id); err == nil {
			sess = fresh
		}
		if done {
			break
		}
		if len(batch) > 0 {
			sess, err = e.research(ctx, sess, batch, maxIter)
			if err != nil {
				e.failFrom(ctx, sess, research.StageResearching, err)
				return
			}
		}
		if sess.State.Iteration >= maxIter {
			if len(sess.State.Summaries) == 0 {
				e.fail(ctx, sess, research.KindNoProgress, research.StageSupervising,
					fmt.Errorf("iteration cap %d reached with no summaries", maxIter))
				return
			}
			break
		}
	}

	// Compress
	compressed, err := e.compress(ctx, sess)
	if err != nil {
		e.failFrom(ctx, sess, research.StageSynthesizing, err)
		return
	}
	if fresh, err := e.store.Load(ctx, id); err == nil {
		sess = fresh
	}

	// Finalise
	if err := e.finalise(ctx, sess, compressed); err != nil {
		e.failFrom(ctx, sess, research.StageFinalizing, err)
		return
	}

	e.logger.Info("research completed",
		zap.String("session_id", id),
		zap.String("language", string(lang)),
		zap.Int("iterations", sess.State.Iteration),
	)
	metrics.SessionsCompleted.WithLabelValues("completed").Inc()
}

// failFrom classifies err into the taxonomy before terminating the session.
func (e *Engine) failFrom(ctx context.Context, sess *research.Session, stage research.Stage, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		e.fail(ctx, sess, research.KindCancelled, stage, err)
	case errors.Is(err, context.DeadlineExceeded):
		e.fail(ctx, sess, research.KindTimeout, stage, err)
	default:
		e.fail(ctx, sess, research.KindOf(err), stage, err)
	}
}

func (e *Engine) clarify(ctx context.Context, sess *research.Session) (*research.Session, error) {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(string(research.StageClarifying)).Observe(time.Since(start).Seconds())
	}()

	lang := sess.Spec.Language
	sess = e.setProgress(ctx, sess, research.StageClarifying, 10)
	e.detail(sess, bus.TypeThinking, stageMessage(msgClarifying, lang), "")

	prompt, err := e.registry.Render(prompts.Clarification, lang, map[string]string{
		"research_question": sess.Spec.Question,
	})
	if err != nil {
		return sess, research.NewError(research.KindInternal, "render clarification prompt", err)
	}
	reply, err := e.llm.Generate(ctx, llm.StageResearch, prompt)
	if err != nil {
		return sess, err
	}

	// The model either confirms the question as-is or asks for refinement.
	// Without an interactive user in the loop the original question stands
	// as the goal either way; a refinement request is kept as detail.
	goal := sess.Spec.Question
	if !strings.Contains(reply, proceedSentinel) {
		e.detail(sess, bus.TypeThinking, stageMessage(msgClarifying, lang), firstN(reply, 300))
	}

	return e.update(ctx, sess.ID, func(s *research.Session) error {
		s.State.ClarifiedGoal = goal
		s.Progress = 20
		return nil
	})
}

func (e *Engine) brief(ctx context.Context, sess *research.Session) (*research.Session, error) {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(string(research.StageBriefing)).Observe(time.Since(start).Seconds())
	}()

	lang := sess.Spec.Language
	sess = e.setProgress(ctx, sess, research.StageBriefing, 20)
	e.detail(sess, bus.TypeThinking, stageMessage(msgBriefing, lang), "")

	prompt, err := e.registry.Render(prompts.ResearchBrief, lang, map[string]string{
		"clarified_research_goal": sess.State.ClarifiedGoal,
	})
	if err != nil {
		return sess, research.NewError(research.KindInternal, "render brief prompt", err)
	}
	brief, err := e.llm.Generate(ctx, llm.StageResearch, prompt)
	if err != nil {
		return sess, err
	}

	updated, err := e.update(ctx, sess.ID, func(s *research.Session) error {
		s.State.Brief = brief
		s.Progress = 40
		return nil
	})
	if err != nil {
		return sess, err
	}
	e.bus.Publish(sess.ID, bus.Event{
		Type:     bus.TypeProgressUpdate,
		Stage:    research.StageBriefing,
		Progress: updated.Progress,
	})
	return updated, nil
}

// supervise asks for the next batch of subtasks. It returns the batch to
// research, or done=true when the loop should move to compression.
func (e *Engine) supervise(ctx context.Context, sess *research.Session, maxIter int) ([]research.Subtask, bool, error) {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(string(research.StageSupervising)).Observe(time.Since(start).Seconds())
	}()

	lang := sess.Spec.Language
	limit := sess.Spec.MaxResearchers
	sess = e.setProgress(ctx, sess, research.StageSupervising, sess.Progress)
	e.detail(sess, bus.TypeThinking, stageMessage(msgPlanning, lang), "")

	if sess.State.Iteration >= maxIter {
		return nil, len(sess.State.Summaries) > 0, nil
	}

	prompt, err := e.registry.Render(prompts.Supervisor, lang, map[string]string{
		"research_brief":    sess.State.Brief,
		"previous_findings": formatFindings(sess.State.Summaries, sess.State.Subtasks),
		"max_tasks":         fmt.Sprintf("%d", limit),
	})
	if err != nil {
		return nil, false, research.NewError(research.KindInternal, "render supervisor prompt", err)
	}

	reply, err := e.llm.Generate(ctx, llm.StageResearch, prompt)
	if err != nil {
		// an unreachable model cannot plan more work; salvage what exists
		if research.KindOf(err) == research.KindLLMUnavailable && len(sess.State.Summaries) > 0 {
			e.logger.Warn("supervisor unavailable, compressing gathered findings",
				zap.String("session_id", sess.ID), zap.Error(err))
			return nil, true, nil
		}
		return nil, false, err
	}

	batch := parseSubtasks(reply)
	if batch == nil && len(sess.State.Summaries) == 0 && sess.State.Iteration == 0 {
		// first-round parse failure falls back to one comprehensive task;
		// an explicit empty list is honoured, only garbage is overridden
		batch = []research.Subtask{{
			Question:    sess.State.ClarifiedGoal,
			Description: fallbackDescription(lang),
		}}
	}
	batch = dedupeSubtasks(batch, sess.State.Subtasks)
	if len(batch) > limit {
		batch = batch[:limit]
	}

	if len(batch) == 0 {
		if len(sess.State.Summaries) > 0 {
			return nil, true, nil
		}
		// nothing proposed and nothing gathered: burn an iteration and retry
		_, err := e.update(ctx, sess.ID, func(s *research.Session) error {
			s.State.Iteration++
			return nil
		})
		return nil, false, err
	}

	_, err = e.update(ctx, sess.ID, func(s *research.Session) error {
		s.State.Iteration++
		s.State.Subtasks = append(s.State.Subtasks, batch...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return batch, false, nil
}

// research runs the batch through the scheduler and folds results back into
// the session in submission order.
func (e *Engine) research(ctx context.Context, sess *research.Session, batch []research.Subtask, maxIter int) (*research.Session, error) {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(string(research.StageResearching)).Observe(time.Since(start).Seconds())
	}()

	iter := sess.State.Iteration
	baseProgress := 40 + 40*(iter-1)/maxIter
	endProgress := 40 + 40*iter/maxIter
	baseRef := len(sess.State.Subtasks) - len(batch)

	sess = e.setProgress(ctx, sess, research.StageResearching, baseProgress)

	results := e.runBatch(ctx, sess, batch, baseRef)

	cancelled := false
	updated, err := e.update(ctx, sess.ID, func(s *research.Session) error {
		// results arrive in submission order; summaries are appended the same way
		for _, res := range results {
			if res.Cancelled {
				cancelled = true
				continue
			}
			if res.Summary != nil {
				s.State.Summaries = append(s.State.Summaries, *res.Summary)
			}
			s.State.Errors = append(s.State.Errors, res.Errors...)
		}
		if !cancelled && endProgress > s.Progress {
			s.Progress = endProgress
		}
		return nil
	})
	if err != nil {
		return sess, err
	}
	if cancelled {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		return updated, context.Canceled
	}

	e.bus.Publish(sess.ID, bus.Event{
		Type:     bus.TypeProgressUpdate,
		Stage:    research.StageResearching,
		Progress: updated.Progress,
	})
	return updated, nil
}

// compress folds every summary into one consolidated synthesis.
func (e *Engine) compress(ctx context.Context, sess *research.Session) (string, error) {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(string(research.StageSynthesizing)).Observe(time.Since(start).Seconds())
	}()

	lang := sess.Spec.Language
	sess = e.setProgress(ctx, sess, research.StageSynthesizing, 80)
	e.detail(sess, bus.TypeThinking,
		stageMessageN(msgSynthesizing, lang, len(sess.State.Summaries)), "")

	prompt, err := e.registry.Render(prompts.Compression, lang, map[string]string{
		"research_summaries": formatSummaries(sess.State.Summaries, sess.State.Subtasks),
	})
	if err != nil {
		return "", research.NewError(research.KindInternal, "render compression prompt", err)
	}
	compressed, err := e.llm.Generate(ctx, llm.StageCompression, prompt)
	if err != nil {
		return "", err
	}
	e.setProgress(ctx, sess, research.StageSynthesizing, 90)
	return compressed, nil
}

// finalise produces and persists the final report and publishes the
// research_complete terminal event.
func (e *Engine) finalise(ctx context.Context, sess *research.Session, compressed string) error {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(string(research.StageFinalizing)).Observe(time.Since(start).Seconds())
	}()

	lang := sess.Spec.Language
	sess = e.setProgress(ctx, sess, research.StageFinalizing, 90)
	e.detail(sess, bus.TypeThinking, stageMessage(msgFinalizing, lang), "")

	prompt, err := e.registry.Render(prompts.FinalReport, lang, map[string]string{
		"research_question":   sess.Spec.Question,
		"compressed_research": compressed,
	})
	if err != nil {
		return research.NewError(research.KindInternal, "render final report prompt", err)
	}
	report, err := e.llm.Generate(ctx, llm.StageFinalReport, prompt)
	if err != nil {
		return err
	}

	updated, err := e.update(ctx, sess.ID, func(s *research.Session) error {
		s.State.FinalReport = report
		s.Stage = research.StageCompleted
		s.Progress = 100
		return nil
	})
	if err != nil {
		return err
	}
	if err := e.store.SaveReport(ctx, sess.ID, report); err != nil {
		e.logger.Warn("persist report artefact failed", zap.String("session_id", sess.ID), zap.Error(err))
	}

	e.bus.Publish(sess.ID, bus.Event{
		Type:     bus.TypeComplete,
		Stage:    research.StageCompleted,
		Progress: updated.Progress,
	})
	return nil
}

func firstN(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
