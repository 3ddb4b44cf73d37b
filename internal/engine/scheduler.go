package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/haneulab/deepresearch/internal/bus"
	"github.com/haneulab/deepresearch/internal/llm"
	"github.com/haneulab/deepresearch/internal/metrics"
	"github.com/haneulab/deepresearch/internal/prompts"
	"github.com/haneulab/deepresearch/internal/research"
)

// slotResult is the outcome of one researcher slot. A slot whose model call
// fails still carries an (empty-text) Summary alongside the recorded error,
// and a degraded search adds its error next to an otherwise normal Summary;
// a timed-out, panicked or unrenderable slot carries only the error; a
// cancelled slot carries neither.
type slotResult struct {
	Summary   *research.Summary
	Errors    []research.StageError
	Cancelled bool
}

// runBatch executes up to the session's researcher limit in parallel. Jobs
// are admitted FIFO through a shared queue; results come back indexed, so the
// returned slice is in submission order regardless of completion order. A
// panic inside one slot becomes that slot's error and touches nothing else.
func (e *Engine) runBatch(ctx context.Context, sess *research.Session, batch []research.Subtask, baseRef int) []slotResult {
	limit := sess.Spec.MaxResearchers
	if limit < 1 {
		limit = 1
	}
	if limit > len(batch) {
		limit = len(batch)
	}

	jobs := make(chan int)
	results := make([]slotResult, len(batch))

	var wg sync.WaitGroup
	for w := 0; w < limit; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = e.runSlot(ctx, sess, batch[idx], baseRef+idx)
			}
		}()
	}
	for idx := range batch {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	for _, res := range results {
		switch {
		case res.Cancelled:
			metrics.ResearchSlotsRun.WithLabelValues("cancelled").Inc()
		case len(res.Errors) > 0:
			metrics.ResearchSlotsRun.WithLabelValues("error").Inc()
		default:
			metrics.ResearchSlotsRun.WithLabelValues("ok").Inc()
		}
	}
	return results
}

// runSlot performs one subtask: search, build the researcher prompt from the
// snippets, generate, package the summary.
func (e *Engine) runSlot(ctx context.Context, sess *research.Session, task research.Subtask, ref int) (res slotResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("researcher slot panicked",
				zap.String("session_id", sess.ID),
				zap.Int("subtask", ref),
				zap.Any("panic", r),
			)
			res = slotResult{Errors: []research.StageError{{
				Stage:       research.StageResearching,
				Kind:        research.KindInternal,
				Message:     fmt.Sprintf("researcher slot panic: %v", r),
				Recoverable: true,
			}}}
		}
	}()

	lang := sess.Spec.Language
	slotCtx, cancel := context.WithTimeout(ctx, e.cfg.SlotTimeout)
	defer cancel()

	e.detail(sess, bus.TypeSearching,
		searchingMessage(lang, task.Question), fmt.Sprintf("subtask %d", ref+1))

	resp, err := e.search.Search(slotCtx, task.Question, lang, e.cfg.MaxResults)
	if err != nil {
		if cancelledResult(ctx, slotCtx, &res) {
			return res
		}
		resp.Degraded = true
	}
	var slotErrors []research.StageError
	if resp.Degraded {
		slotErrors = append(slotErrors, research.StageError{
			Stage:       research.StageResearching,
			Kind:        research.KindSearchDegraded,
			Message:     fmt.Sprintf("search degraded for subtask %d", ref+1),
			Recoverable: true,
		})
	}

	sources := make([]string, 0, len(resp.Results))
	var ctxBlock strings.Builder
	for _, r := range resp.Results {
		sources = append(sources, r.URL)
		fmt.Fprintf(&ctxBlock, "Source: %s\nURL: %s\nContent: %s\n\n",
			r.Title, r.URL, firstN(r.Snippet, e.cfg.ContentTruncation))
	}

	description := task.Description
	if ctxBlock.Len() > 0 {
		description += "\n\nAvailable Information:\n" + ctxBlock.String()
	}
	prompt, err := e.registry.Render(prompts.Researcher, lang, map[string]string{
		"research_question": task.Question,
		"description":       description,
	})
	if err != nil {
		return slotResult{Errors: append(slotErrors, research.StageError{
			Stage:       research.StageResearching,
			Kind:        research.KindInternal,
			Message:     fmt.Sprintf("render researcher prompt: %v", err),
			Recoverable: true,
		})}
	}

	e.detail(sess, bus.TypeThinking, stageMessage(msgResearching, lang), "")

	text, err := e.llm.Generate(slotCtx, llm.StageResearch, prompt)
	if err != nil {
		if cancelledResult(ctx, slotCtx, &res) {
			return res
		}
		// a dead model inside one slot stays inside that slot
		return slotResult{
			Summary: &research.Summary{SubtaskRef: ref, Text: "", Sources: sources},
			Errors: append(slotErrors, research.StageError{
				Stage:       research.StageResearching,
				Kind:        research.KindOf(err),
				Message:     err.Error(),
				Recoverable: true,
			}),
		}
	}

	return slotResult{
		Summary: &research.Summary{SubtaskRef: ref, Text: text, Sources: sources},
		Errors:  slotErrors,
	}
}

// cancelledResult distinguishes a session cancel from a slot timeout. It
// fills res and reports true when the slot should stop immediately.
func cancelledResult(parent, slot context.Context, res *slotResult) bool {
	if parent.Err() != nil {
		*res = slotResult{Cancelled: true}
		return true
	}
	if errors.Is(slot.Err(), context.DeadlineExceeded) {
		*res = slotResult{Errors: []research.StageError{{
			Stage:       research.StageResearching,
			Kind:        research.KindTimeout,
			Message:     "researcher slot exceeded its time budget",
			Recoverable: true,
		}}}
		return true
	}
	return false
}
