// Package executor implements the Graph Executor (spec.md §4.4): the single
// component that runs one CRRun at a time inside a worker process, executing
// nodes in topological/conditional order, checkpointing after each one,
// polling the Intervention Registry between nodes, and emitting events.
// Grounded on the teacher's pkg/queue/worker.go claim-and-execute shape and
// pkg/queue/executor.go's stage loop, generalized from "session with fixed
// stage list" to "CR with conditional routing over a checkpointed graph".
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/CollideNV/hadron/internal/eventbus"
	"github.com/CollideNV/hadron/internal/intervention"
	"github.com/CollideNV/hadron/internal/pipeline"
	"github.com/CollideNV/hadron/internal/store"
)

// StageFunc is a stage node: a function from input state to output state,
// per spec.md §4.4, "Each is a stateless function from input state to output
// state, with internal fan-out across repositories". emit lets the node
// publish its own sub-stage events during fan-out.
type StageFunc func(ctx context.Context, state *pipeline.PipelineState, emit EventEmitter) error

// EventEmitter publishes one event for the CR currently executing, keyed to
// the node driving the emission.
type EventEmitter interface {
	Emit(ctx context.Context, eventType pipeline.EventType, stage string, data any) error
}

// Graph is the registered set of stage node implementations, keyed by stage
// name. Built in cmd/hadron/main.go from internal/stages and passed into
// NewExecutor — this keeps the executor package routing-aware but
// implementation-agnostic, the same separation the teacher draws between
// pkg/queue (orchestration) and pkg/agent (execution).
type Graph map[string]StageFunc

// Executor runs the graph for one CR at a time within this worker process.
type Executor struct {
	store    *store.Store
	bus      *eventbus.Bus
	registry *intervention.Registry
	graph    Graph
}

func NewExecutor(s *store.Store, bus *eventbus.Bus, registry *intervention.Registry, graph Graph) *Executor {
	return &Executor{store: s, bus: bus, registry: registry, graph: graph}
}

// emitter adapts the Executor to EventEmitter for one CR, assigning
// sequence_ids via the Event Bus.
type emitter struct {
	bus  *eventbus.Bus
	crID string
}

func (e *emitter) Emit(ctx context.Context, eventType pipeline.EventType, stage string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	_, err = e.bus.Append(ctx, e.crID, pipeline.Event{
		Timestamp: time.Now(),
		Stage:     stage,
		Type:      eventType,
		Data:      raw,
	})
	return err
}

// Run implements spec.md §4.4's entry contract for one CR. It is safe to
// call from multiple worker processes concurrently for the same cr_id: the
// CAS in step 2 guarantees at most one of them proceeds past ownership.
func (x *Executor) Run(ctx context.Context, crID string) error {
	run, err := x.store.GetRun(ctx, crID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	if run.Status.Terminal() {
		return nil
	}

	owned, err := x.claimRun(ctx, crID, run.Status)
	if err != nil {
		return fmt.Errorf("failed to claim run: %w", err)
	}
	if !owned {
		return nil // already owned elsewhere
	}

	em := &emitter{bus: x.bus, crID: crID}

	state, resumeNode, fresh, err := x.loadStartingState(ctx, crID, run)
	if err != nil {
		return x.failRun(ctx, crID, err)
	}
	state.CRID = crID

	if fresh {
		_ = em.Emit(ctx, pipeline.EventPipelineStarted, resumeNode, map[string]string{"cr_id": crID})
	} else {
		_ = em.Emit(ctx, pipeline.EventPipelineResumed, resumeNode, map[string]string{"cr_id": crID})
	}

	outcome, reason, finalErr := x.executeLoop(ctx, crID, state, resumeNode, em)

	switch outcome {
	case outcomeCompleted:
		if _, err := x.store.UpdateStatus(ctx, crID, pipeline.StatusRunning, pipeline.StatusCompleted); err != nil {
			return fmt.Errorf("failed to mark run completed: %w", err)
		}
		_ = em.Emit(ctx, pipeline.EventPipelineCompleted, pipeline.StageTerminal, nil)
	case outcomePaused:
		if _, err := x.store.UpdateStatus(ctx, crID, pipeline.StatusRunning, pipeline.StatusPaused,
			store.WithPauseReason(reason)); err != nil {
			return fmt.Errorf("failed to mark run paused: %w", err)
		}
		_ = em.Emit(ctx, pipeline.EventPipelinePaused, pipeline.StagePaused, map[string]string{"reason": string(reason)})
	case outcomeFailed:
		msg := ""
		if finalErr != nil {
			msg = finalErr.Error()
		}
		if _, err := x.store.UpdateStatus(ctx, crID, pipeline.StatusRunning, pipeline.StatusFailed,
			store.WithError(msg)); err != nil {
			return fmt.Errorf("failed to mark run failed: %w", err)
		}
		_ = em.Emit(ctx, pipeline.EventPipelineFailed, pipeline.StageTerminal, map[string]string{"error": msg})
	}

	return finalErr
}

// claimRun performs the CAS described in spec.md §4.4 step 2: pending→running
// or paused→running. Exactly one caller observes true.
func (x *Executor) claimRun(ctx context.Context, crID string, current pipeline.Status) (bool, error) {
	if current == pipeline.StatusPending {
		ok, err := x.store.UpdateStatus(ctx, crID, pipeline.StatusPending, pipeline.StatusRunning)
		if err != nil || ok {
			return ok, err
		}
	}
	return x.store.UpdateStatus(ctx, crID, pipeline.StatusPaused, pipeline.StatusRunning)
}

// loadStartingState implements spec.md §4.4 step 3: resume from the latest
// checkpoint, or start fresh, applying any pending resume overrides.
func (x *Executor) loadStartingState(ctx context.Context, crID string, run *pipeline.CRRun) (*pipeline.PipelineState, string, bool, error) {
	cp, err := x.store.LatestCheckpoint(ctx, crID)
	if errors.Is(err, store.ErrNotFound) {
		state := &pipeline.PipelineState{Config: run.ConfigSnapshot}
		seedFromTrigger(state, run)
		return state, pipeline.StageIntake, true, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	state := cp.State
	resumeNode := nodeAfter(cp.NodeName)

	overrides, err := x.resolveResumeOverrides(ctx, crID, &state)
	if err != nil {
		return nil, "", false, err
	}
	if overrides != "" {
		resumeNode = overrides
	}

	return &state, resumeNode, false, nil
}

// resolveResumeOverrides consumes any pending resume_overrides entry and
// applies it, per spec.md §4.4.2. Consumption happens here, at resume time,
// matching spec.md §3's "discarded after use".
func (x *Executor) resolveResumeOverrides(ctx context.Context, crID string, state *pipeline.PipelineState) (string, error) {
	raw, err := x.registry.GetAndDelete(ctx, crID, pipeline.InterventionResumeOverrides, "")
	if errors.Is(err, intervention.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to consume resume overrides: %w", err)
	}

	var ov pipeline.ResumeOverrides
	if err := json.Unmarshal(raw, &ov); err != nil {
		slog.Warn("dropping malformed resume override", "cr_id", crID, "error", err)
		return "", nil
	}
	return ApplyResumeOverrides(state, ov), nil
}

// seedFromTrigger copies the create_run request body onto a fresh
// PipelineState, per spec.md §4.1/§4.5: Intake parses ChangeRequest.RawText
// into the structured fields, and Repo Identification starts from the
// caller-supplied repo URLs rather than re-deriving them from prose.
func seedFromTrigger(state *pipeline.PipelineState, run *pipeline.CRRun) {
	t := run.Trigger
	state.ChangeRequest = pipeline.ChangeRequest{
		RawText:            run.Title + "\n\n" + t.Description,
		Title:              run.Title,
		Description:        t.Description,
		AcceptanceCriteria: t.AcceptanceCriteria,
		Priority:           t.Priority,
		Constraints:        t.Constraints,
	}
	for _, url := range t.RepoURLs {
		state.Repos = append(state.Repos, pipeline.RepoContext{
			RepoURL:       url,
			DefaultBranch: t.DefaultBranch,
			Language:      t.Language,
			TestCommand:   t.TestCommand,
		})
	}
}

// nodeAfter returns the stage that follows node in StageOrder, or
// StageTerminal if node was the last real stage.
func nodeAfter(node string) string {
	for i, s := range pipeline.StageOrder {
		if s == node && i+1 < len(pipeline.StageOrder) {
			return pipeline.StageOrder[i+1]
		}
	}
	return pipeline.StageTerminal
}

type loopOutcome int

const (
	outcomeCompleted loopOutcome = iota
	outcomePaused
	outcomeFailed
)

// executeLoop implements spec.md §4.4.1, the per-node iteration. prevNode
// tracks the last real stage that ran so a routing-decided pause (loop
// circuit breakers, checkpoint-and-terminate) can be attributed to the node
// that produced it, per spec.md §4.4.4.
func (x *Executor) executeLoop(ctx context.Context, crID string, state *pipeline.PipelineState, node string, em *emitter) (loopOutcome, pipeline.PauseReason, error) {
	sequence := int64(0)
	prevNode := node
	for {
		if node == pipeline.StageTerminal {
			return outcomeCompleted, pipeline.PauseReasonNone, nil
		}
		if node == pipeline.StagePaused {
			return outcomePaused, PauseReasonFor(prevNode), nil
		}

		if err := x.consumeInstructions(ctx, crID, state); err != nil {
			slog.Warn("failed to consume instructions intervention", "cr_id", crID, "error", err)
		}

		_ = em.Emit(ctx, pipeline.EventStageEntered, node, nil)

		fn, ok := x.graph[node]
		if !ok {
			return outcomeFailed, pipeline.PauseReasonNone, fmt.Errorf("no stage implementation registered for %q", node)
		}

		stageCtx, cancel := x.stageContext(ctx, state.Config)
		err := fn(stageCtx, state, em)
		timedOut := stageCtx.Err() == context.DeadlineExceeded
		cancel()
		if err != nil {
			if timedOut {
				return outcomePaused, pipeline.PauseReasonStageTimeout,
					fmt.Errorf("stage %s timed out after %s: %w", node, state.Config.StageTimeout, err)
			}
			return outcomePaused, pipeline.PauseReasonError, fmt.Errorf("stage %s failed: %w", node, err)
		}

		_ = em.Emit(ctx, pipeline.EventStageCompleted, node, nil)

		sequence++
		if err := x.store.WriteCheckpoint(ctx, crID, sequence, node, *state); err != nil {
			return outcomeFailed, pipeline.PauseReasonNone, fmt.Errorf("failed to write checkpoint for %s: %w", node, err)
		}
		if err := x.store.Touch(ctx, crID); err != nil {
			slog.Warn("failed to touch run heartbeat", "cr_id", crID, "error", err)
		}

		prevNode = node
		node = NextNode(node, state, state.Config)
	}
}

// stageContext applies spec.md §5's configurable outer bound per stage
// (default 30 min). A zero StageTimeout — never produced by config.Validate,
// only by tests building a PipelineState literally — means "no bound".
func (x *Executor) stageContext(ctx context.Context, cfg pipeline.ConfigSnapshot) (context.Context, context.CancelFunc) {
	if cfg.StageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cfg.StageTimeout)
}

// consumeInstructions implements spec.md §4.4.1 step 1: merge any pending
// instructions intervention into the state's intervention slot.
func (x *Executor) consumeInstructions(ctx context.Context, crID string, state *pipeline.PipelineState) error {
	payload, err := x.registry.GetAndDelete(ctx, crID, pipeline.InterventionInstructions, "")
	if errors.Is(err, intervention.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var text string
	if err := json.Unmarshal(payload, &text); err != nil {
		return fmt.Errorf("failed to unmarshal instructions payload: %w", err)
	}
	state.Intervention = text
	return nil
}

func (x *Executor) failRun(ctx context.Context, crID string, cause error) error {
	if _, err := x.store.UpdateStatus(ctx, crID, pipeline.StatusRunning, pipeline.StatusFailed,
		store.WithError(cause.Error())); err != nil {
		return fmt.Errorf("failed to mark run failed after %w: %w", cause, err)
	}
	return cause
}
