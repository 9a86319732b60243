package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/protocol"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/supervisor"
)

// budgetText is spoken when a turn exhausts its tool or engine budget.
const budgetText = "That request needed more steps than I can take in one go. Could you break it into something smaller?"

// maxToolTurnText bounds the tool outcome summaries kept in session history.
const maxToolTurnText = 300

// delegationResult is what a worker hands back to the coordinator loop. It is
// tagged with the turn it belongs to; the loop discards results from turns
// that have since been interrupted.
type delegationResult struct {
	delegationID string
	turn         int64
	outcome      string
	text         string
	results      []types.ToolResult
	toolTurns    []types.Turn
	engineTime   time.Duration
}

const (
	outcomeSettled  = "settled"
	outcomeApology  = "apology"
	outcomeBudget   = "budget_exceeded"
	outcomeCanceled = "canceled"
	outcomeStale    = "stale"
)

func (s *Session) handleSupervisorRequest(m protocol.ClientSupervisorRequest) {
	if priorTurn, seen := s.seenDelegations[m.DelegationID]; seen {
		s.logger.Warn("duplicate delegation id",
			"session_id", s.sess.ID, "delegation_id", m.DelegationID, "prior_turn", priorTurn)
		s.warn("duplicate_delegation", fmt.Sprintf("delegation_id %q already used", m.DelegationID))
		return
	}
	if m.Turn != s.turn {
		s.logger.Warn("delegation for wrong turn",
			"session_id", s.sess.ID, "delegation_id", m.DelegationID, "frame_turn", m.Turn, "turn", s.turn)
		s.warn("stale_delegation", fmt.Sprintf("delegation_id %q names turn %d, current turn is %d", m.DelegationID, m.Turn, s.turn))
		return
	}
	if s.activeDelegationID != "" {
		s.logger.Warn("delegation already in flight",
			"session_id", s.sess.ID, "delegation_id", m.DelegationID, "active", s.activeDelegationID)
		s.warn("delegation_in_flight", "a supervisor exchange is already running for this turn")
		return
	}

	s.rememberDelegation(m.DelegationID)
	s.state = StateThinking
	s.launchDelegation(m)
}

func (s *Session) rememberDelegation(id string) {
	s.seenDelegations[id] = s.turn
	s.delegationOrder = append(s.delegationOrder, id)
	if len(s.delegationOrder) > maxRememberedDelegations {
		evict := s.delegationOrder[0]
		s.delegationOrder = s.delegationOrder[1:]
		delete(s.seenDelegations, evict)
	}
}

// launchDelegation starts a worker for the current turn. The worker's context
// dies with the session or on barge-in; tool execution is detached from it
// inside the dispatcher.
func (s *Session) launchDelegation(m protocol.ClientSupervisorRequest) {
	turn := s.turn
	rctx := s.runtimeContext(m.Context)
	history := delegationHistory(s.history, m, s.sess.ID, s.now())

	var dctx context.Context
	var cancel context.CancelFunc
	if s.cfg.SupervisorTimeout > 0 {
		dctx, cancel = context.WithTimeout(s.ctx, s.cfg.SupervisorTimeout)
	} else {
		dctx, cancel = context.WithCancel(s.ctx)
	}
	s.activeDelegationID = m.DelegationID
	s.activeCancel = cancel

	s.logger.Info("delegation started",
		"session_id", s.sess.ID, "delegation_id", m.DelegationID, "turn", turn)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		res := s.runDelegation(dctx, m, turn, rctx, history)
		select {
		case s.resultCh <- res:
		case <-s.ctx.Done():
		}
	}()
}

// runDelegation is the synchronous supervisor exchange for one turn. It
// acquires a worker slot, retrieves context, narrows the catalog, and loops
// engine call / tool dispatch until the reply settles or a budget runs out.
// Every invocation the engine emits gets exactly one result, dispatched and
// submitted before the next engine call.
func (s *Session) runDelegation(ctx context.Context, req protocol.ClientSupervisorRequest, turn int64, rctx types.RuntimeContext, history []types.Turn) delegationResult {
	res := delegationResult{delegationID: req.DelegationID, turn: turn}

	if s.workers != nil {
		select {
		case s.workers <- struct{}{}:
			defer func() { <-s.workers }()
		case <-ctx.Done():
			return s.interrupted(ctx, res)
		}
	}

	bundle := types.EmptyBundle()
	if s.retriever != nil {
		bundle = s.retriever.Retrieve(ctx, s.sess.UserID, req.UserRequest, types.DepthStandard)
		if s.metrics != nil {
			s.metrics.RecordRetrieverLookup(!bundle.Empty())
		}
	}

	defs := s.catalog
	if s.filter != nil {
		defs = s.filter.Narrow(s.catalog, req.UserRequest, rctx)
	}

	reply, err := s.timedEngineCall(ctx, &res, func(ctx context.Context) (*supervisor.Reply, error) {
		return s.sup.Generate(ctx, supervisor.Request{
			History: history,
			Bundle:  bundle,
			Runtime: rctx,
			Tools:   defs,
		})
	})
	engineCalls := 1
	toolCalls := 0

	for {
		if err != nil {
			if ctx.Err() != nil {
				return s.interrupted(ctx, res)
			}
			// The client already retried once where the failure looked
			// transient. From here the turn settles with the apology.
			s.logger.Warn("supervisor call failed",
				"session_id", s.sess.ID, "delegation_id", req.DelegationID, "turn", turn, "error", err)
			res.outcome = outcomeApology
			res.text = s.cfg.SpokenApology
			return res
		}
		if reply.Settled() {
			res.outcome = outcomeSettled
			res.text = reply.Text
			return res
		}
		if toolCalls+len(reply.Invocations) > s.cfg.MaxToolCallsPerTurn {
			s.logger.Warn("tool budget exhausted",
				"session_id", s.sess.ID, "delegation_id", req.DelegationID, "turn", turn,
				"dispatched", toolCalls, "requested", len(reply.Invocations), "budget", s.cfg.MaxToolCallsPerTurn)
			res.outcome = outcomeBudget
			res.text = budgetText
			return res
		}
		// One result per invocation goes back in the very next engine call,
		// so stop before dispatching a batch the budget cannot follow up on.
		if engineCalls >= s.cfg.MaxEngineCallsPerTurn {
			s.logger.Warn("engine call budget exhausted",
				"session_id", s.sess.ID, "delegation_id", req.DelegationID, "turn", turn, "budget", s.cfg.MaxEngineCallsPerTurn)
			res.outcome = outcomeBudget
			res.text = budgetText
			return res
		}

		batch := make([]types.ToolResult, 0, len(reply.Invocations))
		for _, inv := range reply.Invocations {
			inv.TurnID = strconv.FormatInt(turn, 10)
			r := s.dispatcher.Dispatch(ctx, inv, rctx)
			if s.metrics != nil {
				status := "success"
				if !r.Success {
					status = "failure"
				}
				s.metrics.RecordToolExecution(inv.Name, status)
			}
			batch = append(batch, r)
			res.results = append(res.results, r)
			res.toolTurns = append(res.toolTurns, types.Turn{
				SessionID: s.sess.ID,
				Role:      types.RoleTool,
				Text:      toolOutcomeText(inv.Name, r),
				CreatedAt: s.now(),
			})
		}
		toolCalls += len(batch)

		reply, err = s.timedEngineCall(ctx, &res, func(ctx context.Context) (*supervisor.Reply, error) {
			return s.sup.ContinueWithResults(ctx, reply, batch)
		})
		engineCalls++
	}
}

func (s *Session) timedEngineCall(ctx context.Context, res *delegationResult, call func(context.Context) (*supervisor.Reply, error)) (*supervisor.Reply, error) {
	start := s.now()
	reply, err := call(ctx)
	res.engineTime += s.now().Sub(start)
	return reply, err
}

// interrupted maps a dead context to an outcome. A deadline means the
// exchange ran too long and the user deserves the apology; a plain cancel
// means barge-in or shutdown, where silence is correct.
func (s *Session) interrupted(ctx context.Context, res delegationResult) delegationResult {
	if ctx.Err() == context.DeadlineExceeded {
		res.outcome = outcomeApology
		res.text = s.cfg.SpokenApology
		return res
	}
	res.outcome = outcomeCanceled
	return res
}

// handleDelegationResult runs on the coordinator loop. Results from
// interrupted turns are discarded here; nothing from an abandoned exchange
// reaches the client.
func (s *Session) handleDelegationResult(res delegationResult) {
	if res.delegationID == s.activeDelegationID {
		s.activeDelegationID = ""
		s.activeCancel = nil
	}

	if res.turn != s.turn {
		s.logger.Info("discarding stale delegation result",
			"session_id", s.sess.ID, "delegation_id", res.delegationID,
			"result_turn", res.turn, "turn", s.turn, "outcome", res.outcome)
		if s.metrics != nil {
			s.metrics.RecordDelegation(outcomeStale)
		}
		return
	}

	if s.metrics != nil {
		s.metrics.RecordDelegation(res.outcome)
		if res.engineTime > 0 {
			s.metrics.ObserveSupervisorCall(res.engineTime)
		}
	}

	if res.outcome == outcomeCanceled {
		// Session is shutting down; there is no one left to answer.
		s.logger.Info("delegation canceled",
			"session_id", s.sess.ID, "delegation_id", res.delegationID, "turn", res.turn)
		return
	}

	// Tool outcomes join the history so later turns know what already
	// happened, even though the engine speaks the response text itself.
	s.history = append(s.history, res.toolTurns...)

	s.logger.Info("delegation finished",
		"session_id", s.sess.ID, "delegation_id", res.delegationID, "turn", res.turn,
		"outcome", res.outcome, "tool_results", len(res.results), "engine_time", res.engineTime)

	s.sendResponse(protocol.ServerSupervisorResponse{
		Type:         "supervisor_response",
		DelegationID: res.delegationID,
		Turn:         res.turn,
		Text:         res.text,
		ToolResults:  res.results,
	})
}

func (s *Session) sendResponse(frame protocol.ServerSupervisorResponse) {
	payload, err := encodeMessage(frame)
	if err != nil {
		s.logger.Error("encode supervisor_response", "session_id", s.sess.ID, "error", err)
		return
	}
	select {
	case s.outboundNormal <- payload:
	case <-s.ctx.Done():
	}
}

// runtimeContext merges the session's identity with per-delegation hints from
// the engine. Hints win where present; identity never comes from the engine.
func (s *Session) runtimeContext(hints *protocol.DelegationContext) types.RuntimeContext {
	rctx := types.RuntimeContext{
		UserID:      s.sess.UserID,
		DisplayName: s.sess.DisplayName,
		Language:    s.sess.Language,
		Location:    s.sess.Location,
		Timezone:    s.sess.Timezone,
		IsVoice:     true,
	}
	if hints == nil {
		return rctx
	}
	if hints.Language != "" {
		rctx.Language = hints.Language
	}
	if hints.Timezone != "" {
		rctx.Timezone = hints.Timezone
	}
	if hints.Location != nil {
		rctx.Location = hints.Location
	}
	return rctx
}

// delegationHistory snapshots the session history for a worker. When the
// engine delegates before the client's final transcript frame lands, the
// utterance is appended from the request so the supervisor always sees it.
func delegationHistory(history []types.Turn, req protocol.ClientSupervisorRequest, sessionID string, now time.Time) []types.Turn {
	snap := make([]types.Turn, len(history), len(history)+1)
	copy(snap, history)
	if n := len(snap); n == 0 || snap[n-1].Role != types.RoleUser {
		snap = append(snap, types.Turn{
			SessionID: sessionID,
			Role:      types.RoleUser,
			Text:      req.UserRequest,
			CreatedAt: now,
		})
	}
	return snap
}

func toolOutcomeText(name string, r types.ToolResult) string {
	var text string
	if r.Success {
		text = name + " succeeded"
		if len(r.Payload) > 0 {
			if raw, err := json.Marshal(r.Payload); err == nil {
				text += ": " + string(raw)
			}
		}
	} else {
		text = name + " failed: " + r.Error
	}
	if len(text) > maxToolTurnText {
		text = text[:maxToolTurnText]
	}
	return text
}

func encodeMessage(v any) ([]byte, error) {
	return json.Marshal(v)
}
