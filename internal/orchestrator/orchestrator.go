// Package orchestrator drives the bounded tool-calling loop: per requested
// call it checks the session budget, consults the policy engine, executes
// the paid call under a guaranteed reservation release, and records the
// outcome in the settlement log, the session ledger and the request trace.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/peagelabs/peage/internal/capability"
	"github.com/peagelabs/peage/internal/llm"
	"github.com/peagelabs/peage/internal/payment"
	"github.com/peagelabs/peage/internal/policy"
	"github.com/peagelabs/peage/internal/session"
	"github.com/peagelabs/peage/internal/settle"
	"github.com/peagelabs/peage/internal/trace"
)

const systemPrompt = `You are a crypto research assistant with access to paid data tools.
Each tool call costs real money and is listed with its price. Only call a tool when
its output is needed to answer the user; prefer answering from context otherwise.
If a tool call is rejected for budget or policy reasons, explain the limitation
and answer as best you can without it.`

// PolicyEngine decides whether one prospective paid call may proceed.
type PolicyEngine interface {
	Evaluate(ctx context.Context, in policy.EvaluateInput) policy.Decision
}

// Releaser frees a budget reservation. Implemented by reserve.Ledger.
type Releaser interface {
	Release(id string)
}

// SettlementRecorder records one receipt in the durable log, the in-memory
// history and the daily spend mirror. Implemented by settle.Recorder.
type SettlementRecorder interface {
	Record(ctx context.Context, receipt *settle.Receipt)
}

// SessionLedger tracks per-session spend. Implemented by session.Ledger.
type SessionLedger interface {
	AddReceipt(ctx context.Context, r *settle.Receipt)
	SpentInSession(sessionID string) float64
	GetSummary(ctx context.Context, sessionID string) (*session.Summary, error)
}

// Orchestrator is the long-lived request driver. Construct once at startup;
// all shared state lives in the collaborators, so tests build isolated
// instances freely.
type Orchestrator struct {
	model        llm.Client
	caps         *capability.Registry
	engine       PolicyEngine
	executor     *payment.Executor
	reservations Releaser
	settlements  SettlementRecorder
	sessions     SessionLedger
	traces       *trace.Recorder

	sessionLimitUSD float64
	maxTurns        int
}

// New creates an Orchestrator.
func New(
	model llm.Client,
	caps *capability.Registry,
	engine PolicyEngine,
	executor *payment.Executor,
	reservations Releaser,
	settlements SettlementRecorder,
	sessions SessionLedger,
	traces *trace.Recorder,
	sessionLimitUSD float64,
	maxTurns int,
) *Orchestrator {
	if maxTurns <= 0 {
		maxTurns = 5
	}
	return &Orchestrator{
		model:           model,
		caps:            caps,
		engine:          engine,
		executor:        executor,
		reservations:    reservations,
		settlements:     settlements,
		sessions:        sessions,
		traces:          traces,
		sessionLimitUSD: sessionLimitUSD,
		maxTurns:        maxTurns,
	}
}

// ChatRequest is one end-user request.
type ChatRequest struct {
	SessionID string  `json:"session_id,omitempty"`
	Prompt    string  `json:"prompt"`
	BudgetUSD float64 `json:"budget_usd,omitempty"`
}

// ChatResponse is the answer plus its audit trail.
type ChatResponse struct {
	SessionID string         `json:"session_id"`
	TraceID   string         `json:"trace_id"`
	Response  string         `json:"response"`
	Trace     *trace.Summary `json:"trace"`
}

// ExecResult is the outcome of one requested tool call.
type ExecResult struct {
	Outcome string
	Data    json.RawMessage
	Err     string
	Step    trace.Step
}

// HandleRequest runs the bounded tool loop for one user prompt. Tool calls
// within a request are processed sequentially so each budget decision sees
// the effect of the previous one.
func (o *Orchestrator) HandleRequest(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	limit := req.BudgetUSD
	if limit <= 0 {
		limit = o.sessionLimitUSD
	}

	spentStart := o.sessions.SpentInSession(sessionID)
	spent := spentStart
	traceID := o.traces.Begin(sessionID, req.Prompt, limit, spentStart)

	tools := BuildTools(o.caps)
	messages := []llm.Message{llm.NewUserMessage(req.Prompt)}

	var finalText string
	anySucceeded := false

	for turn := 0; turn < o.maxTurns; turn++ {
		resp, err := o.model.CreateMessage(ctx, llm.Request{
			System:   systemPrompt,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			o.traces.Finish(traceID, spent)
			return nil, fmt.Errorf("model turn %d: %w", turn, err)
		}

		uses := resp.ToolUses()
		if len(uses) == 0 {
			finalText = resp.TextContent()
			break
		}

		messages = append(messages, llm.NewAssistantMessage(resp))
		results := make([]llm.ContentBlock, 0, len(uses))

		for _, use := range uses {
			plan, err := ResolvePlan(o.caps, use.Name, use.Input)
			if err != nil {
				o.traces.AddStep(traceID, trace.Step{
					ToolName: use.Name,
					Outcome:  trace.OutcomeSkipped,
					Reason:   err.Error(),
				})
				results = append(results, llm.NewToolResult(use.ID, err.Error(), true))
				continue
			}

			budgetBefore := limit - spent
			if budgetBefore < 0 {
				budgetBefore = 0
			}

			res := o.EvaluateAndExecute(ctx, traceID, sessionID, plan, budgetBefore)
			o.traces.AddStep(traceID, res.Step)

			if res.Outcome == trace.OutcomeSuccess {
				anySucceeded = true
				spent += plan.QuotedPriceUSD
				results = append(results, llm.NewToolResult(use.ID, string(res.Data), false))
			} else {
				results = append(results, llm.NewToolResult(use.ID, res.Err, true))
			}
		}

		messages = append(messages, llm.Message{Role: "user", Content: results})

		// The cap bounds model turns, not tool calls: if this was the
		// last turn, the response is whatever text came with it.
		if turn == o.maxTurns-1 {
			finalText = resp.TextContent()
		}
	}

	summary := o.traces.Finish(traceID, spent)

	if !anySucceeded {
		if note := blockedNote(summary); note != "" {
			if finalText != "" {
				finalText += "\n\n"
			}
			finalText += note
		}
	}

	return &ChatResponse{
		SessionID: sessionID,
		TraceID:   traceID,
		Response:  finalText,
		Trace:     summary,
	}, nil
}

// EvaluateAndExecute runs one planned call through the session-budget check,
// the policy engine and the executor. The session check runs first and is
// independent of per-agent policy: the session ceiling protects the user,
// the per-agent policy protects the platform.
func (o *Orchestrator) EvaluateAndExecute(ctx context.Context, traceID, sessionID string, plan CallPlan, budgetBeforeUSD float64) ExecResult {
	step := trace.Step{
		ToolName:        plan.ToolName,
		Endpoint:        plan.Endpoint,
		QuotedPriceUSD:  plan.QuotedPriceUSD,
		BudgetBeforeUSD: budgetBeforeUSD,
		BudgetAfterUSD:  budgetBeforeUSD,
	}

	if plan.QuotedPriceUSD > budgetBeforeUSD {
		reason := fmt.Sprintf("%s: call costs $%.2f but only $%.2f of the session budget remains",
			policy.CodeBudgetExceeded, plan.QuotedPriceUSD, budgetBeforeUSD)
		step.Outcome = trace.OutcomeSkipped
		step.Reason = reason
		return ExecResult{Outcome: trace.OutcomeSkipped, Err: reason, Step: step}
	}

	decision := o.engine.Evaluate(ctx, policy.EvaluateInput{
		AgentID:         plan.CapabilityID,
		Endpoint:        plan.Endpoint,
		QuotedPriceUSD:  plan.QuotedPriceUSD,
		Payee:           plan.Payee,
		TraceID:         traceID,
		SessionID:       sessionID,
		BudgetBeforeUSD: budgetBeforeUSD,
	})
	if !decision.Allowed {
		reason := fmt.Sprintf("%s: %s", decision.Code, decision.Reason)
		step.Outcome = trace.OutcomeSkipped
		step.Reason = reason
		return ExecResult{Outcome: trace.OutcomeSkipped, Err: reason, Step: step}
	}

	defer o.reservations.Release(decision.ReservationID)

	result, latency, err := o.executor.Execute(ctx, payment.Call{
		AgentID:  plan.CapabilityID,
		BaseURL:  plan.BaseURL,
		Endpoint: plan.Endpoint,
		Method:   plan.Method,
	})

	receipt := &settle.Receipt{
		SessionID: sessionID,
		TraceID:   traceID,
		AgentID:   plan.CapabilityID,
		Endpoint:  plan.Endpoint,
		Method:    plan.Method,
		AmountUSD: plan.QuotedPriceUSD,
		Network:   plan.Network,
		Payee:     plan.Payee,
		SettledAt: time.Now().UTC(),
		LatencyMs: latency.Milliseconds(),
	}

	if err != nil {
		receipt.Success = false
		receipt.Error = err.Error()
		o.settlements.Record(ctx, receipt)
		o.sessions.AddReceipt(ctx, receipt)

		reason := fmt.Sprintf("%s: %s", policy.CodePaymentFailed, err.Error())
		step.Outcome = trace.OutcomeFailed
		step.Reason = reason
		step.LatencyMs = receipt.LatencyMs
		return ExecResult{Outcome: trace.OutcomeFailed, Err: reason, Step: step}
	}

	settlement := payment.Normalize(result.RawReceipt)
	receipt.Success = true
	receipt.TxHash = settlement.TxHash
	receipt.ReceiptRef = settlement.ReceiptRef
	if receipt.ReceiptRef == "" {
		receipt.ReceiptRef = settlement.SettlementID
	}
	receipt.SettlePayer = settlement.Payer
	if settlement.Network != "" {
		receipt.SettleNetwork = settlement.Network
	}
	o.settlements.Record(ctx, receipt)
	o.sessions.AddReceipt(ctx, receipt)

	step.Outcome = trace.OutcomeSuccess
	step.BudgetAfterUSD = budgetBeforeUSD - plan.QuotedPriceUSD
	step.ReceiptRef = receipt.ReceiptRef
	step.LatencyMs = receipt.LatencyMs
	return ExecResult{Outcome: trace.OutcomeSuccess, Data: result.Data, Step: step}
}

// SessionSummary is a pass-through to the session ledger.
func (o *Orchestrator) SessionSummary(ctx context.Context, sessionID string) (*session.Summary, error) {
	return o.sessions.GetSummary(ctx, sessionID)
}

// Trace returns a finished trace by id.
func (o *Orchestrator) Trace(traceID string) *trace.Summary {
	return o.traces.Get(traceID)
}

// LatestSessionTrace returns the most recent finished trace for a session.
func (o *Orchestrator) LatestSessionTrace(sessionID string) *trace.Summary {
	return o.traces.LatestForSession(sessionID)
}

// blockedNote summarizes skipped and failed steps when nothing succeeded,
// so the caller sees why the answer lacks paid data.
func blockedNote(summary *trace.Summary) string {
	if summary == nil {
		return ""
	}
	var parts []string
	for _, step := range summary.Steps {
		if step.Outcome == trace.OutcomeSuccess {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (%s: %s)", step.ToolName, step.Outcome, step.Reason))
	}
	if len(parts) == 0 {
		return ""
	}
	return "Note: no paid data calls completed. Blocked calls: " + strings.Join(parts, "; ")
}
