// Package pipeline orchestrates one relay request: classify the inbound
// message, execute it as SQL or delegate it to the completion client,
// render the outcome, and emit the typed event stream back to the caller.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/duckrelay/duckrelay/internal/classify"
	"github.com/duckrelay/duckrelay/internal/completion"
	"github.com/duckrelay/duckrelay/internal/history"
	"github.com/duckrelay/duckrelay/internal/observability"
	"github.com/duckrelay/duckrelay/internal/query"
	"github.com/duckrelay/duckrelay/internal/render"
)

// systemPrompt biases delegated completions toward a bare SQL statement
// so the re-classification pass has something executable to work with.
const systemPrompt = "You translate analytics questions into a single valid DuckDB SQL statement. " +
	"Reply with only the SQL statement, no commentary and no code fences. " +
	"If the request cannot be answered with SQL, reply in plain language instead."

const (
	CodeExecutionFailed  = "EXECUTION_FAILED"
	CodeCompletionFailed = "COMPLETION_FAILED"
	CodeInternal         = "INTERNAL"
)

// ErrorDetail is one entry of a terminal errors event.
type ErrorDetail struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	Code       string `json:"code"`
	Identifier string `json:"identifier"`
}

// Emitter receives the ordered event stream for one request. Ack is
// always first; either Done or Errors terminates the stream.
type Emitter interface {
	Ack() error
	Text(chunk string) error
	Done() error
	Errors(details []ErrorDetail) error
}

// Archiver persists executed results out of band. Failures must not
// affect the request.
type Archiver interface {
	Archive(ctx context.Context, traceID string, result query.Result)
}

type Request struct {
	TraceID  string
	UserID   string
	Messages []completion.Message
}

type state int

const (
	stateReceived state = iota
	stateClassified
	stateExecuted
	stateDelegated
	stateRendered
	stateEmitting
	stateDone
	stateFailed
)

type Dependencies struct {
	Engine   query.Engine
	Client   completion.Client
	Recorder history.Recorder
	Archiver Archiver
	Logger   *slog.Logger
}

type Pipeline struct {
	engine   query.Engine
	client   completion.Client
	recorder history.Recorder
	archiver Archiver
	logger   *slog.Logger
	now      func() time.Time
}

func New(deps Dependencies) (*Pipeline, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("query engine is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		engine:   deps.Engine,
		client:   deps.Client,
		recorder: deps.Recorder,
		archiver: deps.Archiver,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// run carries the per-request data the state loop threads between steps.
type run struct {
	request    Request
	message    string
	classified bool
	sql        string
	attempts   int
	result     query.Result
	executeErr error
	text       string
	chunks     []string
	mode       history.Mode
	failure    *ErrorDetail
}

// Run drives one request to a terminal event. Panics anywhere in the
// chain are converted into a single errors event; nothing escapes.
func (p *Pipeline) Run(ctx context.Context, request Request, emitter Emitter) {
	started := p.now()
	current := &run{request: request, mode: history.ModeFailed}

	defer func() {
		if recovered := recover(); recovered != nil {
			p.logger.Error("pipeline panic",
				"trace_id", request.TraceID,
				"panic", fmt.Sprintf("%v", recovered))
			p.emitErrors(emitter, request.TraceID, ErrorDetail{
				Type:       "internal",
				Message:    "internal processing error",
				Code:       CodeInternal,
				Identifier: request.TraceID,
			})
			current.mode = history.ModeFailed
			current.failure = &ErrorDetail{Code: CodeInternal, Message: fmt.Sprintf("panic: %v", recovered)}
		}
		observability.ObserveRelayRequest(string(current.mode), p.now().Sub(started))
		p.record(ctx, current, p.now().Sub(started))
	}()

	if err := emitter.Ack(); err != nil {
		p.logger.Warn("ack emit failed", "trace_id", request.TraceID, "error", err)
		return
	}

	message, err := latestUserMessage(request.Messages)
	if err != nil {
		current.failure = &ErrorDetail{
			Type:       "request",
			Message:    err.Error(),
			Code:       CodeInternal,
			Identifier: request.TraceID,
		}
		p.emitErrors(emitter, request.TraceID, *current.failure)
		return
	}
	current.message = message

	for st := stateReceived; st != stateDone && st != stateFailed; {
		st = p.step(ctx, st, current)
	}

	p.emit(emitter, current)
}

func (p *Pipeline) step(ctx context.Context, st state, current *run) state {
	switch st {
	case stateReceived:
		current.classified = classify.IsLikelySQL(current.message)
		if current.classified {
			observability.IncrementSQLClassified()
		}
		return stateClassified

	case stateClassified:
		if current.classified {
			current.sql = current.message
			return stateExecuted
		}
		return stateDelegated

	case stateExecuted:
		current.attempts++
		result, err := p.engine.Execute(ctx, current.sql)
		if err == nil {
			current.result = result
			if current.attempts == 1 && current.classified {
				current.mode = history.ModeDirect
			} else if current.classified {
				current.mode = history.ModeFallback
			} else {
				current.mode = history.ModeDelegated
			}
			return stateRendered
		}
		observability.IncrementExecutionFailure()
		p.logger.Warn("query execution failed",
			"trace_id", current.request.TraceID,
			"attempt", current.attempts,
			"error", err)
		current.executeErr = err
		if current.text != "" {
			// The statement came from the completion client; emit its
			// raw output as the final answer instead of the error.
			current.chunks = []string{current.text}
			current.mode = history.ModeText
			return stateEmitting
		}
		return stateDelegated

	case stateDelegated:
		text, err := p.delegate(ctx, current)
		if err != nil {
			current.mode = history.ModeFailed
			detail := ErrorDetail{
				Type:       "completion",
				Message:    "completion request failed",
				Code:       CodeCompletionFailed,
				Identifier: current.request.TraceID,
			}
			if current.executeErr != nil {
				detail.Type = "execution"
				detail.Message = current.executeErr.Error()
				detail.Code = CodeExecutionFailed
			}
			current.failure = &detail
			return stateFailed
		}
		current.text = text
		candidate := completion.StripMarkdownFence(text)
		if classify.IsLikelySQL(candidate) && current.attempts < 2 {
			current.sql = candidate
			return stateExecuted
		}
		current.chunks = []string{text}
		current.mode = history.ModeText
		return stateEmitting

	case stateRendered:
		current.chunks = render.Markdown(current.result)
		if p.archiver != nil && len(current.result.Rows) > 0 {
			p.archiver.Archive(ctx, current.request.TraceID, current.result)
		}
		return stateEmitting

	case stateEmitting:
		return stateDone

	default:
		return stateFailed
	}
}

// delegate sends the conversation to the completion client with the SQL
// bias instruction prepended. The caller's message slice is never mutated.
func (p *Pipeline) delegate(ctx context.Context, current *run) (string, error) {
	if p.client == nil {
		return "", fmt.Errorf("completion client is not configured")
	}
	if current.executeErr != nil {
		observability.IncrementCompletionFallback()
	}
	conversation := make([]completion.Message, 0, len(current.request.Messages)+1)
	conversation = append(conversation, completion.Message{Role: completion.RoleSystem, Content: systemPrompt})
	conversation = append(conversation, current.request.Messages...)
	return p.client.Complete(ctx, conversation)
}

func (p *Pipeline) emit(emitter Emitter, current *run) {
	if current.failure != nil {
		p.emitErrors(emitter, current.request.TraceID, *current.failure)
		return
	}
	for _, chunk := range current.chunks {
		if err := emitter.Text(chunk); err != nil {
			p.logger.Warn("text emit failed", "trace_id", current.request.TraceID, "error", err)
			return
		}
	}
	if err := emitter.Done(); err != nil {
		p.logger.Warn("done emit failed", "trace_id", current.request.TraceID, "error", err)
	}
}

func (p *Pipeline) emitErrors(emitter Emitter, traceID string, details ...ErrorDetail) {
	if err := emitter.Errors(details); err != nil {
		p.logger.Warn("errors emit failed", "trace_id", traceID, "error", err)
	}
}

func (p *Pipeline) record(ctx context.Context, current *run, elapsed time.Duration) {
	if p.recorder == nil {
		return
	}
	record := history.Record{
		TraceID:    current.request.TraceID,
		UserID:     current.request.UserID,
		Message:    current.message,
		Classified: current.classified,
		Mode:       current.mode,
		SQL:        current.sql,
		RowCount:   len(current.result.Rows),
		Duration:   elapsed,
		CreatedAt:  p.now().UTC(),
	}
	if current.failure != nil {
		record.Error = current.failure.Message
	}
	if err := p.recorder.Insert(ctx, record); err != nil {
		p.logger.Warn("history insert failed", "trace_id", current.request.TraceID, "error", err)
	}
}

func latestUserMessage(messages []completion.Message) (string, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != completion.RoleUser {
			continue
		}
		content := strings.TrimSpace(messages[i].Content)
		if content == "" {
			return "", fmt.Errorf("user message is empty")
		}
		return content, nil
	}
	return "", fmt.Errorf("conversation has no user message")
}
