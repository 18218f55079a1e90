package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/duckrelay/duckrelay/internal/completion"
	"github.com/duckrelay/duckrelay/internal/history"
	"github.com/duckrelay/duckrelay/internal/query"
)

type fakeEngine struct {
	execute func(ctx context.Context, sql string) (query.Result, error)
	calls   []string
}

func (f *fakeEngine) Execute(ctx context.Context, sql string) (query.Result, error) {
	f.calls = append(f.calls, sql)
	return f.execute(ctx, sql)
}

type fakeClient struct {
	reply        string
	err          error
	conversation []completion.Message
	calls        int
}

func (f *fakeClient) Complete(_ context.Context, messages []completion.Message) (string, error) {
	f.calls++
	f.conversation = messages
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type captureEmitter struct {
	events []string
	texts  []string
	errs   []ErrorDetail
}

func (c *captureEmitter) Ack() error {
	c.events = append(c.events, "ack")
	return nil
}

func (c *captureEmitter) Text(chunk string) error {
	c.events = append(c.events, "text")
	c.texts = append(c.texts, chunk)
	return nil
}

func (c *captureEmitter) Done() error {
	c.events = append(c.events, "done")
	return nil
}

func (c *captureEmitter) Errors(details []ErrorDetail) error {
	c.events = append(c.events, "errors")
	c.errs = append(c.errs, details...)
	return nil
}

type fakeRecorder struct {
	records []history.Record
}

func (f *fakeRecorder) Insert(_ context.Context, record history.Record) error {
	f.records = append(f.records, record)
	return nil
}

func (f *fakeRecorder) ListRecent(context.Context, string, int) ([]history.Record, error) {
	return f.records, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPipeline(t *testing.T, deps Dependencies) *Pipeline {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = quietLogger()
	}
	p, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func userRequest(text string) Request {
	return Request{
		TraceID:  "trace-test",
		UserID:   "user-1",
		Messages: []completion.Message{{Role: completion.RoleUser, Content: text}},
	}
}

func TestRunDirectSQLRendersTable(t *testing.T) {
	engine := &fakeEngine{execute: func(context.Context, string) (query.Result, error) {
		return query.Result{Columns: []string{"a", "b", "c"}, Rows: [][]any{{int64(1), int64(2), int64(3)}}}, nil
	}}
	recorder := &fakeRecorder{}
	p := newPipeline(t, Dependencies{Engine: engine, Recorder: recorder})
	emitter := &captureEmitter{}

	p.Run(context.Background(), userRequest("SELECT 1, 2, 3"), emitter)

	want := []string{"ack", "text", "text", "text", "done"}
	if fmt.Sprint(emitter.events) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", emitter.events, want)
	}
	if !strings.HasPrefix(emitter.texts[0], "| a | b | c |") {
		t.Fatalf("header chunk = %q", emitter.texts[0])
	}
	if !strings.Contains(emitter.texts[2], "| 1 | 2 | 3 |") {
		t.Fatalf("row chunk = %q", emitter.texts[2])
	}
	if len(recorder.records) != 1 || recorder.records[0].Mode != history.ModeDirect {
		t.Fatalf("recorded = %+v, want one direct record", recorder.records)
	}
	if recorder.records[0].RowCount != 1 {
		t.Fatalf("row count = %d, want 1", recorder.records[0].RowCount)
	}
}

func TestRunDelegatesNaturalLanguageToSQL(t *testing.T) {
	engine := &fakeEngine{execute: func(_ context.Context, sql string) (query.Result, error) {
		if !strings.Contains(sql, "cities") {
			return query.Result{}, fmt.Errorf("unexpected sql %q", sql)
		}
		return query.Result{Columns: []string{"name"}, Rows: [][]any{{"berlin"}}}, nil
	}}
	client := &fakeClient{reply: "SELECT * FROM cities;"}
	recorder := &fakeRecorder{}
	p := newPipeline(t, Dependencies{Engine: engine, Client: client, Recorder: recorder})
	emitter := &captureEmitter{}

	p.Run(context.Background(), userRequest("list every city we know about"), emitter)

	if emitter.events[len(emitter.events)-1] != "done" {
		t.Fatalf("events = %v, want done terminal", emitter.events)
	}
	if !strings.HasPrefix(emitter.texts[0], "| name |") {
		t.Fatalf("header chunk = %q", emitter.texts[0])
	}
	if client.calls != 1 {
		t.Fatalf("completion calls = %d, want 1", client.calls)
	}
	if recorder.records[0].Mode != history.ModeDelegated {
		t.Fatalf("mode = %q, want delegated", recorder.records[0].Mode)
	}
}

func TestRunPrependsSystemMessageWithoutMutatingCaller(t *testing.T) {
	engine := &fakeEngine{execute: func(context.Context, string) (query.Result, error) {
		return query.Result{}, errors.New("no such table")
	}}
	client := &fakeClient{reply: "I could not find a table for that."}
	p := newPipeline(t, Dependencies{Engine: engine, Client: client})

	request := Request{
		TraceID: "trace-test",
		Messages: []completion.Message{
			{Role: completion.RoleAssistant, Content: "hello"},
			{Role: completion.RoleUser, Content: "SELECT * FROM missing"},
		},
	}
	original := len(request.Messages)
	p.Run(context.Background(), request, &captureEmitter{})

	if len(request.Messages) != original {
		t.Fatalf("caller messages mutated: %d, want %d", len(request.Messages), original)
	}
	if len(client.conversation) != original+1 {
		t.Fatalf("conversation length = %d, want %d", len(client.conversation), original+1)
	}
	if client.conversation[0].Role != completion.RoleSystem {
		t.Fatalf("first role = %q, want system", client.conversation[0].Role)
	}
}

func TestRunFallbackTextStillTerminatesWithDone(t *testing.T) {
	engine := &fakeEngine{execute: func(context.Context, string) (query.Result, error) {
		return query.Result{}, errors.New("syntax error")
	}}
	client := &fakeClient{reply: "That query cannot be fixed automatically."}
	recorder := &fakeRecorder{}
	p := newPipeline(t, Dependencies{Engine: engine, Client: client, Recorder: recorder})
	emitter := &captureEmitter{}

	p.Run(context.Background(), userRequest("SELECT * FROM"), emitter)

	want := []string{"ack", "text", "done"}
	if fmt.Sprint(emitter.events) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", emitter.events, want)
	}
	if emitter.texts[0] != client.reply {
		t.Fatalf("text = %q, want raw completion reply", emitter.texts[0])
	}
	if recorder.records[0].Mode != history.ModeText {
		t.Fatalf("mode = %q, want text", recorder.records[0].Mode)
	}
}

func TestRunFallbackSQLExecutesSecondAttempt(t *testing.T) {
	attempt := 0
	engine := &fakeEngine{execute: func(_ context.Context, sql string) (query.Result, error) {
		attempt++
		if attempt == 1 {
			return query.Result{}, errors.New("parse error")
		}
		return query.Result{Columns: []string{"n"}, Rows: [][]any{{int64(7)}}}, nil
	}}
	client := &fakeClient{reply: "```sql\nSELECT 7 AS n\n```"}
	recorder := &fakeRecorder{}
	p := newPipeline(t, Dependencies{Engine: engine, Client: client, Recorder: recorder})
	emitter := &captureEmitter{}

	p.Run(context.Background(), userRequest("SELECT 7 FROMM numbrs"), emitter)

	if attempt != 2 {
		t.Fatalf("execution attempts = %d, want 2", attempt)
	}
	if engine.calls[1] != "SELECT 7 AS n" {
		t.Fatalf("second attempt sql = %q, want fence stripped", engine.calls[1])
	}
	if recorder.records[0].Mode != history.ModeFallback {
		t.Fatalf("mode = %q, want fallback", recorder.records[0].Mode)
	}
	if emitter.events[len(emitter.events)-1] != "done" {
		t.Fatalf("events = %v, want done terminal", emitter.events)
	}
}

func TestRunSecondFailureEmitsCompletionText(t *testing.T) {
	engine := &fakeEngine{execute: func(context.Context, string) (query.Result, error) {
		return query.Result{}, errors.New("still broken")
	}}
	client := &fakeClient{reply: "SELECT broken FROM nowhere"}
	p := newPipeline(t, Dependencies{Engine: engine, Client: client})
	emitter := &captureEmitter{}

	p.Run(context.Background(), userRequest("SELECT broken"), emitter)

	if len(engine.calls) != 2 {
		t.Fatalf("execution attempts = %d, want 2", len(engine.calls))
	}
	if client.calls != 1 {
		t.Fatalf("completion calls = %d, want exactly one (no retry)", client.calls)
	}
	want := []string{"ack", "text", "done"}
	if fmt.Sprint(emitter.events) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", emitter.events, want)
	}
	if emitter.texts[0] != client.reply {
		t.Fatalf("text = %q, want raw completion reply", emitter.texts[0])
	}
}

func TestRunCompletionFailureAfterExecutionError(t *testing.T) {
	engine := &fakeEngine{execute: func(context.Context, string) (query.Result, error) {
		return query.Result{}, errors.New("no such table: orders")
	}}
	client := &fakeClient{err: errors.New("upstream unavailable")}
	p := newPipeline(t, Dependencies{Engine: engine, Client: client})
	emitter := &captureEmitter{}

	p.Run(context.Background(), userRequest("SELECT * FROM orders"), emitter)

	want := []string{"ack", "errors"}
	if fmt.Sprint(emitter.events) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", emitter.events, want)
	}
	if emitter.errs[0].Code != CodeExecutionFailed {
		t.Fatalf("error code = %q, want %q", emitter.errs[0].Code, CodeExecutionFailed)
	}
}

func TestRunWithoutClientRejectsNaturalLanguage(t *testing.T) {
	engine := &fakeEngine{execute: func(context.Context, string) (query.Result, error) {
		t.Fatal("engine must not be called")
		return query.Result{}, nil
	}}
	p := newPipeline(t, Dependencies{Engine: engine})
	emitter := &captureEmitter{}

	p.Run(context.Background(), userRequest("what happened yesterday?"), emitter)

	want := []string{"ack", "errors"}
	if fmt.Sprint(emitter.events) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", emitter.events, want)
	}
	if emitter.errs[0].Code != CodeCompletionFailed {
		t.Fatalf("error code = %q, want %q", emitter.errs[0].Code, CodeCompletionFailed)
	}
}

func TestRunRecoversPanicIntoSingleErrorsEvent(t *testing.T) {
	engine := &fakeEngine{execute: func(context.Context, string) (query.Result, error) {
		panic("boom")
	}}
	recorder := &fakeRecorder{}
	p := newPipeline(t, Dependencies{Engine: engine, Recorder: recorder})
	emitter := &captureEmitter{}

	p.Run(context.Background(), userRequest("SELECT 1"), emitter)

	want := []string{"ack", "errors"}
	if fmt.Sprint(emitter.events) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", emitter.events, want)
	}
	if emitter.errs[0].Code != CodeInternal {
		t.Fatalf("error code = %q, want %q", emitter.errs[0].Code, CodeInternal)
	}
	if recorder.records[0].Mode != history.ModeFailed {
		t.Fatalf("mode = %q, want failed", recorder.records[0].Mode)
	}
}

func TestRunRequiresUserMessage(t *testing.T) {
	engine := &fakeEngine{execute: func(context.Context, string) (query.Result, error) {
		t.Fatal("engine must not be called")
		return query.Result{}, nil
	}}
	p := newPipeline(t, Dependencies{Engine: engine})
	emitter := &captureEmitter{}

	p.Run(context.Background(), Request{TraceID: "trace-test"}, emitter)

	want := []string{"ack", "errors"}
	if fmt.Sprint(emitter.events) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", emitter.events, want)
	}
}

func TestRunEmptyResultEmitsNoResultsChunk(t *testing.T) {
	engine := &fakeEngine{execute: func(context.Context, string) (query.Result, error) {
		return query.Result{Columns: []string{"a"}}, nil
	}}
	p := newPipeline(t, Dependencies{Engine: engine})
	emitter := &captureEmitter{}

	p.Run(context.Background(), userRequest("SELECT a FROM empty_table"), emitter)

	want := []string{"ack", "text", "done"}
	if fmt.Sprint(emitter.events) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", emitter.events, want)
	}
	if emitter.texts[0] != "_no results_" {
		t.Fatalf("text = %q, want no-results marker", emitter.texts[0])
	}
}
