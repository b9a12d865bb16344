package generation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/fyrsmithlabs/clinicpulse/internal/session"
	"github.com/fyrsmithlabs/clinicpulse/internal/tools"
	"github.com/fyrsmithlabs/clinicpulse/internal/validation"
)

// scriptedModel returns queued replies and records every call.
type scriptedModel struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   [][]llms.MessageContent
}

func (m *scriptedModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, messages)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(m.replies) == 0 {
		return &llms.ContentResponse{}, nil
	}
	content := m.replies[0]
	m.replies = m.replies[1:]
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: content}}}, nil
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func testRequest(t *testing.T, caller tools.Caller) Request {
	t.Helper()
	return Request{
		Stage:        "intake",
		Instructions: "Collect patient details.",
		OutputKey:    "patient_intake",
		Requirements: validation.Requirements{Fields: []string{"patient_id", "symptoms", "duration"}},
		Iteration:    1,
		Message:      "I'm P1 with a cough for 2 days",
		State:        session.NewState().Snapshot(),
		Tools:        caller,
	}
}

func TestFuncAndRouter(t *testing.T) {
	intake := Func(func(context.Context, Request) (Response, error) {
		return Structured(map[string]any{"patient_id": "P1"}), nil
	})
	fallback := Func(func(context.Context, Request) (Response, error) {
		return FreeText("fallback"), nil
	})

	r := &Router{Default: fallback, Stages: map[string]Generator{"intake": intake}}

	resp, err := r.Generate(context.Background(), Request{Stage: "intake"})
	require.NoError(t, err)
	require.NotNil(t, resp.Value)
	assert.True(t, resp.Value.IsStructured())

	resp, err = r.Generate(context.Background(), Request{Stage: "triage"})
	require.NoError(t, err)
	assert.Equal(t, "fallback", resp.Reply)

	_, err = (&Router{}).Generate(context.Background(), Request{Stage: "x"})
	assert.ErrorIs(t, err, ErrNoGenerator)
}

func TestParseReply(t *testing.T) {
	r := parseReply(`{"output": {"patient_id": "P1"}, "reply": "Thanks"}`)
	require.NotNil(t, r.value())
	assert.True(t, r.value().IsStructured())
	assert.Equal(t, "Thanks", r.Reply)

	fenced := parseReply("```json\n{\"pause\": true, \"reply\": \"waiting\"}\n```")
	assert.True(t, fenced.Pause)
	assert.Nil(t, fenced.value())

	text := parseReply("Triage: urgent priority")
	require.NotNil(t, text.value())
	assert.False(t, text.value().IsStructured())
	assert.Equal(t, "Triage: urgent priority", text.value().Text)
}

func TestTrimHistory(t *testing.T) {
	history := []session.Turn{
		{Message: "aaaa aaaa aaaa aaaa", Response: "bbbb bbbb bbbb bbbb"},
		{Message: "cc", Response: "dd"},
		{Message: "ee", Response: "ff"},
	}
	var counter *TokenCounter // estimate mode

	assert.Nil(t, TrimHistory(history, 0, counter))
	assert.Len(t, TrimHistory(history, 1000, counter), 3)

	kept := TrimHistory(history, 4, counter)
	require.Len(t, kept, 2)
	assert.Equal(t, "cc", kept[0].Message, "keeps newest turns in order")
}

func TestTokenCounter(t *testing.T) {
	c, err := NewTokenCounter("gpt-4o-mini")
	require.NoError(t, err)
	assert.Greater(t, c.Count("patient reports chest pain for two days"), 0)

	unknown, err := NewTokenCounter("local-llama")
	require.NoError(t, err)
	assert.Greater(t, unknown.Count("hello world"), 0)
}

func TestLLM_DirectAnswer(t *testing.T) {
	model := &scriptedModel{replies: []string{
		`{"output": {"patient_id": "P1", "symptoms": "cough", "duration": "2 days"}, "reply": "Got it"}`,
	}}
	l := NewLLM(model, nil, nil, nil, LLMConfig{MaxToolRounds: 3, HistoryTokens: 100}, nil)

	resp, err := l.Generate(context.Background(), testRequest(t, nil))
	require.NoError(t, err)
	require.NotNil(t, resp.Value)
	assert.Equal(t, "cough", resp.Value.StringField("symptoms"))
	assert.Equal(t, "Got it", resp.Reply)
	assert.Equal(t, 1, model.callCount())

	first := model.calls[0]
	assert.Equal(t, schema.ChatMessageTypeSystem, first[0].Role)
	assert.Equal(t, schema.ChatMessageTypeHuman, first[len(first)-1].Role)
}

func TestLLM_ToolRound(t *testing.T) {
	reg := tools.NewRegistry(nil)
	require.NoError(t, reg.Register(tools.Definition{
		Name:     "lookup",
		StateKey: "lookup_out",
		Params:   []tools.Param{{Name: "patient_id", Type: tools.ParamString, Required: true}},
		Handler: func(_ context.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{"found": args["patient_id"]}, nil
		},
	}))
	state := session.NewState()
	inv := reg.Bind(state)

	model := &scriptedModel{replies: []string{
		`{"tool_calls": [{"name": "lookup", "arguments": {"patient_id": "P1"}}]}`,
		`{"output": {"patient_id": "P1"}, "reply": "done"}`,
	}}
	l := NewLLM(model, nil, nil, nil, LLMConfig{MaxToolRounds: 3}, nil)

	resp, err := l.Generate(context.Background(), testRequest(t, inv))
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.True(t, resp.ToolCalls[0].OK)
	assert.True(t, state.Has("lookup_out"))
	assert.Equal(t, 2, model.callCount())
}

func TestLLM_ToolRoundsExceeded(t *testing.T) {
	reg := tools.NewRegistry(nil)
	toolReply := `{"tool_calls": [{"name": "missing", "arguments": {}}]}`
	model := &scriptedModel{replies: []string{toolReply, toolReply}}
	l := NewLLM(model, nil, nil, nil, LLMConfig{MaxToolRounds: 2}, nil)

	resp, err := l.Generate(context.Background(), testRequest(t, reg.Bind(nil)))
	assert.ErrorIs(t, err, ErrToolRoundsExceeded)
	assert.Len(t, resp.ToolCalls, 2)
	assert.False(t, resp.ToolCalls[0].OK)
}

func TestLLM_RetriesThenSucceeds(t *testing.T) {
	model := &scriptedModel{
		errs:    []error{errors.New("502 bad gateway"), nil},
		replies: []string{`{"output": "urgent", "reply": "ok"}`},
	}
	l := NewLLM(model, nil, nil, nil, LLMConfig{MaxRetries: 2, RetryBackoff: time.Millisecond}, nil)

	resp, err := l.Generate(context.Background(), testRequest(t, nil))
	require.NoError(t, err)
	require.NotNil(t, resp.Value)
	assert.Equal(t, "urgent", resp.Value.Text)
	assert.Equal(t, 2, model.callCount())
}

func TestLLM_GivesUpAfterMaxRetries(t *testing.T) {
	boom := errors.New("503")
	model := &scriptedModel{errs: []error{boom, boom, boom}}
	l := NewLLM(model, nil, nil, nil, LLMConfig{MaxRetries: 1, RetryBackoff: time.Millisecond}, nil)

	_, err := l.Generate(context.Background(), testRequest(t, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, model.callCount())
}

func TestLLM_EmptyResponse(t *testing.T) {
	l := NewLLM(&scriptedModel{}, nil, nil, nil, LLMConfig{}, nil)
	_, err := l.Generate(context.Background(), testRequest(t, nil))
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestLLM_CriticStages(t *testing.T) {
	worker := &scriptedModel{replies: []string{`{"output": null}`}}
	critic := &scriptedModel{replies: []string{`{"output": {"priority_level": "Urgent"}}`}}
	l := NewLLM(worker, critic, nil, nil, LLMConfig{CriticStages: map[string]bool{"triage": true}}, nil)

	req := testRequest(t, nil)
	req.Stage = "triage"
	resp, err := l.Generate(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp.Value)
	assert.Equal(t, "Urgent", resp.Value.StringField("priority_level"))
	assert.Equal(t, 0, worker.callCount())
	assert.Equal(t, 1, critic.callCount())
}

func TestSystemPrompt(t *testing.T) {
	reg := tools.NewRegistry(nil)
	require.NoError(t, tools.NewClinic().Register(reg))

	state := session.NewState()
	state.Set("patient_intake", session.Structured(map[string]any{"patient_id": "P1"}))
	req := testRequest(t, reg.Bind(state))
	req.State = state.Snapshot()

	prompt := systemPrompt(req)
	assert.Contains(t, prompt, `"intake" stage`)
	assert.Contains(t, prompt, "required fields: patient_id, symptoms, duration")
	assert.Contains(t, prompt, "patient_intake:")
	assert.Contains(t, prompt, "book_appointment(patient_id, doctor_name, appointment_datetime, appointment_type?)")
	assert.Contains(t, prompt, `"tool_calls"`)
}
