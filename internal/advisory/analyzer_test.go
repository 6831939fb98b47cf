package advisory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/kaphack/emotional-risk-escalation-engine/internal/core"
)

type providerFunc func(ctx context.Context, system, prompt string) (string, error)

func (f providerFunc) Complete(ctx context.Context, system, prompt string) (string, error) {
	return f(ctx, system, prompt)
}

type recorded struct {
	source, reason string
}

type fakeRecorder struct {
	mu   sync.Mutex
	seen []recorded
}

func (r *fakeRecorder) Advisory(source, reason string, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, recorded{source, reason})
}

func (r *fakeRecorder) last() recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[len(r.seen)-1]
}

var reading = core.EmotionReading{UserID: "u1", Emotion: core.Anger, Intensity: 9, Note: "argument at work"}

const goodResponse = `{"summary":"You are very angry after a conflict.","insight":"Anger often signals a crossed boundary.","suggestions":["Step outside for five minutes","Write down what happened"],"riskLevel":"high","shouldEscalate":false}`

func TestAnalyzeParsesProviderResponse(t *testing.T) {
	rec := &fakeRecorder{}
	var gotPrompt string
	a := NewAnalyzer(providerFunc(func(_ context.Context, system, prompt string) (string, error) {
		gotPrompt = prompt
		require.Equal(t, SystemPrompt, system)
		return "Here you go:\n```json\n" + goodResponse + "\n```", nil
	}), time.Second, nil, rec)

	got := a.Analyze(context.Background(), reading)

	assert.Equal(t, core.SourceProvider, got.Source)
	assert.Equal(t, "You are very angry after a conflict.", got.Summary)
	assert.Equal(t, []string{"Step outside for five minutes", "Write down what happened"}, got.Suggestions)
	assert.Equal(t, core.TierHigh, got.RiskLevel)
	assert.False(t, got.GeneratedAt.IsZero())
	assert.Contains(t, gotPrompt, "Emotion: anger")
	assert.Contains(t, gotPrompt, "Intensity: 9/10")
	assert.Contains(t, gotPrompt, "argument at work")
	assert.Equal(t, recorded{"provider", ""}, rec.last())
}

func TestAnalyzeTimeoutFallsBackWithinBound(t *testing.T) {
	rec := &fakeRecorder{}
	release := make(chan struct{})
	defer close(release)

	// The provider ignores its context to prove the analyzer still returns on time.
	a := NewAnalyzer(providerFunc(func(context.Context, string, string) (string, error) {
		<-release
		return goodResponse, nil
	}), 50*time.Millisecond, nil, rec)

	start := time.Now()
	got := a.Analyze(context.Background(), reading)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, core.SourceFallback, got.Source)
	assert.Equal(t, Fallback(time.Time{}).Summary, got.Summary)
	assert.Equal(t, recorded{"fallback", "timeout"}, rec.last())
}

func TestAnalyzeProviderErrorFallsBack(t *testing.T) {
	rec := &fakeRecorder{}
	a := NewAnalyzer(providerFunc(func(context.Context, string, string) (string, error) {
		return "", errors.New("503 from upstream")
	}), time.Second, nil, rec)

	got := a.Analyze(context.Background(), reading)
	assert.Equal(t, core.SourceFallback, got.Source)
	assert.Equal(t, recorded{"fallback", "provider_error"}, rec.last())
}

func TestAnalyzeMalformedFallsBack(t *testing.T) {
	responses := []string{
		"I'm sorry you feel that way.",
		`{"summary":"s","insight":"i","suggestions":[],"riskLevel":"low"}`,
		`{"summary":"s","insight":"i","suggestions":["1","2","3","4","5","6","7"],"riskLevel":"low"}`,
		`{"summary":"s","insight":"i","suggestions":["a"],"riskLevel":"critical"}`,
		`{"summary":"","insight":"i","suggestions":["a"],"riskLevel":"low"}`,
		`{"summary": "s", "insight": `,
	}
	for _, resp := range responses {
		rec := &fakeRecorder{}
		a := NewAnalyzer(providerFunc(func(context.Context, string, string) (string, error) {
			return resp, nil
		}), time.Second, nil, rec)

		got := a.Analyze(context.Background(), reading)
		assert.Equal(t, core.SourceFallback, got.Source, resp)
		assert.Equal(t, recorded{"fallback", "malformed"}, rec.last(), resp)
	}
}

func TestAnalyzeCanceledFallsBack(t *testing.T) {
	rec := &fakeRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	a := NewAnalyzer(providerFunc(func(ctx context.Context, _, _ string) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}), time.Second, nil, rec)

	got := a.Analyze(ctx, reading)
	assert.Equal(t, core.SourceFallback, got.Source)
	assert.Equal(t, recorded{"fallback", "canceled"}, rec.last())
}

func TestAnalyzeWithoutProvider(t *testing.T) {
	got := NewAnalyzer(nil, 0, nil, nil).Analyze(context.Background(), reading)
	assert.Equal(t, core.SourceFallback, got.Source)
	assert.Len(t, got.Suggestions, 3)
}

func TestFallbackIsIndependentCopy(t *testing.T) {
	a := Fallback(time.Now())
	a.Suggestions[0] = "changed"
	assert.NotEqual(t, "changed", Fallback(time.Now()).Suggestions[0])
}

func TestParseTrimsSuggestions(t *testing.T) {
	got, err := Parse(`{"summary":" s ","insight":"i","suggestions":[" a ",""],"riskLevel":"Medium","shouldEscalate":true}`)
	require.NoError(t, err)
	assert.Equal(t, "s", got.Summary)
	assert.Equal(t, []string{"a"}, got.Suggestions)
	assert.Equal(t, core.TierMedium, got.RiskLevel)
	assert.True(t, got.ShouldEscalate)
}

func TestParseIgnoresTrailingProse(t *testing.T) {
	got, err := Parse("Here you go:\n" +
		`{"summary":"s","insight":"i","suggestions":["breathe"],"riskLevel":"high"}` +
		" (see {note} for details)")
	require.NoError(t, err)
	assert.Equal(t, "s", got.Summary)
	assert.Equal(t, core.TierHigh, got.RiskLevel)
	assert.Equal(t, core.SourceProvider, got.Source)
}

func TestBuildPromptWithoutNote(t *testing.T) {
	p := BuildPrompt(core.EmotionReading{Emotion: core.Joy, Intensity: 8})
	assert.Contains(t, p, "(none)")
}

type fakeModel struct {
	messages []llms.MessageContent
	resp     *llms.ContentResponse
	err      error
}

func (m *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	return m.resp, m.err
}

func (m *fakeModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return "", errors.New("not used")
}

func TestLLMProviderComplete(t *testing.T) {
	model := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: goodResponse}}}}
	p := NewLLMProviderWithModel(model)

	out, err := p.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, goodResponse, out)
	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
}

func TestLLMProviderNoChoices(t *testing.T) {
	p := NewLLMProviderWithModel(&fakeModel{resp: &llms.ContentResponse{}})
	_, err := p.Complete(context.Background(), "sys", "user")
	assert.Error(t, err)
}
