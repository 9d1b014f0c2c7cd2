package finalize

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/miclaldogan/bantz-sub008/internal/llm"
	"github.com/miclaldogan/bantz-sub008/pkg/models"
)

type stubClient struct {
	content   string
	err       error
	available bool
	calls     int
}

func (s *stubClient) Name() string    { return "stub" }
func (s *stubClient) Available() bool { return s.available }
func (s *stubClient) CompleteText(ctx context.Context, prompt string) (string, error) {
	return s.content, s.err
}
func (s *stubClient) ChatDetailed(ctx context.Context, req llm.Request) (*llm.ChatResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &llm.ChatResult{Content: s.content, Model: "stub-model"}, nil
}

func TestSelectTierEnvOverride(t *testing.T) {
	t.Setenv(EnvForceFinalizer, "quality")
	d := SelectTier("none", true)
	if d.Tier != TierQuality || d.Reason != "env_override" {
		t.Errorf("override to quality not applied: %+v", d)
	}

	// Forced quality without a quality client still falls back.
	d = SelectTier("none", false)
	if d.Tier != TierFast || d.Reason != "fallback" {
		t.Errorf("forced quality without client must fall back: %+v", d)
	}

	t.Setenv(EnvForceFinalizer, "fast")
	d = SelectTier("draft", true)
	if d.Tier != TierFast || d.Reason != "env_override" {
		t.Errorf("override to fast not applied: %+v", d)
	}
}

func TestSelectTierByIntent(t *testing.T) {
	t.Setenv(EnvForceFinalizer, "")
	tests := []struct {
		intent   string
		quality  bool
		wantTier string
		wantWhy  string
	}{
		{"draft", true, TierQuality, "writing_heavy"},
		{"explain", true, TierQuality, "writing_heavy"},
		{"draft", false, TierFast, "fallback"},
		{"list", true, TierFast, "routing_only"},
		{"none", false, TierFast, "routing_only"},
	}
	for _, tt := range tests {
		d := SelectTier(tt.intent, tt.quality)
		if d.Tier != tt.wantTier || d.Reason != tt.wantWhy {
			t.Errorf("%s/quality=%t: expected %s/%s, got %+v", tt.intent, tt.quality, tt.wantTier, tt.wantWhy, d)
		}
	}
}

func TestFinalizeHappyPath(t *testing.T) {
	fast := &stubClient{content: "Yarın saat üçte toplantınız var Efendim.", available: true}
	p := NewPipeline(fast, nil, nil, nil, PersonaOptions{}, nil)

	plan := &models.Plan{Route: models.RouteCalendar, CalendarIntent: "list"}
	results := []models.ToolResult{{Tool: "calendar.list_events", Success: true, Result: []any{"standup 15:00"}}}

	reply, meta := p.Finalize(context.Background(), plan, results, TierDecision{Tier: TierFast, Reason: "routing_only"})
	if reply != "Yarın saat üçte toplantınız var Efendim." {
		t.Errorf("unexpected reply: %q", reply)
	}
	if meta.Fallback || meta.Tier != TierFast {
		t.Errorf("unexpected metadata: %+v", meta)
	}
	if fast.calls != 1 {
		t.Errorf("expected one finalizer call, got %d", fast.calls)
	}
}

func TestFinalizeFallsBackToPlanReply(t *testing.T) {
	fast := &stubClient{err: errors.New("model down"), available: true}
	p := NewPipeline(fast, nil, nil, nil, PersonaOptions{}, nil)

	plan := &models.Plan{AssistantReply: "Takviminiz boş görünüyor."}
	reply, meta := p.Finalize(context.Background(), plan, nil, TierDecision{Tier: TierFast})
	if reply != "Takviminiz boş görünüyor." {
		t.Errorf("expected plan reply fallback, got %q", reply)
	}
	if !meta.Fallback {
		t.Error("fallback not recorded in metadata")
	}
}

func TestFinalizeApologyWhenNothingLeft(t *testing.T) {
	fast := &stubClient{err: errors.New("model down"), available: true}
	p := NewPipeline(fast, nil, nil, nil, PersonaOptions{}, nil)

	reply, _ := p.Finalize(context.Background(), &models.Plan{}, nil, TierDecision{Tier: TierFast})
	if reply != FallbackApology {
		t.Errorf("expected apology, got %q", reply)
	}
}

func TestFinalizeUsesQualityTierWhenAvailable(t *testing.T) {
	fast := &stubClient{content: "fast", available: true}
	quality := &stubClient{content: "quality reply.", available: true}
	p := NewPipeline(fast, quality, nil, nil, PersonaOptions{}, nil)

	reply, _ := p.Finalize(context.Background(), &models.Plan{}, nil, TierDecision{Tier: TierQuality, Reason: "writing_heavy"})
	if reply != "quality reply." {
		t.Errorf("quality tier not used: %q", reply)
	}
	if quality.calls != 1 || fast.calls != 0 {
		t.Errorf("wrong client called: quality=%d fast=%d", quality.calls, fast.calls)
	}
}

func TestFormatVoiceSentenceCap(t *testing.T) {
	p := NewPipeline(nil, nil, nil, nil, PersonaOptions{MaxSentences: 2}, nil)
	got := p.FormatVoice("Bir. İki. Üç. Dört.")
	if got != "Bir. İki." {
		t.Errorf("sentence cap failed: %q", got)
	}
}

func TestFormatVoiceEfendimCap(t *testing.T) {
	p := NewPipeline(nil, nil, nil, nil, PersonaOptions{}, nil)
	got := p.FormatVoice("Efendim, yarın toplantınız var Efendim.")
	if strings.Count(got, "Efendim") != 1 {
		t.Errorf("Efendim must appear at most once: %q", got)
	}
}

func TestFormatVoiceFlattensLists(t *testing.T) {
	p := NewPipeline(nil, nil, nil, nil, PersonaOptions{MaxSentences: 10}, nil)
	got := p.FormatVoice("Bugün üç işiniz var:\n1. Toplantı\n2. Mail\n- Alışveriş")
	if strings.ContainsAny(got, "\n") || strings.Contains(got, "1.") || strings.Contains(got, "- ") {
		t.Errorf("list markers must be flattened: %q", got)
	}
	for _, word := range []string{"Toplantı", "Mail", "Alışveriş"} {
		if !strings.Contains(got, word) {
			t.Errorf("content lost while flattening: %q", got)
		}
	}
}

func TestFormatVoiceStripEmoji(t *testing.T) {
	p := NewPipeline(nil, nil, nil, nil, PersonaOptions{StripEmoji: true, MaxSentences: 10}, nil)
	got := p.FormatVoice("Harika \U0001F389 görünüyor \U0001F600")
	if strings.ContainsRune(got, '\U0001F389') || strings.ContainsRune(got, '\U0001F600') {
		t.Errorf("emoji not stripped: %q", got)
	}
	if !strings.Contains(got, "Harika") {
		t.Errorf("text lost: %q", got)
	}
}
