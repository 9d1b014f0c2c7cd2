package finalize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/miclaldogan/bantz-sub008/internal/infra"
	"github.com/miclaldogan/bantz-sub008/internal/llm"
	"github.com/miclaldogan/bantz-sub008/internal/metrics"
	"github.com/miclaldogan/bantz-sub008/pkg/models"
)

// FallbackApology is spoken when both finalizer and plan reply are unusable.
const FallbackApology = "Üzgünüm Efendim, şu anda yanıt oluşturamıyorum."

// PersonaOptions shape the voice style of the final reply.
type PersonaOptions struct {
	// MaxSentences caps the spoken reply length. Zero selects the default.
	MaxSentences int

	// StripEmoji removes emoji, which TTS reads out loud otherwise.
	StripEmoji bool
}

// DefaultMaxSentences is the spoken-reply sentence cap.
const DefaultMaxSentences = 4

// Metadata describes how a reply was produced.
type Metadata struct {
	Tier       string `json:"tier"`
	Model      string `json:"model"`
	TokensUsed int    `json:"tokens_used"`
	Reason     string `json:"reason,omitempty"`
	Fallback   bool   `json:"fallback,omitempty"`
}

// Pipeline renders the final assistant reply from the plan and verified
// tool results. Finalizer calls run on the shared bounded pool.
type Pipeline struct {
	fast    llm.Client
	quality llm.Client
	pool    *infra.Pool
	metrics *metrics.Collector
	logger  *slog.Logger
	persona PersonaOptions
}

// NewPipeline wires the pipeline. The quality client may be nil or
// unavailable; the tier policy handles the fallback.
func NewPipeline(fast, quality llm.Client, pool *infra.Pool, collector *metrics.Collector, persona PersonaOptions, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if persona.MaxSentences <= 0 {
		persona.MaxSentences = DefaultMaxSentences
	}
	return &Pipeline{
		fast:    fast,
		quality: quality,
		pool:    pool,
		metrics: collector,
		logger:  logger.With("component", "finalize"),
		persona: persona,
	}
}

// QualityAvailable reports whether the quality tier can serve.
func (p *Pipeline) QualityAvailable() bool {
	return p.quality != nil && p.quality.Available()
}

// Finalize produces the spoken reply for a turn. Finalizer failure falls
// back to the plan's own reply, then to the Turkish apology.
func (p *Pipeline) Finalize(ctx context.Context, plan *models.Plan, results []models.ToolResult, tier TierDecision) (string, Metadata) {
	start := time.Now()
	meta := Metadata{Tier: tier.Tier, Reason: tier.Reason}

	client := p.fast
	if tier.Tier == TierQuality && p.QualityAvailable() {
		client = p.quality
	}

	reply, err := p.callFinalizer(ctx, client, plan, results)
	if err != nil {
		p.logger.Warn("finalizer failed, falling back", "tier", tier.Tier, "error", err)
		meta.Fallback = true
		if plan != nil && strings.TrimSpace(plan.AssistantReply) != "" {
			reply = plan.AssistantReply
		} else {
			reply = FallbackApology
		}
	}

	reply = p.FormatVoice(reply)

	elapsed := time.Since(start)
	if p.metrics != nil {
		p.metrics.Record("finalize_ms", float64(elapsed.Milliseconds()), "ms", map[string]string{
			"tier": tier.Tier,
		})
	}
	return reply, meta
}

func (p *Pipeline) callFinalizer(ctx context.Context, client llm.Client, plan *models.Plan, results []models.ToolResult) (string, error) {
	if client == nil || !client.Available() {
		return "", llm.ErrNotConfigured
	}

	req := llm.Request{
		System:   p.personaPrompt(),
		Messages: []llm.Message{{Role: "user", Content: buildFinalizePrompt(plan, results)}},
	}

	var res *llm.ChatResult
	call := func() error {
		var err error
		res, err = client.ChatDetailed(ctx, req)
		return err
	}
	var err error
	if p.pool != nil {
		err = p.pool.Run(ctx, call)
	} else {
		err = call()
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(res.Content) == "" {
		return "", fmt.Errorf("empty finalizer output")
	}
	return res.Content, nil
}

func (p *Pipeline) personaPrompt() string {
	return fmt.Sprintf(`Sen Türkçe konuşan bir sesli asistansın. Kısa ve doğal konuş. `+
		`En fazla %d cümle kur. "Efendim" hitabını en fazla bir kez kullan. `+
		`Liste yerine akıcı cümleler kur. Araç hataları varsa kibarca özür dile ve elde olanı aktar.`,
		p.persona.MaxSentences)
}

// buildFinalizePrompt serializes the plan outcome and tool results for the
// finalizer model.
func buildFinalizePrompt(plan *models.Plan, results []models.ToolResult) string {
	var b strings.Builder
	if plan != nil {
		fmt.Fprintf(&b, "Rota: %s, niyet: %s\n", plan.Route, plan.Intent())
		if len(plan.Slots) > 0 {
			if doc, err := json.Marshal(plan.Slots); err == nil {
				fmt.Fprintf(&b, "Çıkarılan bilgiler: %s\n", doc)
			}
		}
	}
	if len(results) == 0 {
		b.WriteString("Araç çağrısı yapılmadı.\n")
	}
	for _, res := range results {
		if res.Success {
			doc, _ := json.Marshal(res.Result)
			fmt.Fprintf(&b, "Araç %s başarılı: %s\n", res.Tool, doc)
		} else {
			fmt.Fprintf(&b, "Araç %s başarısız: %s\n", res.Tool, res.Error)
		}
	}
	b.WriteString("Bu bilgilerle kullanıcıya sesli okunacak yanıtı yaz.")
	return b.String()
}

// FormatVoice applies the voice-style transforms: list flattening, the
// Efendim cap, the sentence cap, and optional emoji stripping.
func (p *Pipeline) FormatVoice(text string) string {
	text = flattenLists(text)
	text = capEfendim(text)
	text = capSentences(text, p.persona.MaxSentences)
	if p.persona.StripEmoji {
		text = stripEmoji(text)
	}
	return strings.TrimSpace(text)
}

// flattenLists rewrites enumerated or bulleted lines into flowing prose,
// since TTS reads markers aloud.
func flattenLists(text string) string {
	lines := strings.Split(text, "\n")
	var parts []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		trimmed = strings.TrimLeft(trimmed, "-*• ")
		trimmed = trimOrdinalMarker(trimmed)
		parts = append(parts, strings.TrimSpace(trimmed))
	}
	return strings.Join(parts, " ")
}

// trimOrdinalMarker drops a leading "1." / "2)" style marker.
func trimOrdinalMarker(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 && i < len(s) && (s[i] == '.' || s[i] == ')') {
		return s[i+1:]
	}
	return s
}

// capEfendim keeps the first "Efendim" and drops the rest.
func capEfendim(text string) string {
	first := strings.Index(text, "Efendim")
	if first < 0 {
		return text
	}
	head := text[:first+len("Efendim")]
	tail := strings.ReplaceAll(text[first+len("Efendim"):], "Efendim, ", "")
	tail = strings.ReplaceAll(tail, "Efendim", "")
	return head + tail
}

// capSentences keeps at most n sentences.
func capSentences(text string, n int) string {
	if n <= 0 {
		return text
	}
	count := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			count++
			if count == n {
				return strings.TrimSpace(text[:i+1])
			}
		}
	}
	return text
}

// stripEmoji removes symbol runes TTS would read out loud.
func stripEmoji(text string) string {
	var b strings.Builder
	for _, r := range text {
		if r >= 0x1F000 || unicode.Is(unicode.So, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
