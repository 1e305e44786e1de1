package intent

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/promptforge/promptforge/pkg/models"
)

// parseCacheCap bounds the LLM parse cache. On overflow the whole cache is
// dropped rather than tracking recency.
const parseCacheCap = 512

// LLMParser resolves freeform text through an OpenAI-compatible chat
// completions endpoint. It implements contracts.IntentModel: a nil intent
// with a nil error means the model is unavailable and callers must fall back.
type LLMParser struct {
	endpoint string // base URL ending in /v1
	model    string
	client   *http.Client

	cacheMu sync.Mutex
	cache   map[string]*models.ParsedIntent

	healthMu sync.Mutex
	probed   bool
	healthy  bool
}

// LLMOption configures the parser.
type LLMOption func(*LLMParser)

// WithHTTPClient overrides the HTTP client. For tests.
func WithHTTPClient(c *http.Client) LLMOption {
	return func(p *LLMParser) { p.client = c }
}

// NewLLMParser creates a parser against an OpenAI-compatible endpoint
// (e.g. http://localhost:11434/v1 for Ollama).
func NewLLMParser(endpoint, model string, timeout time.Duration, opts ...LLMOption) *LLMParser {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	p := &LLMParser{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   &http.Client{Timeout: timeout},
		cache:    make(map[string]*models.ParsedIntent),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Healthy probes the endpoint once per parser lifetime and caches the result.
func (p *LLMParser) Healthy(ctx context.Context) bool {
	p.healthMu.Lock()
	defer p.healthMu.Unlock()
	if p.probed {
		return p.healthy
	}
	p.probed = true
	p.healthy = p.probe(ctx)
	if !p.healthy {
		log.Warn().Str("endpoint", p.endpoint).Msg("LLM intent parser unavailable, falling back to keywords")
	}
	return p.healthy
}

// ResetHealth invalidates the cached probe result. For tests.
func (p *LLMParser) ResetHealth() {
	p.healthMu.Lock()
	p.probed = false
	p.healthy = false
	p.healthMu.Unlock()
}

func (p *LLMParser) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/models", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < 500
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Parse sends the prompt to the model with a system instruction enumerating
// the available category ids and expects a JSON reply. Any transport, decode,
// or shape failure yields (nil, nil) so the hybrid parser falls back.
func (p *LLMParser) Parse(ctx context.Context, text string, available []string) (*models.ParsedIntent, error) {
	key := cacheKey(text)
	p.cacheMu.Lock()
	if cached, ok := p.cache[key]; ok {
		p.cacheMu.Unlock()
		return cached, nil
	}
	p.cacheMu.Unlock()

	body, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemInstruction(available)},
			{Role: "user", Content: text},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		log.Debug().Err(err).Msg("LLM intent request failed")
		return nil, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		log.Debug().Int("status", resp.StatusCode).Msg("LLM intent request rejected")
		return nil, nil
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil || len(chat.Choices) == 0 {
		return nil, nil
	}

	intent := decodeIntent(chat.Choices[0].Message.Content, available)
	if intent == nil {
		return nil, nil
	}

	p.cacheMu.Lock()
	if len(p.cache) >= parseCacheCap {
		p.cache = make(map[string]*models.ParsedIntent)
	}
	p.cache[key] = intent
	p.cacheMu.Unlock()
	return intent, nil
}

// systemInstruction tells the model what to return and which categories exist.
func systemInstruction(available []string) string {
	var b strings.Builder
	b.WriteString("You classify image-generation requests. Reply with only a JSON object ")
	b.WriteString(`of the shape {"categories": [], "subject": "", "style": "", "modifiers": {}, "content_tier": "general"}. `)
	b.WriteString("content_tier is one of general, mature, explicit. ")
	b.WriteString("categories must be chosen from this list: ")
	b.WriteString(strings.Join(available, ", "))
	return b.String()
}

// decodeIntent parses the model reply, tolerating markdown code fences, and
// discards categories outside the available list.
func decodeIntent(content string, available []string) *models.ParsedIntent {
	content = stripFences(content)
	// Tolerate leading prose before the JSON object.
	if i := strings.Index(content, "{"); i > 0 {
		content = content[i:]
	}

	var intent models.ParsedIntent
	if err := json.Unmarshal([]byte(content), &intent); err != nil {
		log.Debug().Err(err).Msg("LLM intent reply was not valid JSON")
		return nil
	}
	if intent.ContentTier != "" && !models.ValidPolicyTier(intent.ContentTier) {
		return nil
	}

	known := make(map[string]bool, len(available))
	for _, id := range available {
		known[id] = true
	}
	kept := intent.Categories[:0]
	for _, id := range intent.Categories {
		id = strings.ToLower(strings.TrimSpace(id))
		if known[id] {
			kept = append(kept, id)
		}
	}
	intent.Categories = kept
	return &intent
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}

func cacheKey(text string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
