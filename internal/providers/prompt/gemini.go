package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cardforge/internal/domain"
)

const geminiDefaultTimeout = 15 * time.Second

// GeminiOptions configures the Gemini-backed prompt service.
type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Fallback   Service
}

// Gemini calls the generateContent endpoint with a JSON response mime and
// parses the structured payload out of the first candidate.
type Gemini struct {
	apiKey   string
	model    string
	baseURL  string
	client   *http.Client
	fallback Service
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature,omitempty"`
	CandidateCount   int     `json:"candidateCount,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type frontPayload struct {
	Prompts []FrontPrompt `json:"prompts"`
	Error   string        `json:"error"`
}

type panelPayload struct {
	Back          string `json:"back"`
	InteriorLeft  string `json:"interior_left"`
	InteriorRight string `json:"interior_right"`
	Error         string `json:"error"`
}

type copyPayload struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// NewGemini constructs the provider. A missing API key is an error; use
// NewStatic when running without credentials.
func NewGemini(opts GeminiOptions) (*Gemini, error) {
	if opts.APIKey == "" {
		return nil, errors.New("prompt: gemini api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: geminiDefaultTimeout}
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = NewStatic()
	}
	return &Gemini{
		apiKey:   opts.APIKey,
		model:    model,
		baseURL:  baseURL,
		client:   client,
		fallback: fallback,
	}, nil
}

func (g *Gemini) FrontPrompts(ctx context.Context, req FrontRequest) ([]FrontPrompt, error) {
	text, err := g.generate(ctx, g.buildFrontInstruction(req), 0.7)
	if err != nil {
		return g.fallback.FrontPrompts(ctx, req)
	}
	parsed, err := parsePayload[frontPayload](text)
	if err != nil || serviceError(parsed.Error) {
		return g.fallback.FrontPrompts(ctx, req)
	}
	prompts := normalizeFrontPrompts(parsed.Prompts, req)
	if len(prompts) != req.Count {
		return g.fallback.FrontPrompts(ctx, req)
	}
	return prompts, nil
}

func (g *Gemini) PanelPrompts(ctx context.Context, req PanelRequest) (*domain.PanelPrompts, error) {
	anchor := strings.TrimSpace(req.Anchor)
	if anchor == "" {
		return nil, domain.ErrPromptUnusable
	}
	text, err := g.generate(ctx, g.buildPanelInstruction(req), 0.5)
	if err != nil {
		return g.fallback.PanelPrompts(ctx, req)
	}
	parsed, err := parsePayload[panelPayload](text)
	if err != nil || serviceError(parsed.Error) {
		return g.fallback.PanelPrompts(ctx, req)
	}
	if strings.TrimSpace(parsed.Back) == "" || strings.TrimSpace(parsed.InteriorRight) == "" {
		return g.fallback.PanelPrompts(ctx, req)
	}
	return &domain.PanelPrompts{
		// The anchor stays byte-for-byte what the draft stored.
		Front:         req.Anchor,
		Back:          parsed.Back,
		InteriorLeft:  parsed.InteriorLeft,
		InteriorRight: parsed.InteriorRight,
	}, nil
}

func (g *Gemini) CardCopy(ctx context.Context, req CopyRequest) (string, error) {
	text, err := g.generate(ctx, g.buildCopyInstruction(req), 0.8)
	if err != nil {
		return g.fallback.CardCopy(ctx, req)
	}
	parsed, err := parsePayload[copyPayload](text)
	if err != nil || serviceError(parsed.Error) || strings.TrimSpace(parsed.Message) == "" {
		return g.fallback.CardCopy(ctx, req)
	}
	return parsed.Message, nil
}

func (g *Gemini) generate(ctx context.Context, instruction string, temperature float64) (string, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: instruction}},
		}},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:      temperature,
			CandidateCount:   1,
			ResponseMimeType: "application/json",
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(), &buf)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("prompt: gemini http %d", resp.StatusCode)
	}
	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	text := extractText(out)
	if text == "" {
		return "", domain.ErrPromptUnusable
	}
	return text, nil
}

func (g *Gemini) endpoint() string {
	base := strings.TrimRight(g.baseURL, "/")
	model := url.PathEscape(g.model)
	return fmt.Sprintf("%s/models/%s:generateContent?key=%s", base, model, url.QueryEscape(g.apiKey))
}

func (g *Gemini) buildFrontInstruction(req FrontRequest) string {
	c := req.Card
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "You write artwork prompts for greeting card covers. Respond strictly with JSON matching this schema: ")
	sb.WriteString(`{"prompts":[{"variation_index":number,"text":string,"style_variant":string}],"error":string}`)
	fmt.Fprintf(sb, ". Produce exactly %d visually distinct front-cover prompts, variation_index 0..%d. ", req.Count, req.Count-1)
	if c.SmartStyle() {
		fmt.Fprintf(sb, "Assign each variation one style from this palette, in order, and echo it in style_variant: %s. ", strings.Join(StylePalette, "; "))
	} else {
		fmt.Fprintf(sb, "Every variation uses the style %q. ", c.Style)
	}
	fmt.Fprintf(sb, "Card details: theme=%q, tone=%q, occasion=%q, recipient=%q. Use locale '%s'.", c.Theme, c.Tone, c.Occasion, c.Recipient, coalesce(req.Locale, "en"))
	return sb.String()
}

func (g *Gemini) buildPanelInstruction(req PanelRequest) string {
	c := req.Card
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "You write artwork prompts for the remaining panels of a greeting card. The front cover prompt is fixed: %q. ", req.Anchor)
	sb.WriteString("Respond strictly with JSON: ")
	sb.WriteString(`{"back":string,"interior_left":string,"interior_right":string,"error":string}`)
	fmt.Fprintf(sb, ". The back cover and both interior pages must be stylistically consistent with the fixed front prompt. Card details: theme=%q, tone=%q, occasion=%q, paper_format=%q, message=%q.", c.Theme, c.Tone, c.Occasion, c.PaperFormat, c.Message)
	return sb.String()
}

func (g *Gemini) buildCopyInstruction(req CopyRequest) string {
	c := req.Card
	sb := &strings.Builder{}
	sb.WriteString("You write short greeting card messages. Respond strictly with JSON: ")
	sb.WriteString(`{"message":string,"error":string}`)
	fmt.Fprintf(sb, ". Write one heartfelt message for recipient=%q, occasion=%q, tone=%q, in locale '%s'. Two sentences at most.", c.Recipient, c.Occasion, c.Tone, coalesce(req.Locale, c.Locale, "en"))
	return sb.String()
}

func extractText(resp geminiResponse) string {
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if strings.TrimSpace(part.Text) != "" {
				return part.Text
			}
		}
	}
	return ""
}

func normalizeFrontPrompts(prompts []FrontPrompt, req FrontRequest) []FrontPrompt {
	byIndex := make(map[int]FrontPrompt, len(prompts))
	for _, p := range prompts {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		if p.VariationIndex < 0 || p.VariationIndex >= req.Count {
			continue
		}
		if _, dup := byIndex[p.VariationIndex]; dup {
			continue
		}
		byIndex[p.VariationIndex] = p
	}
	result := make([]FrontPrompt, 0, len(byIndex))
	for i := 0; i < req.Count; i++ {
		p, ok := byIndex[i]
		if !ok {
			continue
		}
		if req.Card.SmartStyle() && p.StyleVariant == "" {
			p.StyleVariant = StylePalette[i%len(StylePalette)]
		}
		result = append(result, p)
	}
	return result
}

var _ Service = (*Gemini)(nil)
