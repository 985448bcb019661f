// Package prompt wraps the text/chat model that writes artwork prompts and
// card copy.
package prompt

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"cardforge/internal/domain"
)

// FrontRequest asks for N per-variation front-artwork prompts.
type FrontRequest struct {
	Card   domain.CardRequest
	Count  int
	Locale string
}

// FrontPrompt is one generated front-artwork prompt, tied to a variation.
type FrontPrompt struct {
	VariationIndex int    `json:"variation_index"`
	Text           string `json:"text"`
	StyleVariant   string `json:"style_variant,omitempty"`
}

// PanelRequest asks for the remaining panel prompts of a full card. Anchor
// is the already-generated front-artwork prompt of the selected draft; the
// model is instructed to keep the other panels stylistically consistent
// with it, not to rewrite it.
type PanelRequest struct {
	Card   domain.CardRequest
	Anchor string
	Locale string
}

// CopyRequest asks for the written message inside the card.
type CopyRequest struct {
	Card   domain.CardRequest
	Locale string
}

// Service is the contract implemented by all prompt providers.
type Service interface {
	FrontPrompts(ctx context.Context, req FrontRequest) ([]FrontPrompt, error)
	PanelPrompts(ctx context.Context, req PanelRequest) (*domain.PanelPrompts, error)
	CardCopy(ctx context.Context, req CopyRequest) (string, error)
}

// Static produces deterministic prompts without calling any model. It backs
// development environments with no API key and acts as the fallback when
// the remote provider misbehaves.
type Static struct{}

func NewStatic() *Static { return &Static{} }

func (s *Static) FrontPrompts(ctx context.Context, req FrontRequest) ([]FrontPrompt, error) {
	caser := cases.Title(language.Und)
	theme := req.Card.Theme
	if theme == "" {
		theme = "celebration"
	}
	prompts := make([]FrontPrompt, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		style := req.Card.Style
		if req.Card.SmartStyle() {
			style = StylePalette[i%len(StylePalette)]
		}
		prompts = append(prompts, FrontPrompt{
			VariationIndex: i,
			Text:           fmt.Sprintf("%s greeting card front, %s, %s mood", caser.String(theme), style, coalesce(req.Card.Tone, "warm")),
			StyleVariant:   style,
		})
	}
	return prompts, nil
}

func (s *Static) PanelPrompts(ctx context.Context, req PanelRequest) (*domain.PanelPrompts, error) {
	anchor := strings.TrimSpace(req.Anchor)
	if anchor == "" {
		return nil, domain.ErrPromptUnusable
	}
	return &domain.PanelPrompts{
		Front:         anchor,
		Back:          fmt.Sprintf("back cover matching: %s, minimal, space for a small logo", anchor),
		InteriorLeft:  fmt.Sprintf("interior left page matching: %s, soft background wash", anchor),
		InteriorRight: fmt.Sprintf("interior right page matching: %s, generous space for handwriting", anchor),
	}, nil
}

func (s *Static) CardCopy(ctx context.Context, req CopyRequest) (string, error) {
	recipient := coalesce(req.Card.Recipient, "you")
	occasion := coalesce(req.Card.Occasion, req.Card.Theme, "your special day")
	return fmt.Sprintf("Dear %s, wishing you all the best on %s!", recipient, occasion), nil
}

func coalesce(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

var _ Service = (*Static)(nil)
