package domain

// CardRequest carries the user-editable fields describing the card. The
// orchestrator treats the vocabulary (themes, tones, styles) as opaque; it
// only routes these values into prompts.
type CardRequest struct {
	Theme           string   `json:"theme"`
	Tone            string   `json:"tone"`
	Style           string   `json:"style"`
	Occasion        string   `json:"occasion"`
	Recipient       string   `json:"recipient"`
	Message         string   `json:"message"`
	PaperFormat     string   `json:"paper_format"`
	AspectRatio     string   `json:"aspect_ratio"`
	Locale          string   `json:"locale"`
	ReferenceImages []string `json:"reference_images,omitempty"`
}

// SmartStyle reports whether the user left style selection to the system,
// in which case draft variations draw from a fixed palette of styles so the
// batch is visually diverse by construction.
func (r CardRequest) SmartStyle() bool {
	return r.Style == "" || r.Style == "smart"
}

// Quality is the knob that makes draft mode fast and final mode slow.
type Quality string

const (
	QualityDraft Quality = "low"
	QualityFinal Quality = "high"
)

// PanelPrompts holds the per-panel artwork prompts of a full card. Drafts
// only ever carry a front prompt; the remaining panels are derived fresh at
// promotion time with the front prompt as anchor.
type PanelPrompts struct {
	Front         string `json:"front"`
	Back          string `json:"back"`
	InteriorLeft  string `json:"interior_left"`
	InteriorRight string `json:"interior_right"`
}

// CardContext is the payload a job was started with. It is persisted with
// the job record because promotion needs the draft's stored front-artwork
// prompt without re-deriving it.
type CardContext struct {
	Request      CardRequest   `json:"request"`
	FrontPrompt  string        `json:"front_prompt"`
	Panels       *PanelPrompts `json:"panels,omitempty"`
	StyleVariant string        `json:"style_variant,omitempty"`
	Quality      Quality       `json:"quality"`
	Model        string        `json:"model,omitempty"`
}

// CardPanel is one finished panel image of a generated card.
type CardPanel struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Card is a finished, multi-panel card ready for the share handshake.
type Card struct {
	ID       string      `json:"id"`
	Panels   []CardPanel `json:"panels"`
	Message  string      `json:"message"`
	ShareURL string      `json:"share_url,omitempty"`
}
