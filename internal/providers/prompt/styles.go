package prompt

// StylePalette is the fixed set of artistic styles substituted into draft
// variations when the user left style selection to the system. Drawing each
// variation from a different palette entry makes the batch visually diverse
// by construction rather than by chance.
var StylePalette = []string{
	"soft watercolor",
	"flat vector illustration",
	"vintage letterpress",
	"hand-drawn ink sketch",
	"paper collage",
}
