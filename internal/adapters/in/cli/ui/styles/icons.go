package styles

// Nerd Font icons. The plain-text renderer uses the ASCII fallbacks.
const (
	IconSuccess = "" // nf-fa-check (U+F00C)
	IconError   = "" // nf-fa-times (U+F00D)
	IconWarning = "" // nf-fa-exclamation_triangle (U+F071)
	IconInfo    = "" // nf-fa-info_circle (U+F05A)
	IconSkipped = "" // nf-fa-minus (U+F068)
)

const (
	ASCIISuccess = "ok"
	ASCIIError   = "x"
	ASCIIWarning = "!"
	ASCIIInfo    = "i"
	ASCIISkipped = "-"
)
