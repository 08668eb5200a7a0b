package extract

const (
	maxContentBytes  = 10000
	truncationMarker = "\n...[content truncated for processing]"
)

// TruncateContent caps page content before it is sent to the model. The
// first maxContentBytes bytes pass through unchanged; longer content gets
// the truncation marker appended.
func TruncateContent(s string) string {
	if len(s) <= maxContentBytes {
		return s
	}
	return s[:maxContentBytes] + truncationMarker
}
