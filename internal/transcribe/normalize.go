package transcribe

import (
	"math"
	"strings"

	"github.com/snarg/subcache/internal/subtitle"
	"golang.org/x/text/language"
)

// NormalizeLanguage turns a client language hint into what engines expect.
// "", "auto" and "none" mean no hint and return "". Any other code is passed
// through lowercased; a well-formed BCP 47 tag loses its region and script
// subtags ("en-US" -> "en"). Codes are never canonicalized, so Whisper codes
// such as "tl", "jw" and "iw" reach the engine as given.
func NormalizeLanguage(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "auto", "none":
		return ""
	}
	if _, err := language.Raw.Parse(s); err != nil {
		return s
	}
	if i := strings.IndexAny(s, "-_"); i > 0 {
		return s[:i]
	}
	return s
}

// Normalize converts engine output into cache segments: missing or negative
// times become 0, times are rounded to milliseconds, end never precedes start
// and text is trimmed.
func Normalize(raw []RawSegment) []subtitle.Segment {
	out := make([]subtitle.Segment, 0, len(raw))
	for _, r := range raw {
		start := seconds(r.Start)
		end := seconds(r.End)
		if end < start {
			end = start
		}
		var text string
		if r.Text != nil {
			text = strings.TrimSpace(*r.Text)
		}
		out = append(out, subtitle.Segment{Start: start, End: end, Text: text})
	}
	return out
}

func seconds(v *float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
		return 0
	}
	return math.Round(*v*1000) / 1000
}

// ModelID expands a model template for one size. "{size}" is replaced; a
// template without the placeholder names one model for every size.
func ModelID(template, size string) string {
	return strings.ReplaceAll(template, "{size}", size)
}
