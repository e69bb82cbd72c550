// Package subtitle renders timed transcript segments as SubRip (SRT) and
// WebVTT documents, and parses those documents back into segments.
package subtitle

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one timed span of transcribed speech. Times are in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Format identifies a subtitle document format.
type Format string

const (
	FormatSRT Format = "srt"
	FormatVTT Format = "vtt"
)

const vttHeader = "WEBVTT"

// ParseFormat resolves a format name (case-insensitive, optional leading dot).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "srt":
		return FormatSRT, nil
	case "vtt", "webvtt":
		return FormatVTT, nil
	}
	return "", fmt.Errorf("unknown subtitle format %q", s)
}

// Render renders segments in the given format.
func Render(f Format, segments []Segment) (string, error) {
	switch f {
	case FormatSRT:
		return SRT(segments), nil
	case FormatVTT:
		return VTT(segments), nil
	}
	return "", fmt.Errorf("unknown subtitle format %q", f)
}

// FormatTimestamp renders seconds as HH:MM:SS<sep>mmm. Milliseconds are
// truncated, not rounded, and hours are not capped at 24.
func FormatTimestamp(seconds float64, sep byte) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(seconds * 1000)
	hh := ms / 3_600_000
	mm := (ms % 3_600_000) / 60_000
	ss := (ms % 60_000) / 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", hh, mm, ss, sep, ms%1000)
}

// SRT renders segments as a SubRip document. An empty list renders as "".
func SRT(segments []Segment) string {
	var b strings.Builder
	for i, seg := range segments {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteByte('\n')
		writeCue(&b, seg, ',')
	}
	return b.String()
}

// VTT renders segments as a WebVTT document. An empty list renders as the
// header followed by a blank line.
func VTT(segments []Segment) string {
	var b strings.Builder
	b.WriteString(vttHeader)
	b.WriteString("\n\n")
	for i, seg := range segments {
		if i > 0 {
			b.WriteByte('\n')
		}
		writeCue(&b, seg, '.')
	}
	return b.String()
}

func writeCue(b *strings.Builder, seg Segment, sep byte) {
	b.WriteString(FormatTimestamp(seg.Start, sep))
	b.WriteString(" --> ")
	b.WriteString(FormatTimestamp(seg.End, sep))
	b.WriteByte('\n')
	b.WriteString(seg.Text)
	b.WriteByte('\n')
}
