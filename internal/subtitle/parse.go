package subtitle

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSRT parses a SubRip document. Cue numbers are ignored; segment order
// follows the document.
func ParseSRT(doc string) ([]Segment, error) {
	return parseCues(doc, false)
}

// ParseVTT parses a WebVTT document. The header, NOTE/STYLE/REGION blocks and
// cue identifiers are skipped, as are cue settings after the end time.
func ParseVTT(doc string) ([]Segment, error) {
	doc = strings.TrimPrefix(doc, "\ufeff")
	if !strings.HasPrefix(doc, vttHeader) {
		return nil, fmt.Errorf("missing %s header", vttHeader)
	}
	return parseCues(doc, true)
}

// Parse dispatches on format.
func Parse(f Format, doc string) ([]Segment, error) {
	switch f {
	case FormatSRT:
		return ParseSRT(doc)
	case FormatVTT:
		return ParseVTT(doc)
	}
	return nil, fmt.Errorf("unknown subtitle format %q", f)
}

func parseCues(doc string, vtt bool) ([]Segment, error) {
	doc = strings.ReplaceAll(doc, "\r\n", "\n")
	lines := strings.Split(doc, "\n")

	segments := []Segment{}
	var block []string
	lineNo := 0
	blockStart := 0

	flush := func() error {
		defer func() { block = block[:0] }()
		if len(block) == 0 {
			return nil
		}
		if vtt && isVTTMetaBlock(block[0]) {
			return nil
		}
		timing := -1
		for i, l := range block {
			if strings.Contains(l, "-->") {
				timing = i
				break
			}
		}
		if timing < 0 {
			return fmt.Errorf("line %d: cue without timing line", blockStart)
		}
		start, end, err := parseTiming(block[timing])
		if err != nil {
			return fmt.Errorf("line %d: %w", blockStart+timing, err)
		}
		segments = append(segments, Segment{
			Start: start,
			End:   end,
			Text:  strings.Join(block[timing+1:], "\n"),
		})
		return nil
	}

	for _, l := range lines {
		lineNo++
		if strings.TrimSpace(l) == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		if len(block) == 0 {
			blockStart = lineNo
		}
		block = append(block, l)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return segments, nil
}

func isVTTMetaBlock(first string) bool {
	for _, kw := range []string{vttHeader, "NOTE", "STYLE", "REGION"} {
		if first == kw || strings.HasPrefix(first, kw+" ") || strings.HasPrefix(first, kw+"\t") {
			return true
		}
	}
	return false
}

func parseTiming(line string) (float64, float64, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 || fields[1] != "-->" {
		return 0, 0, fmt.Errorf("malformed timing line %q", line)
	}
	start, err := ParseTimestamp(fields[0])
	if err != nil {
		return 0, 0, err
	}
	end, err := ParseTimestamp(fields[2])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// ParseTimestamp parses HH:MM:SS,mmm, HH:MM:SS.mmm or MM:SS.mmm into seconds.
func ParseTimestamp(s string) (float64, error) {
	clock, frac, ok := strings.Cut(strings.Replace(s, ",", ".", 1), ".")
	if !ok || len(frac) != 3 {
		return 0, fmt.Errorf("malformed timestamp %q", s)
	}
	parts := strings.Split(clock, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("malformed timestamp %q", s)
	}
	var total int64
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("malformed timestamp %q", s)
		}
		total = total*60 + n
	}
	ms, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("malformed timestamp %q", s)
	}
	return float64(total) + float64(ms)/1000, nil
}
