package youtube

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tubewise/tubewise/internal/chunker"
)

var (
	vttTagPattern  = regexp.MustCompile(`<[^>]+>`)
	vttTimePattern = regexp.MustCompile(`(?:(\d+):)?(\d{1,2}):(\d{2})[.,](\d{3})`)
)

// ParseVTT parses WebVTT caption content into timed segments. Cue settings,
// markup tags and header blocks are stripped; consecutive text lines of one
// cue are joined with a space.
func ParseVTT(content string) []chunker.Segment {
	var segments []chunker.Segment
	var cueStart, cueEnd float64
	var cueLines []string
	inCue := false

	flush := func() {
		if !inCue || len(cueLines) == 0 {
			cueLines = nil
			inCue = false
			return
		}
		text := strings.TrimSpace(strings.Join(cueLines, " "))
		if text != "" {
			segments = append(segments, chunker.Segment{Text: text, Start: cueStart, End: cueEnd})
		}
		cueLines = nil
		inCue = false
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "WEBVTT"), strings.HasPrefix(line, "NOTE"),
			strings.HasPrefix(line, "Kind:"), strings.HasPrefix(line, "Language:"),
			strings.HasPrefix(line, "STYLE"):
			// header/meta block
		case strings.Contains(line, "-->"):
			flush()
			start, end, ok := parseCueTiming(line)
			if ok {
				cueStart, cueEnd = start, end
				inCue = true
			}
		default:
			if inCue {
				clean := vttTagPattern.ReplaceAllString(line, "")
				clean = strings.TrimSpace(clean)
				if clean != "" {
					cueLines = append(cueLines, clean)
				}
			}
		}
	}
	flush()
	return segments
}

func parseCueTiming(line string) (start, end float64, ok bool) {
	parts := strings.SplitN(line, "-->", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, okStart := parseTimestamp(strings.TrimSpace(parts[0]))
	// the end side may carry cue settings ("00:00:03.610 align:start ...")
	endField := strings.Fields(strings.TrimSpace(parts[1]))
	if len(endField) == 0 {
		return 0, 0, false
	}
	end, okEnd := parseTimestamp(endField[0])
	return start, end, okStart && okEnd
}

// parseTimestamp converts "HH:MM:SS.mmm" (hours optional) to seconds.
func parseTimestamp(raw string) (float64, bool) {
	m := vttTimePattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, false
	}
	hours := 0
	if m[1] != "" {
		hours, _ = strconv.Atoi(m[1])
	}
	minutes, _ := strconv.Atoi(m[2])
	seconds, _ := strconv.Atoi(m[3])
	millis, _ := strconv.Atoi(m[4])
	return float64(hours)*3600 + float64(minutes)*60 + float64(seconds) + float64(millis)/1000, true
}
