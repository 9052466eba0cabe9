package conversation

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"
)

// TranscriptFormat selects the transcript rendering
type TranscriptFormat string

const (
	FormatText TranscriptFormat = "text"
	FormatJSON TranscriptFormat = "json"
	FormatHTML TranscriptFormat = "html"
)

// TranscriptOptions controls transcript rendering
type TranscriptOptions struct {
	Format        TranscriptFormat
	IncludeTiming bool
	SpeakerLabels bool
}

// Transcript renders a call's transcript in the requested format.
// Turns are rendered in append order.
func (s *Store) Transcript(callID string, opts TranscriptOptions) (string, error) {
	state, err := s.Get(callID)
	if err != nil {
		return "", err
	}

	switch opts.Format {
	case FormatJSON:
		data, err := json.Marshal(state.Turns)
		if err != nil {
			return "", err
		}
		return string(data), nil

	case FormatHTML:
		lines := make([]string, 0, len(state.Turns))
		for _, turn := range state.Turns {
			var b strings.Builder
			b.WriteString("<p>")
			if opts.IncludeTiming {
				fmt.Fprintf(&b, "<time>%s</time>", turn.Timestamp.UTC().Format(time.RFC3339))
			}
			if opts.SpeakerLabels {
				fmt.Fprintf(&b, "<strong>%s:</strong> ", turn.Speaker)
			}
			b.WriteString(html.EscapeString(turn.Message))
			b.WriteString("</p>")
			lines = append(lines, b.String())
		}
		return strings.Join(lines, "\n"), nil

	default:
		lines := make([]string, 0, len(state.Turns))
		for _, turn := range state.Turns {
			var b strings.Builder
			if opts.IncludeTiming {
				fmt.Fprintf(&b, "[%s] ", turn.Timestamp.UTC().Format(time.RFC3339))
			}
			if opts.SpeakerLabels {
				fmt.Fprintf(&b, "%s: ", turn.Speaker)
			}
			b.WriteString(turn.Message)
			lines = append(lines, b.String())
		}
		return strings.Join(lines, "\n"), nil
	}
}
