package livecapture

import (
	"sort"
	"strings"

	"github.com/rajalamdev/notu.ai-backend-sub000/internal/meetings"
)

// wordsPerSecond is the speaking-rate estimate used to reconstruct
// timestamps from caption text (150 words per minute).
const wordsPerSecond = 2.5

// captionTranscript builds the fallback transcript from scraped captions
// when no complete audio buffer was captured. Timestamps are reconstructed
// from caption order and a text-length speaking-duration estimate; speaker
// statistics are word-count weighted and need no external call.
func captionTranscript(captions []Caption) *meetings.Transcript {
	ordered := make([]Caption, len(captions))
	copy(ordered, captions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Index < ordered[j].Index
	})

	var (
		lines      []string
		segments   []meetings.Segment
		cursor     float64
		totalWords int
		perSpeaker = make(map[string]int)
		order      []string
	)
	for _, caption := range ordered {
		text := strings.TrimSpace(caption.Text)
		if text == "" {
			continue
		}
		words := len(strings.Fields(text))
		duration := float64(words) / wordsPerSecond
		if duration < 1 {
			duration = 1
		}

		lines = append(lines, text)
		segments = append(segments, meetings.Segment{
			Start:   cursor,
			End:     cursor + duration,
			Text:    text,
			Speaker: caption.Speaker,
		})
		cursor += duration

		speaker := caption.Speaker
		if speaker == "" {
			speaker = "Unknown"
		}
		if _, seen := perSpeaker[speaker]; !seen {
			order = append(order, speaker)
		}
		perSpeaker[speaker] += words
		totalWords += words
	}

	stats := make([]meetings.SpeakerStat, 0, len(order))
	for _, speaker := range order {
		words := perSpeaker[speaker]
		stat := meetings.SpeakerStat{
			Name:         speaker,
			WordCount:    words,
			EstimatedSec: float64(words) / wordsPerSecond,
		}
		if totalWords > 0 {
			stat.Percent = float64(words) / float64(totalWords) * 100
		}
		stats = append(stats, stat)
	}

	return &meetings.Transcript{
		Text:        strings.Join(lines, "\n"),
		DurationSec: cursor,
		Segments:    segments,
		Speakers:    stats,
		Source:      "captions",
	}
}
