// Package progress maps pipeline stages to client-facing percentages.
//
// Each stage owns a reserved [Start, End] sub-range of 0..100. The tables are
// a compatibility-sensitive contract: clients interpret the reported percent
// against these exact ranges, so changing a range changes observable behavior.
package progress

import (
	"fmt"
	"math"
)

// Stage names for the queued (upload/recording) pipeline.
const (
	StageStarting     = "starting"
	StageDownloading  = "downloading"
	StageTranscribing = "transcribing"
	StageDiarization  = "diarization"
	StageAIAnalysis   = "ai_analysis"
	StageSaving       = "saving"
	StageCompleted    = "completed"
)

// Stage names for the live-capture (bot) pipeline.
const (
	StageBotConnecting = "bot_connecting"
	StageBotJoining    = "bot_joining"
	StageBotRecording  = "bot_recording"
)

// Range is the percentage sub-range reserved for one stage.
type Range struct {
	Stage string
	Start int
	End   int
}

// Table is an ordered list of disjoint stage ranges.
type Table []Range

// Stages is the weight table for the queued pipeline. Ranges are disjoint,
// ordered, and together cover exactly [0,100].
var Stages = Table{
	{Stage: StageStarting, Start: 0, End: 9},
	{Stage: StageDownloading, Start: 10, End: 19},
	{Stage: StageTranscribing, Start: 20, End: 69},
	{Stage: StageDiarization, Start: 70, End: 79},
	{Stage: StageAIAnalysis, Start: 80, End: 89},
	{Stage: StageSaving, Start: 90, End: 99},
	{Stage: StageCompleted, Start: 100, End: 100},
}

// BotStages is the coarser table for live capture, which has fewer
// distinguishable phases.
var BotStages = Table{
	{Stage: StageBotConnecting, Start: 0, End: 19},
	{Stage: StageBotJoining, Start: 20, End: 39},
	{Stage: StageBotRecording, Start: 40, End: 89},
	{Stage: StageCompleted, Start: 100, End: 100},
}

// Find returns the range for a stage name.
func (t Table) Find(stage string) (Range, bool) {
	for _, r := range t {
		if r.Stage == stage {
			return r, true
		}
	}
	return Range{}, false
}

// Validate checks that ranges are ordered, disjoint and within [0,100].
func (t Table) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("empty stage table")
	}
	prevEnd := -1
	for _, r := range t {
		if r.Start > r.End {
			return fmt.Errorf("stage %s: start %d > end %d", r.Stage, r.Start, r.End)
		}
		if r.Start <= prevEnd {
			return fmt.Errorf("stage %s: range overlaps or is out of order", r.Stage)
		}
		prevEnd = r.End
	}
	if last := t[len(t)-1]; last.End > 100 {
		return fmt.Errorf("stage %s: end %d exceeds 100", last.Stage, last.End)
	}
	return nil
}

// Percent maps a stage and an intra-stage fraction (0.0-1.0) to an overall
// percentage: start + fraction*(end-start) rounded to the nearest integer,
// clamped to 100. An unknown stage maps to 0.
func (t Table) Percent(stage string, fraction float64) int {
	r, ok := t.Find(stage)
	if !ok {
		return 0
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	p := r.Start + int(math.Round(fraction*float64(r.End-r.Start)))
	if p > 100 {
		p = 100
	}
	return p
}

// PercentChunk maps chunked sub-progress (chunk of total) within a stage.
// chunk is 0-based: chunk 0 of 4 reports the start of the stage range.
func (t Table) PercentChunk(stage string, chunk, total int) int {
	if total <= 0 {
		return t.Percent(stage, 0)
	}
	return t.Percent(stage, float64(chunk)/float64(total))
}
