package stage

import (
	"ramp/internal/queue"
	"ramp/internal/services"
)

// Stage identifiers for the accessibility pipeline.
const (
	Analysis         = "analysis"
	Captioning       = "captioning"
	AudioDescription = "audio_description"
	SignLanguage     = "sign_language"
	Transcription    = "transcription"
	SpeechSynthesis  = "speech_synthesis"
	Conversion       = "conversion"
	AltText          = "alt_text"
	Compliance       = "compliance"
)

// Stage plans per content kind. Order is strict: a stage is never skipped
// even when a later stage would not consume its output, because compliance
// verification depends on the full trail of stage results existing.
var plans = map[queue.ContentKind][]string{
	queue.KindDocument: {Analysis, Conversion, SpeechSynthesis, Compliance},
	queue.KindImage:    {Analysis, AltText, Compliance},
	queue.KindVideo:    {Analysis, Captioning, AudioDescription, SignLanguage, Compliance},
	queue.KindAudio:    {Analysis, Transcription, Compliance},
}

// PlanFor returns the ordered stage sequence for a content kind.
func PlanFor(kind queue.ContentKind) ([]string, error) {
	plan, ok := plans[kind]
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "", "plan", "unknown content kind "+string(kind), nil)
	}
	cp := make([]string, len(plan))
	copy(cp, plan)
	return cp, nil
}

// PlanStages returns the total number of stages for a kind, or zero when the
// kind is unknown. Used for item progress reporting.
func PlanStages(kind queue.ContentKind) int {
	return len(plans[kind])
}
