package model

import "voice-calendar-pipeline/internal/domain"

// Stage is one ordered step in the voice-message processing pipeline.
type Stage string

const (
	StageWebhookReceived       Stage = "webhook_received"
	StageAudioDownload         Stage = "audio_download"
	StageTranscription         Stage = "transcription"
	StageIntentAnalysis        Stage = "intent_analysis"
	StageIntentBuildContext    Stage = "intent_build_context"
	StageIntentRequest         Stage = "intent_request"
	StageClarificationDispatch Stage = "clarification_dispatch"
	StageClarificationResponse Stage = "clarification_response"
	StageEventCreate           Stage = "event_create"
	StageEventUpdate           Stage = "event_update"
	StageEventDelete           Stage = "event_delete"
	StageNotificationSend      Stage = "notification_send"
)

// stageWeights fixes the canonical pipeline order. Weights are strictly
// increasing and double as the queue priority class: lower weight is
// served first so early stages are not starved by late-stage congestion.
var stageWeights = map[Stage]int{
	StageWebhookReceived:       5,
	StageAudioDownload:         10,
	StageTranscription:         20,
	StageIntentAnalysis:        30,
	StageIntentBuildContext:    35,
	StageIntentRequest:         40,
	StageClarificationDispatch: 50,
	StageClarificationResponse: 55,
	StageEventCreate:           60,
	StageEventUpdate:           65,
	StageEventDelete:           70,
	StageNotificationSend:      90,
}

// canonicalNext maps each stage to its default successor. The successor of
// intent_request assumes a create intent; Job.Advance substitutes the
// update/delete mutation stage based on the resolved intent.
var canonicalNext = map[Stage]Stage{
	StageWebhookReceived:       StageAudioDownload,
	StageAudioDownload:         StageTranscription,
	StageTranscription:         StageIntentAnalysis,
	StageIntentAnalysis:        StageIntentBuildContext,
	StageIntentBuildContext:    StageIntentRequest,
	StageIntentRequest:         StageEventCreate,
	StageClarificationDispatch: StageClarificationResponse,
	StageClarificationResponse: StageIntentRequest,
	StageEventCreate:           StageNotificationSend,
	StageEventUpdate:           StageNotificationSend,
	StageEventDelete:           StageNotificationSend,
	// notification_send is terminal
}

// extraTransitions are the hand-authored edges beyond the canonical chain:
// the mutation fan-out from intent_request and the single allowed backward
// edge set for the clarification round trip.
var extraTransitions = map[Stage][]Stage{
	StageIntentRequest: {StageEventUpdate, StageEventDelete, StageClarificationDispatch},
}

// StageOrder returns the display/priority weight of a stage.
func StageOrder(s Stage) (int, error) {
	w, ok := stageWeights[s]
	if !ok {
		return 0, &domain.UnknownStageError{Stage: string(s)}
	}
	return w, nil
}

// KnownStage reports whether s is registered.
func KnownStage(s Stage) bool {
	_, ok := stageWeights[s]
	return ok
}

// NextStage returns the canonical successor of s. ok=false signals
// pipeline completion. Unregistered stages yield UnknownStageError.
func NextStage(s Stage) (Stage, bool, error) {
	if !KnownStage(s) {
		return "", false, &domain.UnknownStageError{Stage: string(s)}
	}
	next, ok := canonicalNext[s]
	return next, ok, nil
}

// IsValidTransition reports whether from → to is an allowed stage edge.
// Stage progress is strictly forward except the named clarification loop
// (clarification_response → intent_request).
func IsValidTransition(from, to Stage) bool {
	if !KnownStage(from) || !KnownStage(to) {
		return false
	}
	if canonicalNext[from] == to {
		return true
	}
	for _, t := range extraTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// StagesByWeight returns all registered stages in canonical order.
func StagesByWeight() []Stage {
	out := make([]Stage, 0, len(stageWeights))
	for s := range stageWeights {
		out = append(out, s)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && stageWeights[out[j]] < stageWeights[out[j-1]]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
