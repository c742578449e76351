package model

import "time"

// Intent operations the language-model collaborator may resolve.
const (
	OperationCreate = "create"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// AudioRef is the result of the audio_download stage.
type AudioRef struct {
	FileID      string `json:"file_id"`
	URL         string `json:"url"`
	DurationSec int    `json:"duration_sec,omitempty"`
}

// Transcript is the result of the transcription stage.
type Transcript struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	Model    string `json:"model,omitempty"`
}

// Intent is the result of the intent stages. Operation is filled by
// intent_analysis; the remaining fields by intent_request.
type Intent struct {
	Operation          string     `json:"operation"`
	Title              string     `json:"title,omitempty"`
	StartsAt           *time.Time `json:"starts_at,omitempty"`
	EndsAt             *time.Time `json:"ends_at,omitempty"`
	EventID            string     `json:"event_id,omitempty"`
	Confidence         float64    `json:"confidence,omitempty"`
	NeedsClarification bool       `json:"needs_clarification,omitempty"`
	Question           string     `json:"question,omitempty"`
}

// Clarification tracks one human-in-the-loop round trip.
type Clarification struct {
	Question  string    `json:"question"`
	Reply     string    `json:"reply,omitempty"`
	AskedAt   time.Time `json:"asked_at"`
	RepliedAt time.Time `json:"replied_at,omitempty"`
}

// EventResult records the calendar mutation for the notification stage.
type EventResult struct {
	EventID   string `json:"event_id"`
	Link      string `json:"link,omitempty"`
	Operation string `json:"operation"`
}

// Payload carries everything a stage handler needs, accumulated as typed
// per-stage results rather than one untyped bag. Handlers treat a present
// result as a cached no-op on re-delivery, which is what makes at-least-once
// execution safe.
type Payload struct {
	SourceChatID  int64  `json:"source_chat_id"`
	VoiceFileID   string `json:"voice_file_id,omitempty"`
	AudioURL      string `json:"audio_url,omitempty"`
	CalendarToken string `json:"calendar_token,omitempty"`

	Audio         *AudioRef      `json:"audio,omitempty"`
	Transcript    *Transcript    `json:"transcript,omitempty"`
	PromptContext string         `json:"prompt_context,omitempty"`
	Intent        *Intent        `json:"intent,omitempty"`
	Clarification *Clarification `json:"clarification,omitempty"`
	Event         *EventResult   `json:"event,omitempty"`
	Notified      bool           `json:"notified,omitempty"`
}
