package ports

import (
	"context"
	"errors"

	"pillhelper/internal/domain"
)

// ErrCaptureCancelled is returned by an ImageSource when the user dismisses the picker.
var ErrCaptureCancelled = errors.New("image capture cancelled")

// CaptureSource selects where an image comes from.
type CaptureSource string

const (
	CaptureSourceCamera CaptureSource = "camera"
	CaptureSourcePhotos CaptureSource = "photos"
)

// ImageSource captures or picks a photo and returns it as a data URI or bare base64.
type ImageSource interface {
	Capture(ctx context.Context, source CaptureSource) (string, error)
}

// Identifier turns a package photo into a medication record.
type Identifier interface {
	Identify(ctx context.Context, image string, lang domain.Language) (domain.MedicationRecord, error)
}

// HistoryStore persists the whole history list under one key.
type HistoryStore interface {
	Load(ctx context.Context) ([]domain.HistoryEntry, error)
	Save(ctx context.Context, entries []domain.HistoryEntry) error
}

// SpeakRequest describes one on-device utterance.
type SpeakRequest struct {
	Text     string  `json:"text"`
	Lang     string  `json:"lang"`
	Rate     float64 `json:"rate"`
	Pitch    float64 `json:"pitch"`
	Volume   float64 `json:"volume"`
	Category string  `json:"category"`
}

// DeviceSpeech is the on-device text-to-speech engine.
// Speak blocks until the utterance finishes or is stopped.
type DeviceSpeech interface {
	SupportedLanguages(ctx context.Context) ([]string, error)
	IsLanguageSupported(ctx context.Context, tag string) (bool, error)
	Speak(ctx context.Context, req SpeakRequest) error
	Stop(ctx context.Context) error
}

// RemoteVoice identifies a voice on the remote synthesis service.
// An empty Name lets the service pick a voice for the language.
type RemoteVoice struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name,omitempty"`
}

// RemoteSynthesizer renders text with a cloud voice and returns base64 audio.
type RemoteSynthesizer interface {
	Synthesize(ctx context.Context, text string, voice RemoteVoice) (string, error)
}

// AudioPlayer is the single shared playback element.
// Play blocks until playback finishes or Stop is called.
type AudioPlayer interface {
	Play(ctx context.Context, audio []byte) error
	Stop() error
}

// SpeechQueue is the operating system speech queue.
type SpeechQueue interface {
	Cancel() error
}

// TextRules rewrites utterance text before it is spoken.
type TextRules interface {
	Apply(text string, lang domain.Language) (string, error)
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SpeechStateChanged(state domain.SpeechState, reason domain.SpeechStateReason)
	ViewChanged(view domain.View)
	ScanStarted()
	MedicationIdentified(record domain.MedicationRecord, entry domain.HistoryEntry)
	AppError(code domain.ErrorCode, detail string)
}
