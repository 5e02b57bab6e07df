package domain

// Language selects the response language and the voice policy.
type Language string

const (
	LanguageEnglish            Language = "en"
	LanguageTraditionalChinese Language = "zh-TW"
	LanguageSimplifiedChinese  Language = "zh-CN"
)

// Languages lists every supported language in menu order.
var Languages = []Language{LanguageTraditionalChinese, LanguageSimplifiedChinese, LanguageEnglish}

// Valid reports whether l is one of the supported languages.
func (l Language) Valid() bool {
	switch l {
	case LanguageEnglish, LanguageTraditionalChinese, LanguageSimplifiedChinese:
		return true
	default:
		return false
	}
}

// MedicationRecord is the structured result of identifying a package photo.
type MedicationRecord struct {
	Name        string `json:"name"`
	Dosage      string `json:"dosage"`
	Frequency   string `json:"frequency"`
	Purpose     string `json:"purpose"`
	Precautions string `json:"precautions"`
}

// HistoryEntry is one identification kept in the local log.
type HistoryEntry struct {
	ID    string           `json:"id"`
	Image string           `json:"image"`
	Info  MedicationRecord `json:"info"`
	Date  string           `json:"date"`
}

// SpeechState models the playback lifecycle.
type SpeechState string

const (
	SpeechStateIdle     SpeechState = "idle"
	SpeechStateSpeaking SpeechState = "speaking"
	SpeechStateStopping SpeechState = "stopping"
)

// SpeechStateReason provides a structured reason for state transitions.
type SpeechStateReason string

const (
	SpeechReasonStarted   SpeechStateReason = "speech_started"
	SpeechReasonFinished  SpeechStateReason = "speech_finished"
	SpeechReasonStopped   SpeechStateReason = "speech_stopped"
	SpeechReasonFailed    SpeechStateReason = "speech_failed"
	SpeechReasonShutdown  SpeechStateReason = "speech_shutdown"
)

// View is the screen currently shown.
type View string

const (
	ViewHome    View = "home"
	ViewResult  View = "result"
	ViewHistory View = "history"
)

// ErrorCode identifies errors surfaced to the UI.
type ErrorCode string

const (
	ErrorCodeStartup        ErrorCode = "startup"
	ErrorCodeCamera         ErrorCode = "camera"
	ErrorCodeIdentification ErrorCode = "identification"
	ErrorCodeHistory        ErrorCode = "history"
	ErrorCodeSpeech         ErrorCode = "speech"
)

// Status summarizes the current runtime status.
type Status struct {
	View     View              `json:"view"`
	Menu     bool              `json:"menu"`
	Language Language          `json:"language"`
	Speaking bool              `json:"speaking"`
	Loading  bool              `json:"loading"`
	Current  *MedicationRecord `json:"current,omitempty"`
	Image    string            `json:"image,omitempty"`
	Message  string            `json:"message,omitempty"`
}
