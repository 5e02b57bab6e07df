package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"pillhelper/internal/domain"
	"pillhelper/internal/ports"
)

// ErrScanInProgress is returned when a scan is requested while one is still identifying.
var ErrScanInProgress = errors.New("identification already in progress")

var cameraErrorMessages = map[domain.Language]string{
	domain.LanguageTraditionalChinese: "無法開啟相機。請確認權限已開啟。",
	domain.LanguageSimplifiedChinese:  "无法开启相机。请确认权限已开启。",
	domain.LanguageEnglish:            "Camera Error. Please check permissions.",
}

func cameraErrorMessage(lang domain.Language) string {
	if msg, ok := cameraErrorMessages[lang]; ok {
		return msg
	}
	return cameraErrorMessages[domain.LanguageTraditionalChinese]
}

// ScanService runs capture, identification and history recording, and holds
// the record currently on screen.
type ScanService struct {
	source     ports.ImageSource
	identifier ports.Identifier
	history    *History
	navigator  *Navigator
	events     ports.EventSink

	mu      sync.Mutex
	loading bool
	current *domain.MedicationRecord
	image   string
	message string
}

func NewScanService(
	source ports.ImageSource,
	identifier ports.Identifier,
	history *History,
	navigator *Navigator,
	events ports.EventSink,
) *ScanService {
	return &ScanService{
		source:     source,
		identifier: identifier,
		history:    history,
		navigator:  navigator,
		events:     events,
	}
}

// Scan captures a photo and identifies it. A cancelled capture returns
// (nil, nil) without touching any state.
func (s *ScanService) Scan(ctx context.Context, source ports.CaptureSource, lang domain.Language) (*domain.HistoryEntry, error) {
	image, err := s.source.Capture(ctx, source)
	if errors.Is(err, ports.ErrCaptureCancelled) {
		return nil, nil
	}
	if err != nil {
		log.Warn().Err(err).Str("source", string(source)).Msg("image capture failed")
		msg := cameraErrorMessage(lang)
		s.setMessage(msg)
		s.events.AppError(domain.ErrorCodeCamera, msg)
		return nil, err
	}
	if image == "" {
		return nil, nil
	}

	entry, err := s.Process(ctx, image, lang)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Process identifies image, records it in history and shows the result view.
func (s *ScanService) Process(ctx context.Context, image string, lang domain.Language) (domain.HistoryEntry, error) {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return domain.HistoryEntry{}, ErrScanInProgress
	}
	s.loading = true
	s.message = ""
	s.image = image
	s.mu.Unlock()

	s.events.ScanStarted()
	record, err := s.identifier.Identify(ctx, image, lang)

	s.mu.Lock()
	s.loading = false
	if err != nil {
		s.message = err.Error()
		s.mu.Unlock()
		log.Warn().Err(err).Str("kind", string(domain.KindOf(err))).Msg("identification failed")
		s.events.AppError(domain.ErrorCodeIdentification, err.Error())
		return domain.HistoryEntry{}, err
	}
	s.current = &record
	s.mu.Unlock()

	entry := s.history.Add(ctx, image, record)
	s.events.MedicationIdentified(record, entry)
	s.navigator.Show(domain.ViewResult)
	return entry, nil
}

// Open shows a past history entry on the result view.
func (s *ScanService) Open(id string) (domain.HistoryEntry, bool) {
	entry, ok := s.history.Get(id)
	if !ok {
		return domain.HistoryEntry{}, false
	}

	s.mu.Lock()
	record := entry.Info
	s.current = &record
	s.image = entry.Image
	s.message = ""
	s.mu.Unlock()

	s.navigator.Show(domain.ViewResult)
	return entry, true
}

// Current returns a copy of the record on screen, or nil.
func (s *ScanService) Current() *domain.MedicationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	record := *s.current
	return &record
}

func (s *ScanService) Image() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image
}

func (s *ScanService) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *ScanService) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

// DismissMessage clears the error shown to the user.
func (s *ScanService) DismissMessage() {
	s.setMessage("")
}

func (s *ScanService) setMessage(msg string) {
	s.mu.Lock()
	s.message = msg
	s.mu.Unlock()
}
