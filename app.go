package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"pillhelper/internal/bootstrap"
	"pillhelper/internal/config"
	"pillhelper/internal/domain"
	"pillhelper/internal/observability"
	"pillhelper/internal/ports"
	"pillhelper/internal/usecase"
)

const (
	eventSpeech     = "pillhelper:speech"
	eventView       = "pillhelper:view"
	eventScan       = "pillhelper:scan"
	eventIdentified = "pillhelper:identified"
	eventError      = "pillhelper:error"

	serviceName     = "pillhelper"
	serviceVersion  = "1.0.0"
	shutdownTimeout = 3 * time.Second
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	services          *bootstrap.Services
	bootErr           error
	telemetryShutdown func(context.Context) error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	cfg, err := config.Load()
	if err != nil {
		a.fail(err)
		return
	}
	observability.InitLogger(serviceName, cfg.App.Env, cfg.App.LogLevel)

	shutdown, err := observability.Setup(ctx, serviceName, serviceVersion, cfg.App.OTelEndpoint)
	if err != nil {
		log.Warn().Err(err).Str("endpoint", cfg.App.OTelEndpoint).Msg("telemetry disabled")
	} else {
		a.telemetryShutdown = shutdown
	}

	services, err := bootstrap.Build(ctx, cfg, a, dialogImageSource{})
	if err != nil {
		a.fail(err)
		return
	}
	a.services = &services

	services.History.Load(ctx)
	go services.Speech.LoadSupportedLanguages(ctx)

	log.Info().
		Str("language", string(services.Navigator.Language())).
		Str("model", services.Config.Gemini.Model).
		Msg("pill helper ready")
	a.ViewChanged(domain.ViewHome)
}

func (a *App) shutdown(_ context.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.services != nil {
		if err := a.services.Speech.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("speech did not stop before shutdown")
		}
		if err := a.services.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close adapters")
		}
	}
	if a.telemetryShutdown != nil {
		if err := a.telemetryShutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to flush telemetry")
		}
	}
}

func (a *App) fail(err error) {
	a.bootErr = err
	log.Error().Err(err).Msg("startup failed")
	a.AppError(domain.ErrorCodeStartup, err.Error())
}

// ScanImage takes a photo and identifies the medication in it.
func (a *App) ScanImage() (*domain.HistoryEntry, error) {
	return a.scan(ports.CaptureSourceCamera)
}

// ScanFile picks an existing photo and identifies the medication in it.
func (a *App) ScanFile() (*domain.HistoryEntry, error) {
	return a.scan(ports.CaptureSourcePhotos)
}

func (a *App) scan(source ports.CaptureSource) (*domain.HistoryEntry, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.services.Scan.Scan(a.ctx, source, a.services.Navigator.Language())
}

// ToggleSpeak reads the current record aloud, or stops if already speaking.
func (a *App) ToggleSpeak() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	err := a.services.Speech.ToggleSpeak(a.ctx, a.services.Scan.Current(), a.services.Navigator.Language())
	if err != nil {
		if !errors.Is(err, usecase.ErrNoRecord) {
			a.AppError(domain.ErrorCodeSpeech, err.Error())
		}
		return a.GetStatus(), err
	}
	return a.GetStatus(), nil
}

// StopSpeech silences every speech backend.
func (a *App) StopSpeech() domain.Status {
	if a.services != nil {
		a.services.Speech.StopAll()
	}
	return a.GetStatus()
}

// Back handles the hardware/back button. On the home view it quits the app.
func (a *App) Back() domain.Status {
	if a.services == nil {
		return a.GetStatus()
	}
	if a.services.Navigator.Back() && a.ctx != nil {
		runtime.Quit(a.ctx)
	}
	return a.GetStatus()
}

// GoHome stops speech and returns to the home view.
func (a *App) GoHome() domain.Status {
	if a.services != nil {
		a.services.Navigator.Home()
	}
	return a.GetStatus()
}

func (a *App) OpenMenu() domain.Status {
	if a.services != nil {
		a.services.Navigator.OpenMenu()
	}
	return a.GetStatus()
}

func (a *App) CloseMenu() domain.Status {
	if a.services != nil {
		a.services.Navigator.CloseMenu()
	}
	return a.GetStatus()
}

func (a *App) ShowHistory() domain.Status {
	if a.services != nil {
		a.services.Navigator.Show(domain.ViewHistory)
	}
	return a.GetStatus()
}

// SelectHistory opens a past identification on the result view.
func (a *App) SelectHistory(id string) (domain.HistoryEntry, error) {
	if err := a.requireReady(); err != nil {
		return domain.HistoryEntry{}, err
	}
	entry, ok := a.services.Scan.Open(id)
	if !ok {
		return domain.HistoryEntry{}, fmt.Errorf("history entry %q not found", id)
	}
	return entry, nil
}

func (a *App) SetLanguage(lang string) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Navigator.SetLanguage(domain.Language(lang)); err != nil {
		return a.GetStatus(), err
	}
	return a.GetStatus(), nil
}

// DismissError clears the message shown after a failed scan.
func (a *App) DismissError() domain.Status {
	if a.services != nil {
		a.services.Scan.DismissMessage()
	}
	return a.GetStatus()
}

// GetStatus returns everything the UI needs to render.
func (a *App) GetStatus() domain.Status {
	if a.services == nil {
		status := domain.Status{View: domain.ViewHome, Language: domain.LanguageTraditionalChinese}
		if a.bootErr != nil {
			status.Message = a.bootErr.Error()
		}
		return status
	}

	s := a.services
	return domain.Status{
		View:     s.Navigator.View(),
		Menu:     s.Navigator.MenuOpen(),
		Language: s.Navigator.Language(),
		Speaking: s.Speech.Speaking(),
		Loading:  s.Scan.Loading(),
		Current:  s.Scan.Current(),
		Image:    s.Scan.Image(),
		Message:  s.Scan.Message(),
	}
}

func (a *App) GetHistory() []domain.HistoryEntry {
	if a.services == nil {
		return []domain.HistoryEntry{}
	}
	return a.services.History.Entries()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if a.services == nil {
		return map[string]string{}
	}

	cfg := a.services.Config
	speech := "espeak"
	if cfg.Audio.DeviceBridgeURL != "" {
		speech = "device bridge"
	}
	history := "file"
	if cfg.History.RedisAddr != "" {
		history = "redis"
	}
	return map[string]string{
		"provider":      "Gemini",
		"model":         cfg.Gemini.Model,
		"speech":        speech,
		"cloudVoice":    fmt.Sprintf("%t", cfg.Voice.APIKey != ""),
		"history":       history,
		"historyFile":   cfg.History.Path,
		"rulesFile":     cfg.Rules.Path,
		"speakCommand":  cfg.Audio.SpeakCommand,
		"playerCommand": cfg.Audio.PlayerCommand,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SpeechStateChanged emits playback lifecycle updates to the frontend.
func (a *App) SpeechStateChanged(state domain.SpeechState, reason domain.SpeechStateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSpeech, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": speechReasonMessage(reason),
	})
}

func (a *App) ViewChanged(view domain.View) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventView, map[string]string{"view": string(view)})
}

func (a *App) ScanStarted() {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventScan, map[string]bool{"loading": true})
}

func (a *App) MedicationIdentified(record domain.MedicationRecord, entry domain.HistoryEntry) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventIdentified, map[string]any{
		"record": record,
		"entry":  entry,
	})
}

// AppError emits backend errors to the UI.
func (a *App) AppError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func speechReasonMessage(reason domain.SpeechStateReason) string {
	switch reason {
	case domain.SpeechReasonStarted:
		return "Reading aloud"
	case domain.SpeechReasonFinished:
		return "Finished reading"
	case domain.SpeechReasonStopped:
		return "Reading stopped"
	case domain.SpeechReasonFailed:
		return "Reading failed"
	case domain.SpeechReasonShutdown:
		return "Speech shut down"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeCamera, domain.ErrorCodeIdentification:
		if detail != "" {
			return detail
		}
		return "Identification failed"
	case domain.ErrorCodeHistory:
		return "History unavailable"
	case domain.ErrorCodeSpeech:
		return "Speech unavailable"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

// dialogImageSource picks a photo with the native file dialog.
type dialogImageSource struct{}

func (dialogImageSource) Capture(ctx context.Context, source ports.CaptureSource) (string, error) {
	title := "Take a photo of the medicine"
	if source == ports.CaptureSourcePhotos {
		title = "Choose a photo of the medicine"
	}

	path, err := runtime.OpenFileDialog(ctx, runtime.OpenDialogOptions{
		Title: title,
		Filters: []runtime.FileFilter{
			{DisplayName: "Images (*.jpg;*.jpeg;*.png;*.webp;*.heic)", Pattern: "*.jpg;*.jpeg;*.png;*.webp;*.heic"},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to open photo picker: %w", err)
	}
	if path == "" {
		return "", ports.ErrCaptureCancelled
	}
	return imageDataURI(path)
}

// imageDataURI reads path and encodes it as a base64 data URI.
func imageDataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read photo: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("photo %q is empty", filepath.Base(path))
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
