package bootstrap

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog/log"

	"pillhelper/internal/audio"
	"pillhelper/internal/config"
	"pillhelper/internal/locale"
	"pillhelper/internal/ports"
	"pillhelper/internal/providers/devicebridge"
	"pillhelper/internal/providers/gemini"
	"pillhelper/internal/providers/googletts"
	"pillhelper/internal/rules"
	"pillhelper/internal/storage"
	"pillhelper/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Speech    *usecase.SpeechController
	History   *usecase.History
	Scan      *usecase.ScanService
	Navigator *usecase.Navigator
	Config    config.Config

	closers []io.Closer
}

// Close releases connections held by adapters.
func (s Services) Close() error {
	var errs []error
	for _, closer := range s.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build wires all backend dependencies for cfg.
func Build(ctx context.Context, cfg config.Config, eventSink ports.EventSink, images ports.ImageSource) (Services, error) {
	pronunciation, err := rules.Load(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return Services{}, err
	}

	var closers []io.Closer

	speaker := audio.NewSpeaker(cfg.Audio.SpeakCommand)
	var device ports.DeviceSpeech = speaker
	if cfg.Audio.DeviceBridgeURL != "" {
		bridge := devicebridge.New(devicebridge.Config{
			URL:   cfg.Audio.DeviceBridgeURL,
			Token: cfg.Audio.DeviceBridgeToken,
		})
		closers = append(closers, bridge)
		device = bridge
	}

	var remote ports.RemoteSynthesizer
	if cfg.Voice.APIKey != "" {
		remote = googletts.NewClient(googletts.Config{
			APIKey:     cfg.Voice.APIKey,
			APIBaseURL: cfg.Voice.APIBaseURL,
			Timeout:    cfg.Voice.Timeout,
		})
	}

	store, storeCloser := historyStore(ctx, cfg.History)
	if storeCloser != nil {
		closers = append(closers, storeCloser)
	}

	speech := usecase.NewSpeechController(
		device,
		remote,
		audio.NewPlayer(cfg.Audio.PlayerCommand),
		speaker,
		pronunciation,
		eventSink,
	)
	history := usecase.NewHistory(store)
	navigator := usecase.NewNavigator(speech, eventSink, locale.Detect(cfg.App.Language))
	identifier := gemini.NewClient(gemini.Config{
		APIKey:      cfg.Gemini.APIKey,
		APIBaseURL:  cfg.Gemini.APIBaseURL,
		Model:       cfg.Gemini.Model,
		Temperature: cfg.Gemini.Temperature,
		Timeout:     cfg.Gemini.Timeout,
	})
	scan := usecase.NewScanService(images, identifier, history, navigator, eventSink)

	return Services{
		Speech:    speech,
		History:   history,
		Scan:      scan,
		Navigator: navigator,
		Config:    cfg,
		closers:   closers,
	}, nil
}

// historyStore prefers Redis when configured and falls back to the JSON file.
func historyStore(ctx context.Context, cfg config.HistoryConfig) (ports.HistoryStore, io.Closer) {
	if cfg.RedisAddr != "" {
		store, err := storage.NewRedisHistoryStore(ctx, storage.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err == nil {
			return store, store
		}
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis history unavailable, using file store")
	}
	return storage.NewFileHistoryStore(cfg.Path), nil
}
