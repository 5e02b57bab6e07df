package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"pillhelper/internal/domain"
	"pillhelper/internal/ports"
)

// ErrNoRecord is returned by ToggleSpeak when there is nothing to read aloud.
var ErrNoRecord = errors.New("no medication record to speak")

const stopTimeout = 2 * time.Second

// SpeechOptions tunes the on-device utterance.
type SpeechOptions struct {
	Rate     float64
	Pitch    float64
	Volume   float64
	Category string
}

func defaultSpeechOptions() SpeechOptions {
	return SpeechOptions{Rate: 0.8, Pitch: 1.0, Volume: 1.0, Category: "ambient"}
}

// SpeechController reads medication records aloud. Every start and stop bumps
// a session epoch; only work belonging to the live epoch may touch the
// speaking indicator or start audio. Starts, stops and completions are
// serialized by transitionMu so their events and backend stops never
// interleave.
type SpeechController struct {
	device ports.DeviceSpeech
	remote ports.RemoteSynthesizer
	player ports.AudioPlayer
	queue  ports.SpeechQueue
	rules  ports.TextRules
	events ports.EventSink
	opts   SpeechOptions

	transitionMu sync.Mutex

	mu        sync.Mutex
	epoch     uint64
	speaking  bool
	cancel    context.CancelFunc
	supported []string

	inflight sync.WaitGroup
}

// NewSpeechController wires the speech backends. remote, queue and rules may be nil.
func NewSpeechController(
	device ports.DeviceSpeech,
	remote ports.RemoteSynthesizer,
	player ports.AudioPlayer,
	queue ports.SpeechQueue,
	rules ports.TextRules,
	events ports.EventSink,
) *SpeechController {
	return &SpeechController{
		device: device,
		remote: remote,
		player: player,
		queue:  queue,
		rules:  rules,
		events: events,
		opts:   defaultSpeechOptions(),
	}
}

// LoadSupportedLanguages fetches the engine's language list once. Failures
// leave the list empty so voice selection falls back to per-tag queries.
func (c *SpeechController) LoadSupportedLanguages(ctx context.Context) {
	langs, err := c.device.SupportedLanguages(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not list supported speech languages")
	} else {
		c.mu.Lock()
		c.supported = append([]string(nil), langs...)
		c.mu.Unlock()
		log.Info().Int("count", len(langs)).Msg("speech languages loaded")
	}

	ok, err := c.device.IsLanguageSupported(ctx, cantoneseProbe)
	if err != nil || !ok {
		log.Warn().Err(err).Str("voice", cantoneseProbe).Msg("Cantonese voice not available on this device")
	}
}

// ToggleSpeak stops playback when speaking, otherwise starts reading record.
// It never queues a second utterance.
func (c *SpeechController) ToggleSpeak(ctx context.Context, record *domain.MedicationRecord, lang domain.Language) error {
	if record == nil {
		return ErrNoRecord
	}

	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()

	c.mu.Lock()
	if c.speaking {
		c.mu.Unlock()
		c.stopLocked(domain.SpeechReasonStopped)
		return nil
	}

	c.epoch++
	session := c.epoch
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.speaking = true
	supported := c.supported
	c.mu.Unlock()

	c.events.SpeechStateChanged(domain.SpeechStateSpeaking, domain.SpeechReasonStarted)

	text := c.prepareText(*record, lang)
	c.inflight.Add(1)
	go c.run(sessionCtx, session, text, lang, supported)
	return nil
}

// StopAll silences every backend and clears the speaking indicator.
func (c *SpeechController) StopAll() {
	c.stopAll(domain.SpeechReasonStopped)
}

// Shutdown stops all speech and waits for in-flight sessions to unwind.
func (c *SpeechController) Shutdown(ctx context.Context) error {
	c.stopAll(domain.SpeechReasonShutdown)

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every dispatched session has finished.
func (c *SpeechController) Wait() {
	c.inflight.Wait()
}

func (c *SpeechController) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

func (c *SpeechController) State() domain.SpeechState {
	if c.Speaking() {
		return domain.SpeechStateSpeaking
	}
	return domain.SpeechStateIdle
}

func (c *SpeechController) prepareText(record domain.MedicationRecord, lang domain.Language) string {
	text := composeUtterance(record, lang)
	if c.rules == nil {
		return text
	}
	rewritten, err := c.rules.Apply(text, lang)
	if err != nil {
		log.Warn().Err(err).Msg("pronunciation rules failed, speaking unmodified text")
		return text
	}
	return rewritten
}

func (c *SpeechController) stopAll(reason domain.SpeechStateReason) {
	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()
	c.stopLocked(reason)
}

// stopLocked requires transitionMu. A start waiting on it only dispatches
// after every backend has been told to stop.
func (c *SpeechController) stopLocked(reason domain.SpeechStateReason) {
	c.mu.Lock()
	c.epoch++
	cancel := c.cancel
	c.cancel = nil
	wasSpeaking := c.speaking
	c.speaking = false
	c.mu.Unlock()

	if wasSpeaking {
		c.events.SpeechStateChanged(domain.SpeechStateStopping, reason)
	}
	if cancel != nil {
		cancel()
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()

	c.silence("device speech", func() error { return c.device.Stop(stopCtx) })
	if c.player != nil {
		c.silence("audio player", c.player.Stop)
	}
	if c.queue != nil {
		c.silence("speech queue", c.queue.Cancel)
	}

	if wasSpeaking {
		c.events.SpeechStateChanged(domain.SpeechStateIdle, reason)
	}
}

// silence runs one backend stop; failures are logged and never block the others.
func (c *SpeechController) silence(backend string, stop func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("backend", backend).Interface("panic", r).Msg("panic while stopping speech")
		}
	}()
	if err := stop(); err != nil {
		log.Warn().Err(err).Str("backend", backend).Msg("failed to stop speech")
	}
}

func (c *SpeechController) run(ctx context.Context, session uint64, text string, lang domain.Language, supported []string) {
	defer c.inflight.Done()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("speech panicked: %v", r)
		}
		c.finish(session, err)
	}()

	err = c.speak(ctx, session, text, lang, supported)
}

func (c *SpeechController) speak(ctx context.Context, session uint64, text string, lang domain.Language, supported []string) error {
	tag := selectVoice(ctx, c.device, supported, lang)

	if lang == domain.LanguageTraditionalChinese && c.remoteConfigured() {
		handled, err := c.speakRemote(ctx, session, text)
		if handled {
			return err
		}
	}

	if !c.current(ctx, session) {
		return nil
	}
	return c.device.Speak(ctx, ports.SpeakRequest{
		Text:     text,
		Lang:     tag,
		Rate:     c.opts.Rate,
		Pitch:    c.opts.Pitch,
		Volume:   c.opts.Volume,
		Category: c.opts.Category,
	})
}

// speakRemote tries each cloud voice in turn. It reports false only when no
// voice produced playable audio and on-device speech should take over.
func (c *SpeechController) speakRemote(ctx context.Context, session uint64, text string) (bool, error) {
	for _, voice := range remoteVoices {
		if !c.current(ctx, session) {
			return true, nil
		}

		encoded, err := c.remote.Synthesize(ctx, text, voice)
		if err != nil {
			log.Warn().Err(err).Str("voice", voice.Name).Msg("remote synthesis failed")
			continue
		}
		if encoded == "" {
			continue
		}
		audio, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			log.Warn().Err(err).Str("voice", voice.Name).Msg("remote synthesis returned undecodable audio")
			continue
		}

		if !c.current(ctx, session) {
			return true, nil
		}
		return true, c.player.Play(ctx, audio)
	}
	return false, nil
}

func (c *SpeechController) remoteConfigured() bool {
	if c.remote == nil || c.player == nil {
		return false
	}
	if configured, ok := c.remote.(interface{ Configured() bool }); ok {
		return configured.Configured()
	}
	return true
}

func (c *SpeechController) current(ctx context.Context, session uint64) bool {
	if ctx.Err() != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == session
}

// finish clears the indicator unless a newer session has taken over.
func (c *SpeechController) finish(session uint64, err error) {
	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()

	c.mu.Lock()
	if c.epoch != session || !c.speaking {
		c.mu.Unlock()
		if err != nil {
			log.Debug().Err(err).Uint64("session", session).Msg("stale speech session ended")
		}
		return
	}
	c.speaking = false
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if err != nil {
		log.Error().Err(err).Uint64("session", session).Msg("speech playback failed")
		c.events.SpeechStateChanged(domain.SpeechStateIdle, domain.SpeechReasonFailed)
		return
	}
	c.events.SpeechStateChanged(domain.SpeechStateIdle, domain.SpeechReasonFinished)
}
