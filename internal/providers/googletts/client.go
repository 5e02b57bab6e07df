package googletts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"pillhelper/internal/observability"
	"pillhelper/internal/ports"
)

const (
	defaultBaseURL = "https://texttospeech.googleapis.com/v1"
	providerName   = "google-tts"
	audioEncoding  = "MP3"
)

var (
	ErrNotConfigured = errors.New("GCP_TTS_API_KEY is not configured")
	ErrNoAudio       = errors.New("synthesis response has no audio content")
)

// Config controls the Cloud Text-to-Speech REST client.
type Config struct {
	APIKey     string
	APIBaseURL string
	Timeout    time.Duration
}

// Client implements ports.RemoteSynthesizer.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

// Configured reports whether a credential is present.
func (c *Client) Configured() bool {
	return c != nil && strings.TrimSpace(c.cfg.APIKey) != ""
}

type synthesizeRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice       ports.RemoteVoice `json:"voice"`
	AudioConfig struct {
		AudioEncoding string `json:"audioEncoding"`
	} `json:"audioConfig"`
}

type synthesizeResponse struct {
	AudioContent string `json:"audioContent"`
}

// Synthesize returns base64 MP3 audio for text spoken by voice.
func (c *Client) Synthesize(ctx context.Context, text string, voice ports.RemoteVoice) (string, error) {
	ctx, span := observability.StartSpan(ctx, "googletts.Synthesize")
	defer span.End()
	observability.SetSpanAttributes(span,
		attribute.String("ai.provider", providerName),
		attribute.String("tts.voice", voice.Name),
		attribute.String("tts.language", voice.LanguageCode),
	)

	audio, err := c.synthesize(ctx, text, voice)
	observability.RecordError(span, err)
	return audio, err
}

func (c *Client) synthesize(ctx context.Context, text string, voice ports.RemoteVoice) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	var payload synthesizeRequest
	payload.Input.Text = text
	payload.Voice = voice
	payload.AudioConfig.AudioEncoding = audioEncoding

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBaseURL+"/text:synthesize", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	model := voice.Name
	if model == "" {
		model = voice.LanguageCode
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.RecordRequest(ctx, providerName, model, 0, time.Since(start), err)
		return "", fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("synthesis request failed with status %d", resp.StatusCode)
		observability.RecordRequest(ctx, providerName, model, resp.StatusCode, time.Since(start), err)
		return "", err
	}

	var decoded synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		observability.RecordRequest(ctx, providerName, model, resp.StatusCode, time.Since(start), err)
		return "", fmt.Errorf("failed to decode synthesis response: %w", err)
	}
	if decoded.AudioContent == "" {
		observability.RecordRequest(ctx, providerName, model, resp.StatusCode, time.Since(start), ErrNoAudio)
		return "", ErrNoAudio
	}

	observability.RecordRequest(ctx, providerName, model, resp.StatusCode, time.Since(start), nil)
	return decoded.AudioContent, nil
}
