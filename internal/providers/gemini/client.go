package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"pillhelper/internal/domain"
	"pillhelper/internal/observability"
)

const (
	defaultBaseURL  = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel    = "gemini-3-flash-preview"
	defaultMIMEType = "image/jpeg"
	providerName    = "gemini"
)

// Config controls the Gemini REST client.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Client implements ports.Identifier on the Gemini generateContent API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type part struct {
	InlineData *inlineData `json:"inlineData,omitempty"`
	Text       string      `json:"text,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type responseSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]responseSchema `json:"properties,omitempty"`
	Required   []string                  `json:"required,omitempty"`
}

type generationConfig struct {
	Temperature      float64        `json:"temperature"`
	ResponseMIMEType string         `json:"responseMimeType"`
	ResponseSchema   responseSchema `json:"responseSchema"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Identify sends the photo with a language-specific instruction and returns a fully
// populated record. Every failure is a *domain.IdentificationError.
func (c *Client) Identify(ctx context.Context, image string, lang domain.Language) (domain.MedicationRecord, error) {
	ctx, span := observability.StartSpan(ctx, "gemini.Identify")
	defer span.End()
	observability.SetSpanAttributes(span,
		attribute.String("ai.provider", providerName),
		attribute.String("ai.model", c.cfg.Model),
		attribute.String("lang", string(lang)),
	)

	record, err := c.identify(ctx, image, lang)
	observability.RecordError(span, err)
	return record, err
}

func (c *Client) identify(ctx context.Context, image string, lang domain.Language) (domain.MedicationRecord, error) {
	logger := observability.LoggerFromContext(ctx)

	if !credentialUsable(c.cfg.APIKey) {
		logger.Error().Msg("GEMINI_API_KEY is missing")
		return domain.MedicationRecord{}, newError(domain.KindConfiguration, lang, errors.New("GEMINI_API_KEY is not configured"))
	}

	prompt, err := buildPrompt(lang)
	if err != nil {
		return domain.MedicationRecord{}, newError(domain.KindUnknown, lang, err)
	}

	data := stripDataURI(image)
	if data == "" {
		return domain.MedicationRecord{}, newError(domain.KindUnknown, lang, errors.New("image payload is empty"))
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{InlineData: &inlineData{MIMEType: imageMIMEType(image), Data: data}},
				{Text: prompt},
			},
		}},
		GenerationConfig: generationConfig{
			Temperature:      c.cfg.Temperature,
			ResponseMIMEType: "application/json",
			ResponseSchema:   medicationSchema(),
		},
	})
	if err != nil {
		return domain.MedicationRecord{}, newError(domain.KindUnknown, lang, err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.cfg.APIBaseURL, url.PathEscape(c.cfg.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.MedicationRecord{}, classify(err, lang)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("failed to fetch: %w", err)
		observability.RecordRequest(ctx, providerName, c.cfg.Model, 0, time.Since(start), err)
		logger.Error().Err(err).Str("lang", string(lang)).Msg("gemini request failed")
		return domain.MedicationRecord{}, classify(err, lang)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("failed to fetch: reading response: %w", err)
		observability.RecordRequest(ctx, providerName, c.cfg.Model, resp.StatusCode, time.Since(start), err)
		return domain.MedicationRecord{}, classify(err, lang)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := upstreamError(resp.StatusCode, payload)
		observability.RecordRequest(ctx, providerName, c.cfg.Model, resp.StatusCode, time.Since(start), err)
		logger.Error().Err(err).Int("status", resp.StatusCode).Msg("gemini request rejected")
		return domain.MedicationRecord{}, classify(err, lang)
	}

	var envelope generateResponse
	if err := json.Unmarshal(payload, &envelope); err != nil {
		err = fmt.Errorf("failed to decode gemini response: %w", err)
		observability.RecordRequest(ctx, providerName, c.cfg.Model, resp.StatusCode, time.Since(start), err)
		return domain.MedicationRecord{}, newError(domain.KindMalformedResponse, lang, err)
	}

	text := responseText(envelope)
	if text == "" {
		err := errors.New("gemini response has no text")
		if reason := envelope.PromptFeedback.BlockReason; reason != "" {
			err = fmt.Errorf("gemini response has no text: blocked (%s)", reason)
		}
		observability.RecordRequest(ctx, providerName, c.cfg.Model, resp.StatusCode, time.Since(start), err)
		logger.Warn().Err(err).Msg("empty identification response")
		return domain.MedicationRecord{}, newError(domain.KindEmptyResponse, lang, err)
	}

	record, err := parseMedicationRecord(text)
	if err != nil {
		observability.RecordRequest(ctx, providerName, c.cfg.Model, resp.StatusCode, time.Since(start), err)
		logger.Warn().Err(err).Msg("malformed identification response")
		return domain.MedicationRecord{}, newError(domain.KindMalformedResponse, lang, err)
	}

	observability.RecordRequest(ctx, providerName, c.cfg.Model, resp.StatusCode, time.Since(start), nil)
	logger.Info().Str("lang", string(lang)).Str("medication", record.Name).Msg("medication identified")
	return record, nil
}

func credentialUsable(key string) bool {
	switch strings.TrimSpace(key) {
	case "", "undefined", "YOUR_API_KEY":
		return false
	default:
		return true
	}
}

func imageMIMEType(image string) string {
	trimmed := strings.TrimSpace(image)
	if !strings.HasPrefix(trimmed, "data:") {
		return defaultMIMEType
	}
	header := strings.TrimPrefix(trimmed, "data:")
	if i := strings.IndexAny(header, ";,"); i > 0 {
		return header[:i]
	}
	return defaultMIMEType
}

func responseText(envelope generateResponse) string {
	if len(envelope.Candidates) == 0 {
		return ""
	}
	var builder strings.Builder
	for _, p := range envelope.Candidates[0].Content.Parts {
		builder.WriteString(p.Text)
	}
	return strings.TrimSpace(builder.String())
}

func upstreamError(status int, payload []byte) error {
	var envelope errorEnvelope
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Error.Message != "" {
		return fmt.Errorf("gemini request failed with status %d (%s): %s", status, envelope.Error.Status, envelope.Error.Message)
	}
	return fmt.Errorf("gemini request failed with status %d", status)
}
