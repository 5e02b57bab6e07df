package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pillhelper/internal/domain"
)

func newTestServer(t *testing.T, status int, body string, inspect func(*http.Request, generateRequest)) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req generateRequest
		require.NoError(t, json.Unmarshal(raw, &req))
		if inspect != nil {
			inspect(r, req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func candidateBody(t *testing.T, text string) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"role":  "model",
				"parts": []map[string]string{{"text": text}},
			},
			"finishReason": "STOP",
		}},
	})
	require.NoError(t, err)
	return string(body)
}

const aspirinJSON = `{"name":"Aspirin","dosage":"500mg","frequency":"twice daily","purpose":"pain relief","precautions":"take with food"}`

func TestIdentifySuccess(t *testing.T) {
	server, calls := newTestServer(t, http.StatusOK, candidateBody(t, aspirinJSON), func(r *http.Request, req generateRequest) {
		assert.Equal(t, "/v1beta/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))

		require.Len(t, req.Contents, 1)
		require.Len(t, req.Contents[0].Parts, 2)
		image := req.Contents[0].Parts[0].InlineData
		require.NotNil(t, image)
		assert.Equal(t, "image/png", image.MIMEType)
		assert.Equal(t, "QUJD", image.Data)
		assert.Contains(t, req.Contents[0].Parts[1].Text, "Response must be in English.")

		assert.Equal(t, "application/json", req.GenerationConfig.ResponseMIMEType)
		assert.Equal(t, 0.1, req.GenerationConfig.Temperature)
		assert.Equal(t, "OBJECT", req.GenerationConfig.ResponseSchema.Type)
		assert.ElementsMatch(t, requiredFields, req.GenerationConfig.ResponseSchema.Required)
		for _, field := range requiredFields {
			assert.Equal(t, "STRING", req.GenerationConfig.ResponseSchema.Properties[field].Type)
		}
	})

	client := NewClient(Config{APIKey: "secret", APIBaseURL: server.URL + "/v1beta/", Model: "test-model", Temperature: 0.1})
	record, err := client.Identify(context.Background(), "data:image/png;base64,QUJD", domain.LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
	assert.Equal(t, domain.MedicationRecord{
		Name:        "Aspirin",
		Dosage:      "500mg",
		Frequency:   "twice daily",
		Purpose:     "pain relief",
		Precautions: "take with food",
	}, record)
}

func TestIdentifyBareBase64DefaultsToJPEG(t *testing.T) {
	server, _ := newTestServer(t, http.StatusOK, candidateBody(t, aspirinJSON), func(_ *http.Request, req generateRequest) {
		image := req.Contents[0].Parts[0].InlineData
		assert.Equal(t, "image/jpeg", image.MIMEType)
		assert.Equal(t, "QUJD", image.Data)
	})

	client := NewClient(Config{APIKey: "secret", APIBaseURL: server.URL})
	_, err := client.Identify(context.Background(), "QUJD", domain.LanguageEnglish)
	require.NoError(t, err)
}

func TestIdentifyUsesLanguageDirective(t *testing.T) {
	for lang, directive := range languageDirectives {
		lang, directive := lang, directive
		t.Run(string(lang), func(t *testing.T) {
			server, _ := newTestServer(t, http.StatusOK, candidateBody(t, aspirinJSON), func(_ *http.Request, req generateRequest) {
				assert.Contains(t, req.Contents[0].Parts[1].Text, directive)
			})
			client := NewClient(Config{APIKey: "secret", APIBaseURL: server.URL})
			_, err := client.Identify(context.Background(), "QUJD", lang)
			require.NoError(t, err)
		})
	}

	assert.NotEqual(t, languageDirectives[domain.LanguageTraditionalChinese], languageDirectives[domain.LanguageSimplifiedChinese])
	assert.Contains(t, languageDirectives[domain.LanguageTraditionalChinese], "藥片")
}

func TestIdentifyRejectsMissingCredentialWithoutCalling(t *testing.T) {
	for _, key := range []string{"", "  ", "undefined", "YOUR_API_KEY"} {
		server, calls := newTestServer(t, http.StatusOK, candidateBody(t, aspirinJSON), nil)
		client := NewClient(Config{APIKey: key, APIBaseURL: server.URL})

		_, err := client.Identify(context.Background(), "QUJD", domain.LanguageTraditionalChinese)
		require.Error(t, err)
		assert.Equal(t, domain.KindConfiguration, domain.KindOf(err), "key %q", key)
		assert.Equal(t, messages[domain.LanguageTraditionalChinese].configuration, err.Error())
		assert.Zero(t, atomic.LoadInt32(calls))
	}
}

func TestIdentifyForbiddenIsAuthorization(t *testing.T) {
	server, _ := newTestServer(t, http.StatusForbidden,
		`{"error":{"code":403,"message":"Requests from this referer are blocked.","status":"PERMISSION_DENIED"}}`, nil)
	client := NewClient(Config{APIKey: "secret", APIBaseURL: server.URL})

	_, err := client.Identify(context.Background(), "QUJD", domain.LanguageEnglish)
	require.Error(t, err)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
	assert.Equal(t, messages[domain.LanguageEnglish].authorization, err.Error())
}

func TestIdentifyServerErrorCarriesUpstreamMessage(t *testing.T) {
	server, _ := newTestServer(t, http.StatusInternalServerError,
		`{"error":{"code":500,"message":"model overloaded","status":"INTERNAL"}}`, nil)
	client := NewClient(Config{APIKey: "secret", APIBaseURL: server.URL})

	_, err := client.Identify(context.Background(), "QUJD", domain.LanguageEnglish)
	require.Error(t, err)
	assert.Equal(t, domain.KindUnknown, domain.KindOf(err))
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestIdentifyEmptyResponse(t *testing.T) {
	server, _ := newTestServer(t, http.StatusOK, `{"candidates":[]}`, nil)
	client := NewClient(Config{APIKey: "secret", APIBaseURL: server.URL})

	_, err := client.Identify(context.Background(), "QUJD", domain.LanguageEnglish)
	require.Error(t, err)
	assert.Equal(t, domain.KindEmptyResponse, domain.KindOf(err))
}

func TestIdentifyMissingPrecautionsIsMalformed(t *testing.T) {
	text := `{"name":"Aspirin","dosage":"500mg","frequency":"twice daily","purpose":"pain relief"}`
	server, _ := newTestServer(t, http.StatusOK, candidateBody(t, text), nil)
	client := NewClient(Config{APIKey: "secret", APIBaseURL: server.URL})

	record, err := client.Identify(context.Background(), "QUJD", domain.LanguageEnglish)
	require.Error(t, err)
	assert.Equal(t, domain.KindMalformedResponse, domain.KindOf(err))
	assert.Equal(t, domain.MedicationRecord{}, record)
}

func TestIdentifyUndecodableBodyIsMalformed(t *testing.T) {
	server, _ := newTestServer(t, http.StatusOK, `<html>oops</html>`, nil)
	client := NewClient(Config{APIKey: "secret", APIBaseURL: server.URL})

	_, err := client.Identify(context.Background(), "QUJD", domain.LanguageEnglish)
	require.Error(t, err)
	assert.Equal(t, domain.KindMalformedResponse, domain.KindOf(err))
}

func TestIdentifyUnreachableIsNetwork(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	client := NewClient(Config{APIKey: "secret", APIBaseURL: base})
	_, err := client.Identify(context.Background(), "QUJD", domain.LanguageSimplifiedChinese)
	require.Error(t, err)
	assert.Equal(t, domain.KindNetwork, domain.KindOf(err))
	assert.Equal(t, messages[domain.LanguageSimplifiedChinese].network, err.Error())
}

func TestIdentifyRepeatedCallsNeverPartial(t *testing.T) {
	bodies := []string{aspirinJSON, `{"name":"Aspirin","dosage":"","frequency":"daily","purpose":"x","precautions":"y"}`}
	var index int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		i := atomic.AddInt32(&index, 1) - 1
		_, _ = w.Write([]byte(candidateBody(t, bodies[int(i)%len(bodies)])))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "secret", APIBaseURL: server.URL})
	for i := 0; i < 4; i++ {
		record, err := client.Identify(context.Background(), "QUJD", domain.LanguageEnglish)
		if err != nil {
			assert.NotEmpty(t, domain.KindOf(err))
			assert.Equal(t, domain.MedicationRecord{}, record)
			continue
		}
		assert.NotEmpty(t, record.Name)
		assert.NotEmpty(t, record.Dosage)
		assert.NotEmpty(t, record.Frequency)
		assert.NotEmpty(t, record.Purpose)
		assert.NotEmpty(t, record.Precautions)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ErrorKind
	}{
		{name: "fetch", err: errors.New("TypeError: Failed to fetch"), want: domain.KindNetwork},
		{name: "fetch wins over 403", err: errors.New("Failed to fetch (status 403)"), want: domain.KindNetwork},
		{name: "network marker", err: errors.New("network_error while dialing"), want: domain.KindNetwork},
		{name: "forbidden", err: errors.New("request failed with status 403"), want: domain.KindAuthorization},
		{name: "permission denied", err: errors.New("PERMISSION_DENIED: referer blocked"), want: domain.KindAuthorization},
		{name: "other", err: errors.New("quota exceeded"), want: domain.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err, domain.LanguageEnglish)
			assert.Equal(t, tt.want, got.Kind)
			assert.ErrorIs(t, got, tt.err)
		})
	}

	unknown := classify(errors.New("quota exceeded"), domain.LanguageEnglish)
	assert.Equal(t, "quota exceeded", unknown.Message)

	blank := classify(errors.New("  "), domain.LanguageTraditionalChinese)
	assert.Equal(t, messages[domain.LanguageTraditionalChinese].unknown, blank.Message)
}

func TestParseMedicationRecord(t *testing.T) {
	record, err := parseMedicationRecord("```json\n" + aspirinJSON + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "Aspirin", record.Name)

	_, err = parseMedicationRecord(`{"name":"A","dosage":"B","frequency":"C","purpose":"D","precautions":null}`)
	assert.ErrorIs(t, err, errMissingField)

	_, err = parseMedicationRecord(`{"name":"A","dosage":"B","frequency":"C","purpose":"D","precautions":5}`)
	assert.Error(t, err)

	_, err = parseMedicationRecord(`[1,2,3]`)
	assert.Error(t, err)
}

func TestStripDataURI(t *testing.T) {
	assert.Equal(t, "QUJD", stripDataURI("data:image/jpeg;base64,QUJD"))
	assert.Equal(t, "QUJD", stripDataURI(" QUJD "))
	assert.Equal(t, "image/webp", imageMIMEType("data:image/webp;base64,QUJD"))
	assert.Equal(t, "image/jpeg", imageMIMEType("QUJD"))
}
