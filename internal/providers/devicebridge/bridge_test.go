package devicebridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pillhelper/internal/ports"
)

type fakeDevice struct {
	mu       sync.Mutex
	requests []request
	speaks   []ports.SpeakRequest
	token    string
	hold     chan struct{}
}

func (d *fakeDevice) handler(t *testing.T) http.Handler {
	upgrader := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.token = r.Header.Get("Authorization")
		d.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		var writeMu sync.Mutex
		reply := func(resp map[string]any) {
			writeMu.Lock()
			defer writeMu.Unlock()
			_ = conn.WriteJSON(resp)
		}

		for {
			var raw struct {
				ID     uint64          `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if err := conn.ReadJSON(&raw); err != nil {
				return
			}
			d.mu.Lock()
			d.requests = append(d.requests, request{ID: raw.ID, Method: raw.Method})
			d.mu.Unlock()

			switch raw.Method {
			case methodSupportedLanguages:
				reply(map[string]any{"id": raw.ID, "result": map[string]any{"languages": []string{"en-US", "zh-TW"}}})
			case methodIsSupported:
				var params map[string]string
				_ = json.Unmarshal(raw.Params, &params)
				reply(map[string]any{"id": raw.ID, "result": map[string]any{"supported": params["lang"] == "zh-HK"}})
			case methodSpeak:
				var params ports.SpeakRequest
				_ = json.Unmarshal(raw.Params, &params)
				d.mu.Lock()
				d.speaks = append(d.speaks, params)
				hold := d.hold
				d.mu.Unlock()
				go func(id uint64) {
					if hold != nil {
						<-hold
					}
					reply(map[string]any{"id": id})
				}(raw.ID)
			case methodStop:
				reply(map[string]any{"id": raw.ID})
			default:
				reply(map[string]any{"id": raw.ID, "error": "unknown method"})
			}
		}
	})
}

func startDevice(t *testing.T, device *fakeDevice) string {
	t.Helper()
	server := httptest.NewServer(device.handler(t))
	t.Cleanup(server.Close)
	return server.URL
}

func TestBridgeQueriesAndSpeaks(t *testing.T) {
	device := &fakeDevice{}
	bridge := New(Config{URL: startDevice(t, device), Token: "abc"})
	defer bridge.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	langs, err := bridge.SupportedLanguages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"en-US", "zh-TW"}, langs)

	supported, err := bridge.IsLanguageSupported(ctx, "zh-HK")
	require.NoError(t, err)
	assert.True(t, supported)

	supported, err = bridge.IsLanguageSupported(ctx, "yue-HK")
	require.NoError(t, err)
	assert.False(t, supported)

	req := ports.SpeakRequest{Text: "hello", Lang: "en-US", Rate: 0.8, Pitch: 1, Volume: 1, Category: "ambient"}
	require.NoError(t, bridge.Speak(ctx, req))
	require.NoError(t, bridge.Stop(ctx))

	device.mu.Lock()
	defer device.mu.Unlock()
	assert.Equal(t, "Token abc", device.token)
	require.Len(t, device.speaks, 1)
	assert.Equal(t, req, device.speaks[0])
}

func TestBridgeStopWhileSpeaking(t *testing.T) {
	device := &fakeDevice{hold: make(chan struct{})}
	bridge := New(Config{URL: startDevice(t, device)})
	defer bridge.Close()

	speakDone := make(chan error, 1)
	go func() {
		speakDone <- bridge.Speak(context.Background(), ports.SpeakRequest{Text: "long text", Lang: "en"})
	}()

	require.Eventually(t, func() bool {
		device.mu.Lock()
		defer device.mu.Unlock()
		return len(device.speaks) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bridge.Stop(context.Background()))
	close(device.hold)

	select {
	case err := <-speakDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("speak did not return")
	}
}

func TestBridgeSpeakHonorsContext(t *testing.T) {
	device := &fakeDevice{hold: make(chan struct{})}
	defer close(device.hold)
	bridge := New(Config{URL: startDevice(t, device)})
	defer bridge.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := bridge.Speak(ctx, ports.SpeakRequest{Text: "x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBridgeCloseFailsFurtherCalls(t *testing.T) {
	bridge := New(Config{URL: startDevice(t, &fakeDevice{})})
	_, err := bridge.SupportedLanguages(context.Background())
	require.NoError(t, err)

	require.NoError(t, bridge.Close())
	_, err = bridge.SupportedLanguages(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDeliverAfterDropDoesNotPanic(t *testing.T) {
	bridge := New(Config{URL: "ws://127.0.0.1:1/tts"})
	conn := &websocket.Conn{}

	replies := make(chan response, 1)
	bridge.mu.Lock()
	bridge.conn = conn
	bridge.pending[7] = replies
	bridge.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			bridge.deliver(response{ID: 7})
		}
	}()

	bridge.mu.Lock()
	bridge.conn = nil
	pending := bridge.pending
	bridge.pending = make(map[uint64]chan response)
	bridge.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
	<-done

	assert.NotPanics(t, func() { bridge.deliver(response{ID: 7}) })
}

func TestCloseWhileRepliesArrive(t *testing.T) {
	for i := 0; i < 50; i++ {
		bridge := New(Config{URL: startDevice(t, &fakeDevice{})})

		var wg sync.WaitGroup
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_, err := bridge.IsLanguageSupported(ctx, "zh-HK")
				assert.NotErrorIs(t, err, context.DeadlineExceeded)
			}()
		}
		require.NoError(t, bridge.Close())
		wg.Wait()
	}
}

func TestBridgeRequiresURL(t *testing.T) {
	_, err := New(Config{}).IsLanguageSupported(context.Background(), "en")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "PILL_DEVICE_BRIDGE_URL"))
}

func TestToWebsocketURL(t *testing.T) {
	assert.Equal(t, "ws://phone:8787/tts", toWebsocketURL("http://phone:8787/tts"))
	assert.Equal(t, "wss://phone/tts", toWebsocketURL("https://phone/tts"))
	assert.Equal(t, "ws://phone/tts", toWebsocketURL(" ws://phone/tts "))
}
