// Package devicebridge drives the platform text-to-speech engine of a companion
// device over a websocket request/response channel.
package devicebridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"pillhelper/internal/ports"
)

var ErrClosed = errors.New("device bridge is closed")

const (
	methodSupportedLanguages = "getSupportedLanguages"
	methodIsSupported        = "isLanguageSupported"
	methodSpeak              = "speak"
	methodStop               = "stop"
)

// Config controls the bridge connection.
type Config struct {
	URL   string
	Token string
}

// Bridge implements ports.DeviceSpeech. The connection is dialed on first use
// and redialed after it drops.
type Bridge struct {
	cfg    Config
	dialer *websocket.Dialer

	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[uint64]chan response
	nextID  uint64
	closed  bool
}

func New(cfg Config) *Bridge {
	cfg.URL = toWebsocketURL(cfg.URL)
	return &Bridge{
		cfg:     cfg,
		dialer:  websocket.DefaultDialer,
		pending: make(map[uint64]chan response),
	}
}

type request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (b *Bridge) SupportedLanguages(ctx context.Context) ([]string, error) {
	var result struct {
		Languages []string `json:"languages"`
	}
	if err := b.call(ctx, methodSupportedLanguages, nil, &result); err != nil {
		return nil, err
	}
	return result.Languages, nil
}

func (b *Bridge) IsLanguageSupported(ctx context.Context, tag string) (bool, error) {
	var result struct {
		Supported bool `json:"supported"`
	}
	if err := b.call(ctx, methodIsSupported, map[string]string{"lang": tag}, &result); err != nil {
		return false, err
	}
	return result.Supported, nil
}

// Speak returns once the device reports the utterance finished.
func (b *Bridge) Speak(ctx context.Context, req ports.SpeakRequest) error {
	return b.call(ctx, methodSpeak, req, nil)
}

func (b *Bridge) Stop(ctx context.Context) error {
	return b.call(ctx, methodStop, nil, nil)
}

// Close drops the connection and fails every pending call.
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.closed = true
	conn := b.conn
	b.mu.Unlock()

	if conn != nil {
		b.drop(conn, ErrClosed)
	}
	return nil
}

func (b *Bridge) call(ctx context.Context, method string, params any, out any) error {
	conn, err := b.connection(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.conn != conn {
		b.mu.Unlock()
		return fmt.Errorf("%s: connection lost", method)
	}
	b.nextID++
	id := b.nextID
	replies := make(chan response, 1)
	b.pending[id] = replies
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	b.writeMu.Lock()
	err = conn.WriteJSON(request{ID: id, Method: method, Params: params})
	b.writeMu.Unlock()
	if err != nil {
		b.drop(conn, err)
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case reply, ok := <-replies:
		if !ok {
			return fmt.Errorf("%s: connection lost", method)
		}
		if reply.Error != "" {
			return fmt.Errorf("%s: %s", method, reply.Error)
		}
		if out == nil || len(reply.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(reply.Result, out); err != nil {
			return fmt.Errorf("%s: invalid result: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) connection(ctx context.Context) (*websocket.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if b.conn != nil {
		return b.conn, nil
	}
	if strings.TrimSpace(b.cfg.URL) == "" {
		return nil, errors.New("PILL_DEVICE_BRIDGE_URL is not configured")
	}

	headers := http.Header{}
	if b.cfg.Token != "" {
		headers.Set("Authorization", "Token "+b.cfg.Token)
	}

	conn, _, err := b.dialer.DialContext(ctx, b.cfg.URL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device bridge: %w", err)
	}
	b.conn = conn
	go b.readLoop(conn)
	return conn, nil
}

func (b *Bridge) readLoop(conn *websocket.Conn) {
	for {
		var reply response
		if err := conn.ReadJSON(&reply); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				continue
			}
			b.drop(conn, err)
			return
		}

		b.deliver(reply)
	}
}

// deliver hands reply to its waiting call. The send happens under b.mu so drop
// cannot close the channel in between.
func (b *Bridge) deliver(reply response) {
	b.mu.Lock()
	defer b.mu.Unlock()

	replies, ok := b.pending[reply.ID]
	if !ok {
		return
	}
	select {
	case replies <- reply:
	default:
	}
}

// drop forgets conn and fails the calls waiting on it.
func (b *Bridge) drop(conn *websocket.Conn, cause error) {
	b.mu.Lock()
	if b.conn != conn {
		b.mu.Unlock()
		return
	}
	b.conn = nil
	pending := b.pending
	b.pending = make(map[uint64]chan response)
	b.mu.Unlock()

	log.Debug().Err(cause).Int("pending", len(pending)).Msg("device bridge connection dropped")

	_ = conn.Close()
	for _, replies := range pending {
		close(replies)
	}
}

func toWebsocketURL(raw string) string {
	base := strings.TrimSpace(raw)
	if strings.HasPrefix(base, "https://") {
		return "wss://" + strings.TrimPrefix(base, "https://")
	}
	if strings.HasPrefix(base, "http://") {
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
