package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantpulse/newsstack/internal/logging"
	"github.com/quantpulse/newsstack/internal/news"
)

const benzingaStreamURL = "wss://api.benzinga.com/api/v1/news/stream"

// streamBufferCap bounds the in-memory buffer between the reader goroutine
// and the poll cycle that drains it. When full, the oldest message is evicted
// and a drop counter increments: staleness beats stalling the reader.
const streamBufferCap = 500

// Reconnect backoff bounds.
const (
	reconnectMinDelay = time.Second
	reconnectMaxDelay = 60 * time.Second
)

// StreamStatus is the observable connection state of a stream adapter.
type StreamStatus struct {
	Connected  bool
	LastMsgAt  time.Time
	LastError  string
	Reconnects int
	Dropped    int
}

// BenzingaStream reads the Benzinga WebSocket news feed on its own
// goroutine, buffering normalized items until the next poll cycle drains
// them. A connection failure triggers reconnect with exponential backoff; the
// adapter never dies silently - Status always reflects the connection state.
type BenzingaStream struct {
	name   string
	apiKey string
	dialer *websocket.Dialer

	mu     sync.Mutex
	buf    []news.Item
	status StreamStatus

	started bool
	wg      sync.WaitGroup
}

// NewBenzingaStream creates the streaming adapter. Fails fast without an API
// key; Start must be called before items flow.
func NewBenzingaStream(apiKey string) (*BenzingaStream, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("benzinga_ws: %w", ErrMissingAPIKey)
	}
	return &BenzingaStream{
		name:   "benzinga_ws",
		apiKey: apiKey,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

func (s *BenzingaStream) Name() string {
	return s.name
}

// Start launches the reader goroutine. Cancel the context to stop; Wait
// blocks until the goroutine exits.
func (s *BenzingaStream) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(ctx)
	}()
}

// Wait blocks until the reader goroutine exits. Call after cancelling the
// context passed to Start.
func (s *BenzingaStream) Wait() {
	s.wg.Wait()
}

// Fetch drains the buffered items, satisfying the Provider interface so the
// orchestrator treats pushed messages like any other per-cycle batch.
func (s *BenzingaStream) Fetch(ctx context.Context) ([]news.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 {
		// Zero items is the normal quiet-market case; only surface an
		// error when the connection is down, so the orchestrator can log
		// the disconnect without aborting anything else.
		if !s.status.Connected && s.status.LastError != "" {
			return nil, fmt.Errorf("%s: disconnected: %s", s.name, s.status.LastError)
		}
		return nil, nil
	}

	items := s.buf
	s.buf = nil
	return items, nil
}

// Status returns a snapshot of the connection state.
func (s *BenzingaStream) Status() StreamStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *BenzingaStream) readLoop(ctx context.Context) {
	delay := reconnectMinDelay
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dial(ctx)
		if err != nil {
			s.setError(fmt.Sprintf("dial: %v", err))
			if !sleepCtx(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}

		s.setConnected(true)
		delay = reconnectMinDelay
		logging.Info("stream connected", "provider", s.name)

		err = s.readMessages(ctx, conn)
		conn.Close()
		s.setConnected(false)

		if ctx.Err() != nil {
			return
		}
		s.setError(fmt.Sprintf("read: %v", err))
		s.incReconnects()
		logging.Warn("stream disconnected, reconnecting", "provider", s.name, "error", err, "delay", delay)

		if !sleepCtx(ctx, delay) {
			return
		}
		delay = nextDelay(delay)
	}
}

func (s *BenzingaStream) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := s.dialer.DialContext(ctx, benzingaStreamURL+"?token="+s.apiKey, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func (s *BenzingaStream) readMessages(ctx context.Context, conn *websocket.Conn) error {
	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			logging.Warn("unparseable stream message", "provider", s.name, "error", err)
			continue
		}

		s.push(news.NormalizeBenzingaWS(raw))
	}
}

func (s *BenzingaStream) push(item news.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) >= streamBufferCap {
		s.buf = s.buf[1:]
		s.status.Dropped++
	}
	s.buf = append(s.buf, item)
	s.status.LastMsgAt = time.Now()
}

func (s *BenzingaStream) setConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Connected = connected
	if connected {
		s.status.LastError = ""
	}
}

func (s *BenzingaStream) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastError = msg
}

func (s *BenzingaStream) incReconnects() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Reconnects++
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > reconnectMaxDelay {
		return reconnectMaxDelay
	}
	return d
}

// sleepCtx sleeps for d, returning false if the context was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
