package control

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kdsbridge/print-bridge/pkg/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type serverConn struct {
	deviceID string
	hello    Message
	conn     *websocket.Conn
}

func (s *serverConn) send(t *testing.T, raw string) {
	t.Helper()
	require.NoError(t, s.conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

type fakeBackend struct {
	server   *httptest.Server
	conns    chan *serverConn
	rejectN  atomic.Int32
	attempts atomic.Int32
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{conns: make(chan *serverConn, 8)}
	upgrader := websocket.Upgrader{}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.attempts.Add(1)
		if b.rejectN.Load() > 0 {
			b.rejectN.Add(-1)
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var hello Message
		if err := conn.ReadJSON(&hello); err != nil {
			conn.Close()
			return
		}
		b.conns <- &serverConn{deviceID: r.URL.Query().Get("deviceId"), hello: hello, conn: conn}
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBackend) url() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http") + "/kds/socket"
}

func (b *fakeBackend) next(t *testing.T) *serverConn {
	t.Helper()
	select {
	case c := <-b.conns:
		t.Cleanup(func() { c.conn.Close() })
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no control connection")
		return nil
	}
}

type fakeHandler struct {
	mu        sync.Mutex
	applied   [][]config.Printer
	suspended int
	forgotten int
	appliedCh chan []config.Printer
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{appliedCh: make(chan []config.Printer, 8)}
}

func (h *fakeHandler) ApplyConfig(ctx context.Context, printers []config.Printer) {
	h.mu.Lock()
	h.applied = append(h.applied, printers)
	h.mu.Unlock()
	h.appliedCh <- printers
}

func (h *fakeHandler) Suspend(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.suspended++
}

func (h *fakeHandler) Forget() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forgotten++
	return nil
}

func (h *fakeHandler) counts() (applied, suspended, forgotten int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.applied), h.suspended, h.forgotten
}

func testConfig(url string) Config {
	return Config{
		URL:                url,
		DeviceID:           "a1b2c3d4e5f6",
		LocalIP:            func() string { return "10.0.0.5" },
		ReconnectDelay:     50 * time.Millisecond,
		NotRegisteredDelay: 100 * time.Millisecond,
		UnauthorizedDelay:  100 * time.Millisecond,
	}
}

func runChannel(t *testing.T, ch *Channel) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	})
	return cancel, done
}

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestChannel_HelloAndConfigUpdate(t *testing.T) {
	backend := newFakeBackend(t)
	handler := newFakeHandler()
	ch := NewChannel(testConfig(backend.url()), handler, nopLogger())
	require.Equal(t, Disconnected, ch.State())

	runChannel(t, ch)
	sc := backend.next(t)

	require.Equal(t, "a1b2c3d4e5f6", sc.deviceID)
	require.Equal(t, Message{Type: TypeHello, DeviceID: "a1b2c3d4e5f6", IP: "10.0.0.5"}, sc.hello)
	require.Eventually(t, func() bool { return ch.State() == Open }, time.Second, 5*time.Millisecond)

	sc.send(t, `{"type":"config_update","printers":[{"name":"fryer","port":9101}]}`)
	select {
	case printers := <-handler.appliedCh:
		require.Equal(t, []config.Printer{{Name: "fryer", Port: 9101}}, printers)
	case <-time.After(5 * time.Second):
		t.Fatal("config update not applied")
	}
	require.Equal(t, Open, ch.State())
}

func TestChannel_IgnoresUnknownAndInvalidMessages(t *testing.T) {
	backend := newFakeBackend(t)
	handler := newFakeHandler()
	ch := NewChannel(testConfig(backend.url()), handler, nopLogger())

	runChannel(t, ch)
	sc := backend.next(t)

	sc.send(t, `{"type":"mystery","printers":[{"name":"grill","port":9100}]}`)
	sc.send(t, `not json`)
	sc.send(t, `{"type":"config_update","printers":"grill"}`)
	// a marker message proves the ones before it were consumed
	sc.send(t, `{"type":"config_update","printers":[]}`)

	select {
	case printers := <-handler.appliedCh:
		require.Empty(t, printers)
	case <-time.After(5 * time.Second):
		t.Fatal("marker update not applied")
	}

	applied, suspended, forgotten := handler.counts()
	require.Equal(t, 1, applied)
	require.Zero(t, suspended)
	require.Zero(t, forgotten)
	require.Equal(t, Open, ch.State())
	require.Equal(t, int32(1), backend.attempts.Load())
}

func TestChannel_NotRegistered(t *testing.T) {
	backend := newFakeBackend(t)
	handler := newFakeHandler()
	cfg := testConfig(backend.url())
	cfg.NotRegisteredDelay = 200 * time.Millisecond
	cfg.ReconnectDelay = 10 * time.Millisecond
	ch := NewChannel(cfg, handler, nopLogger())

	_, done := runChannel(t, ch)
	sc := backend.next(t)

	start := time.Now()
	sc.send(t, `{"type":"unauthorized","reason":"not_registered"}`)
	require.Eventually(t, func() bool { return ch.State() == Blocked }, time.Second, 5*time.Millisecond)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrReregister)
		require.GreaterOrEqual(t, time.Since(start), cfg.NotRegisteredDelay)
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not hand back for re-registration")
	}

	_, suspended, forgotten := handler.counts()
	require.Equal(t, 1, suspended)
	require.Equal(t, 1, forgotten)
	require.Equal(t, int32(1), backend.attempts.Load(), "no reconnect while blocked")
	require.Equal(t, Disconnected, ch.State())
}

func TestChannel_UnauthorizedKeepsIdentity(t *testing.T) {
	backend := newFakeBackend(t)
	handler := newFakeHandler()
	cfg := testConfig(backend.url())
	cfg.UnauthorizedDelay = 200 * time.Millisecond
	cfg.ReconnectDelay = time.Hour
	ch := NewChannel(cfg, handler, nopLogger())

	runChannel(t, ch)
	first := backend.next(t)

	start := time.Now()
	first.send(t, `{"type":"unauthorized","reason":"throttled"}`)
	require.Eventually(t, func() bool { return ch.State() == Blocked }, time.Second, 5*time.Millisecond)

	second := backend.next(t)
	require.GreaterOrEqual(t, time.Since(start), cfg.UnauthorizedDelay)
	require.Equal(t, first.deviceID, second.deviceID)
	require.Equal(t, "a1b2c3d4e5f6", second.hello.DeviceID)
	require.Eventually(t, func() bool { return ch.State() == Open }, time.Second, 5*time.Millisecond)

	_, suspended, forgotten := handler.counts()
	require.Equal(t, 1, suspended)
	require.Zero(t, forgotten)
}

func TestChannel_ReconnectsIndefinitely(t *testing.T) {
	backend := newFakeBackend(t)
	backend.rejectN.Store(2)
	ch := NewChannel(testConfig(backend.url()), newFakeHandler(), nopLogger())

	runChannel(t, ch)

	for i := 0; i < 3; i++ {
		sc := backend.next(t)
		require.Equal(t, "a1b2c3d4e5f6", sc.deviceID)
		require.NoError(t, sc.conn.Close())
	}
	require.GreaterOrEqual(t, backend.attempts.Load(), int32(5))
}

func TestChannel_StopsOnCancel(t *testing.T) {
	backend := newFakeBackend(t)
	ch := NewChannel(testConfig(backend.url()), newFakeHandler(), nopLogger())

	cancel, done := runChannel(t, ch)
	backend.next(t)
	require.Eventually(t, func() bool { return ch.State() == Open }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not stop")
	}
	require.Equal(t, Disconnected, ch.State())
}

func TestState_String(t *testing.T) {
	require.Equal(t, "open", Open.String())
	require.Equal(t, "blocked", Blocked.String())
	require.Equal(t, "unknown", State(42).String())
}
