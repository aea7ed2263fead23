package agent

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kdsbridge/print-bridge/internal/control"
	"github.com/kdsbridge/print-bridge/internal/identity"
	"github.com/kdsbridge/print-bridge/internal/kds"
	"github.com/kdsbridge/print-bridge/internal/registration"
	"github.com/kdsbridge/print-bridge/internal/station"
	"github.com/kdsbridge/print-bridge/pkg/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeKDS serves registration, order ingestion and the control socket.
type fakeKDS struct {
	server *httptest.Server

	mu            sync.Mutex
	registrations []string
	registerFail  bool
	printers      []config.Printer

	orders chan kds.Order
	conns  chan *websocket.Conn
	ids    chan string
}

func newFakeKDS(t *testing.T, printers []config.Printer) *fakeKDS {
	t.Helper()
	f := &fakeKDS{
		printers: printers,
		orders:   make(chan kds.Order, 8),
		conns:    make(chan *websocket.Conn, 8),
		ids:      make(chan string, 8),
	}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+kds.RegisterRoute, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			DeviceID string `json:"deviceId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.registrations = append(f.registrations, body.DeviceID)
		fail := f.registerFail
		printers := f.printers
		f.mu.Unlock()

		if fail {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"pairingCode": "ABC123", "printers": printers})
	})
	mux.HandleFunc("POST "+kds.OrderRoute, func(w http.ResponseWriter, r *http.Request) {
		var order kds.Order
		_ = json.NewDecoder(r.Body).Decode(&order)
		f.orders <- order
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/kds/socket", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var hello control.Message
		if err := conn.ReadJSON(&hello); err != nil {
			conn.Close()
			return
		}
		f.ids <- r.URL.Query().Get("deviceId")
		f.conns <- conn
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeKDS) registrationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.registrations)
}

func (f *fakeKDS) nextConn(t *testing.T) (*websocket.Conn, string) {
	t.Helper()
	select {
	case conn := <-f.conns:
		t.Cleanup(func() { conn.Close() })
		return conn, <-f.ids
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not open the control channel")
		return nil, ""
	}
}

func (f *fakeKDS) nextOrder(t *testing.T) kds.Order {
	t.Helper()
	select {
	case o := <-f.orders:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("no order forwarded")
		return kds.Order{}
	}
}

type harness struct {
	agent    *Agent
	store    *config.StateStore
	resolver *identity.Resolver
	kds      *fakeKDS
	cancel   context.CancelFunc
	done     chan error
}

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func freePort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return uint16(port)
}

func dialStation(port uint16) (net.Conn, error) {
	return net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))), time.Second)
}

func newHarness(t *testing.T, backend *fakeKDS, attempts int) *harness {
	t.Helper()
	dir := t.TempDir()
	log := nopLogger()

	client := kds.NewClient(backend.server.URL, time.Second)
	h := &harness{
		store:    config.NewStateStore(filepath.Join(dir, config.DefaultStateFileName)),
		resolver: identity.NewResolver(filepath.Join(dir, config.DefaultIdentityFileName), log, identity.WithHardware(identity.NewMockHardware())),
		kds:      backend,
		done:     make(chan error, 1),
	}
	h.agent = New(
		h.store,
		h.resolver,
		registration.NewRegistrar(client, attempts, 10*time.Millisecond, log),
		station.NewManager(client, log, station.WithBindAddress("127.0.0.1")),
		Options{
			ControlURL:         "ws" + strings.TrimPrefix(backend.server.URL, "http") + "/kds/socket",
			ReconnectDelay:     50 * time.Millisecond,
			NotRegisteredDelay: 300 * time.Millisecond,
			UnauthorizedDelay:  300 * time.Millisecond,
			PersistUpdates:     true,
			LocalIP:            func() string { return "192.168.1.20" },
		},
		log,
	)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.agent.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
		}
	})
}

func TestAgent_RegistersAndForwardsOrders(t *testing.T) {
	grill := config.Printer{Name: "grill", Port: freePort(t)}
	backend := newFakeKDS(t, []config.Printer{grill})
	h := newHarness(t, backend, 3)
	h.start(t)

	_, deviceID := backend.nextConn(t)
	require.Equal(t, identity.Fingerprint(identity.NewMockHardware().MACs, ""), deviceID)

	persisted, err := config.NewStateStore(h.store.Path()).Load()
	require.NoError(t, err)
	require.Equal(t, config.AgentConfig{
		DeviceID:    deviceID,
		IP:          "192.168.1.20",
		PairingCode: "ABC123",
		Printers:    []config.Printer{grill},
	}, persisted)
	require.Equal(t, []config.Printer{grill}, h.agent.Stations())
	require.Eventually(t, func() bool { return h.agent.ControlState() == control.Open }, time.Second, 5*time.Millisecond)

	conn, err := dialStation(grill.Port)
	require.NoError(t, err)
	_, err = conn.Write([]byte("2x burger\n"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Equal(t, kds.Order{Station: "grill", DeviceID: deviceID, Content: "2x burger\n"}, backend.nextOrder(t))
	require.Equal(t, 1, backend.registrationCount())
}

func TestAgent_ConfigUpdateReplacesStations(t *testing.T) {
	grill := config.Printer{Name: "grill", Port: freePort(t)}
	fryer := config.Printer{Name: "fryer", Port: freePort(t)}
	backend := newFakeKDS(t, []config.Printer{grill})
	h := newHarness(t, backend, 3)
	h.start(t)

	ws, _ := backend.nextConn(t)
	require.NoError(t, ws.WriteJSON(control.Message{Type: control.TypeConfigUpdate, Printers: []config.Printer{fryer}}))

	require.Eventually(t, func() bool {
		active := h.agent.Stations()
		return len(active) == 1 && active[0] == fryer
	}, 5*time.Second, 10*time.Millisecond)

	_, err := dialStation(grill.Port)
	require.Error(t, err, "grill port still accepting")

	conn, err := dialStation(fryer.Port)
	require.NoError(t, err)
	_, err = conn.Write([]byte("1x fries\n"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.Equal(t, "fryer", backend.nextOrder(t).Station)

	persisted, err := config.NewStateStore(h.store.Path()).Load()
	require.NoError(t, err)
	require.Equal(t, []config.Printer{fryer}, persisted.Printers)
}

func TestAgent_NotRegisteredTriggersOneFreshRegistration(t *testing.T) {
	grill := config.Printer{Name: "grill", Port: freePort(t)}
	backend := newFakeKDS(t, []config.Printer{grill})
	h := newHarness(t, backend, 3)
	h.start(t)

	ws, firstID := backend.nextConn(t)
	require.Equal(t, 1, backend.registrationCount())
	require.FileExists(t, h.resolver.Path())

	require.NoError(t, ws.WriteJSON(control.Message{Type: control.TypeUnauthorized, Reason: control.ReasonNotRegistered}))

	require.Eventually(t, func() bool {
		_, errState := os.Stat(h.store.Path())
		_, errID := os.Stat(h.resolver.Path())
		return os.IsNotExist(errState) && os.IsNotExist(errID)
	}, 250*time.Millisecond, 5*time.Millisecond, "persisted files not removed before re-registration")
	require.Empty(t, h.agent.Stations())
	require.Equal(t, control.Blocked, h.agent.ControlState())

	_, secondID := backend.nextConn(t)
	require.Equal(t, firstID, secondID, "same hardware derives the same ID")
	require.Equal(t, 2, backend.registrationCount())
	require.FileExists(t, h.store.Path())
	require.FileExists(t, h.resolver.Path())
	require.Equal(t, []config.Printer{grill}, h.agent.Stations())

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 2, backend.registrationCount())
}

func TestAgent_UnauthorizedKeepsPersistedState(t *testing.T) {
	grill := config.Printer{Name: "grill", Port: freePort(t)}
	backend := newFakeKDS(t, []config.Printer{grill})
	h := newHarness(t, backend, 3)
	h.start(t)

	ws, firstID := backend.nextConn(t)
	stateBefore, err := os.ReadFile(h.store.Path())
	require.NoError(t, err)
	idBefore, err := os.ReadFile(h.resolver.Path())
	require.NoError(t, err)

	require.NoError(t, ws.WriteJSON(control.Message{Type: control.TypeUnauthorized, Reason: "throttled"}))
	require.Eventually(t, func() bool { return h.agent.ControlState() == control.Blocked }, time.Second, 5*time.Millisecond)
	require.Empty(t, h.agent.Stations())

	_, secondID := backend.nextConn(t)
	require.Equal(t, firstID, secondID)
	require.Equal(t, 1, backend.registrationCount())

	stateAfter, err := os.ReadFile(h.store.Path())
	require.NoError(t, err)
	idAfter, err := os.ReadFile(h.resolver.Path())
	require.NoError(t, err)
	require.Equal(t, stateBefore, stateAfter)
	require.Equal(t, idBefore, idAfter)
}

func TestAgent_PersistedConfigSkipsRegistration(t *testing.T) {
	grill := config.Printer{Name: "grill", Port: freePort(t)}
	backend := newFakeKDS(t, nil)
	h := newHarness(t, backend, 3)

	h.store.Set(config.AgentConfig{DeviceID: "cafebabe0001", IP: "10.0.0.9", PairingCode: "XYZ", Printers: []config.Printer{grill}})
	require.NoError(t, h.store.Write())
	h.start(t)

	_, deviceID := backend.nextConn(t)
	require.Equal(t, "cafebabe0001", deviceID)
	require.Zero(t, backend.registrationCount())
	require.Equal(t, []config.Printer{grill}, h.agent.Stations())

	persisted, err := config.NewStateStore(h.store.Path()).Load()
	require.NoError(t, err)
	require.Equal(t, "192.168.1.20", persisted.IP, "changed local IP is persisted")
	require.Equal(t, "cafebabe0001", persisted.DeviceID)
}

func TestAgent_RegistrationExhausted(t *testing.T) {
	backend := newFakeKDS(t, nil)
	backend.registerFail = true
	h := newHarness(t, backend, 3)
	h.start(t)

	select {
	case err := <-h.done:
		require.ErrorIs(t, err, registration.ErrAttemptsExhausted)
	case <-time.After(5 * time.Second):
		t.Fatal("agent kept running after registration exhaustion")
	}
	require.Equal(t, 3, backend.registrationCount())
	require.False(t, h.store.Exists())
}

func TestAgent_ShutdownClosesStations(t *testing.T) {
	grill := config.Printer{Name: "grill", Port: freePort(t)}
	backend := newFakeKDS(t, []config.Printer{grill})
	h := newHarness(t, backend, 3)
	h.start(t)
	backend.nextConn(t)

	h.cancel()
	select {
	case err := <-h.done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
	}
	require.Empty(t, h.agent.Stations())
	_, err := dialStation(grill.Port)
	require.Error(t, err)
}
