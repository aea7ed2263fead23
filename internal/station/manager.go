package station

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/kdsbridge/print-bridge/internal/metrics"
	"github.com/kdsbridge/print-bridge/pkg/config"
	"github.com/rs/zerolog"
)

// acceptRetryDelay is the pause after an accept error that is not a close.
const acceptRetryDelay = 50 * time.Millisecond

// Observer is told the bound station set after every change. It is called
// with the manager locked and must not call back into the manager.
type Observer interface {
	StationsChanged(active []config.Printer)
}

type listener struct {
	printer config.Printer
	ln      net.Listener
	done    chan struct{}
}

// Manager owns the set of station listeners. At most one set is active;
// Replace always tears the previous set down before binding the next one.
type Manager struct {
	mu          sync.Mutex
	listeners   []*listener
	bindAddress string
	forwarder   *Forwarder
	observers   []Observer
	log         *zerolog.Logger
}

type Option func(*Manager)

// WithBindAddress sets the host part listeners bind to. Empty means all
// interfaces.
func WithBindAddress(addr string) Option {
	return func(m *Manager) {
		m.bindAddress = addr
	}
}

func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observers = append(m.observers, o)
	}
}

func NewManager(submitter OrderSubmitter, log *zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		forwarder: NewForwarder(submitter, log),
		log:       log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Replace stops every current listener and binds one per printer. A nil or
// empty list leaves the manager with no listeners. Stations whose port
// cannot be bound are skipped; their errors are joined into the result.
func (m *Manager) Replace(ctx context.Context, printers []config.Printer, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()

	if len(printers) == 0 {
		m.log.Info().Msg("No stations configured")
		m.notifyLocked()
		return nil
	}

	var lc net.ListenConfig
	var errs []error
	for _, p := range printers {
		addr := net.JoinHostPort(m.bindAddress, strconv.Itoa(int(p.Port)))
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			metrics.ListenerBindErrors.WithLabelValues(p.Name).Inc()
			m.log.Error().Err(err).Str("station", p.Name).Uint16("port", p.Port).Msg("Failed to bind station listener, skipping it")
			errs = append(errs, &BindError{Station: p.Name, Port: p.Port, Err: err})
			continue
		}

		l := &listener{printer: p, ln: ln, done: make(chan struct{})}
		m.listeners = append(m.listeners, l)
		go m.serve(l, deviceID)
		m.log.Info().Str("station", p.Name).Uint16("port", p.Port).Msg("Station listening")
	}

	m.notifyLocked()
	return errors.Join(errs...)
}

// StopAll closes every listener and waits for their accept loops to exit.
// Connections already accepted finish on their own.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.listeners) == 0 {
		return
	}
	m.stopLocked()
	m.notifyLocked()
}

// Active returns the stations currently bound, in configuration order.
func (m *Manager) Active() []config.Printer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

func (m *Manager) activeLocked() []config.Printer {
	active := make([]config.Printer, 0, len(m.listeners))
	for _, l := range m.listeners {
		active = append(active, l.printer)
	}
	return active
}

func (m *Manager) stopLocked() {
	for _, l := range m.listeners {
		if err := l.ln.Close(); err != nil {
			m.log.Warn().Err(err).Str("station", l.printer.Name).Msg("Failed to close station listener")
		}
	}
	for _, l := range m.listeners {
		<-l.done
		m.log.Debug().Str("station", l.printer.Name).Uint16("port", l.printer.Port).Msg("Station stopped")
	}
	m.listeners = nil
}

func (m *Manager) notifyLocked() {
	active := m.activeLocked()
	metrics.ActiveStations.Set(float64(len(active)))
	for _, o := range m.observers {
		o.StationsChanged(active)
	}
}

func (m *Manager) serve(l *listener, deviceID string) {
	defer close(l.done)
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			m.log.Warn().Err(err).Str("station", l.printer.Name).Msg("Accept failed")
			time.Sleep(acceptRetryDelay)
			continue
		}
		go m.forwarder.Handle(conn, l.printer.Name, deviceID)
	}
}
