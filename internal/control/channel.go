package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kdsbridge/print-bridge/internal/logger"
	"github.com/kdsbridge/print-bridge/internal/metrics"
	"github.com/kdsbridge/print-bridge/pkg/config"
	"github.com/rs/zerolog"
)

// ErrReregister is returned by Run after a not_registered rejection once the
// persisted identity has been forgotten and the back-off delay has passed.
var ErrReregister = errors.New("device is not registered, registration required")

const writeTimeout = 10 * time.Second

// Handler reacts to what the backend pushes over the channel. Its methods run
// on the channel goroutine, one at a time.
type Handler interface {
	// ApplyConfig replaces the station set. A nil list means no stations.
	ApplyConfig(ctx context.Context, printers []config.Printer)
	// Suspend stops every station listener.
	Suspend(ctx context.Context)
	// Forget deletes the persisted config and cached identity.
	Forget() error
}

type Config struct {
	URL                string
	DeviceID           string
	LocalIP            func() string
	ReconnectDelay     time.Duration
	NotRegisteredDelay time.Duration
	UnauthorizedDelay  time.Duration
	Dialer             *websocket.Dialer
}

// Channel is the persistent control connection to the backend.
type Channel struct {
	cfg     Config
	handler Handler
	log     *zerolog.Logger

	mu    sync.RWMutex
	state State
}

func NewChannel(cfg Config, handler Handler, log *zerolog.Logger) *Channel {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.LocalIP == nil {
		cfg.LocalIP = func() string { return "" }
	}
	l := log.With().Str("device_id", cfg.DeviceID).Logger()
	c := &Channel{cfg: cfg, handler: handler, log: &l}
	c.setState(Disconnected)
	return c
}

func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()

	metrics.SetControlState(s.String(), stateNames...)
	if prev != s {
		c.log.Debug().Str("from", prev.String()).Str("state", s.String()).Msg("Control channel state changed")
	}
}

// Run keeps the channel connected until ctx is done or the backend reports
// the device as not registered. Lost connections are retried indefinitely
// after ReconnectDelay; other rejections pause for UnauthorizedDelay and
// reconnect with the same device ID.
func (c *Channel) Run(ctx context.Context) error {
	target, err := c.endpoint()
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			metrics.ControlReconnects.Inc()
		}

		rejection, err := c.session(ctx, target)
		if ctx.Err() != nil {
			c.setState(Disconnected)
			return ctx.Err()
		}

		if rejection != nil {
			if rejection.Reason == ReasonNotRegistered {
				c.log.Warn().Dur("delay", c.cfg.NotRegisteredDelay).Msg("Device not registered, re-registering after delay")
				if err := sleep(ctx, c.cfg.NotRegisteredDelay); err != nil {
					c.setState(Disconnected)
					return err
				}
				c.setState(Disconnected)
				return ErrReregister
			}

			c.log.Warn().Str("reason", rejection.Reason).Dur("delay", c.cfg.UnauthorizedDelay).Msg("Unauthorized, reconnecting after delay")
			if err := sleep(ctx, c.cfg.UnauthorizedDelay); err != nil {
				c.setState(Disconnected)
				return err
			}
			c.setState(Disconnected)
			continue
		}

		c.setState(Disconnected)
		c.log.Warn().Err(err).Dur("delay", c.cfg.ReconnectDelay).Msg("Control channel disconnected, reconnecting")
		if err := sleep(ctx, c.cfg.ReconnectDelay); err != nil {
			return err
		}
	}
}

// session runs one connection from dial to close. It returns the rejection
// that ended it, if any, otherwise the error that closed it.
func (c *Channel) session(ctx context.Context, target string) (*Rejection, error) {
	c.setState(Connecting)

	conn, _, err := c.cfg.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial control channel: %w", err)
	}
	defer conn.Close()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c.setState(Open)
	c.log.Info().Msg("Control channel connected")

	hello := Message{Type: TypeHello, DeviceID: c.cfg.DeviceID, IP: c.cfg.LocalIP()}
	if err := c.write(conn, hello); err != nil {
		// the read below fails too and drives the reconnect
		c.log.Error().Err(err).Msg("Failed to send hello")
	}

	rejection, err := c.readLoop(ctx, conn)
	if rejection == nil {
		return nil, err
	}

	c.setState(Blocked)
	metrics.ControlRejections.WithLabelValues(rejection.Reason).Inc()
	logger.LogAuditEvent(logger.AuditChannelBlocked, c.cfg.DeviceID, map[string]interface{}{"reason": rejection.Reason})
	c.log.Warn().Str("reason", rejection.Reason).Msg("Backend rejected device, stopping stations")

	c.handler.Suspend(ctx)
	if rejection.Reason == ReasonNotRegistered {
		if err := c.handler.Forget(); err != nil {
			c.log.Error().Err(err).Msg("Failed to delete persisted identity")
		}
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, rejection.Reason)
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
	return rejection, nil
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) (*Rejection, error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Error().Err(err).Msg("Control channel read failed")
			}
			return nil, err
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn().Err(err).Int("bytes", len(data)).Msg("Ignoring invalid control message")
			continue
		}

		switch msg.Type {
		case TypeConfigUpdate:
			c.log.Info().Int("stations", len(msg.Printers)).Msg("Received station config update")
			c.handler.ApplyConfig(ctx, msg.Printers)
		case TypeUnauthorized:
			return &Rejection{Reason: msg.Reason}, nil
		default:
			c.log.Debug().Str("type", msg.Type).Msg("Ignoring unknown control message")
		}
	}
}

func (c *Channel) write(conn *websocket.Conn, msg Message) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

func (c *Channel) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid control URL: %w", err)
	}
	q := u.Query()
	q.Set("deviceId", c.cfg.DeviceID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
