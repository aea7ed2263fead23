package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kdsbridge/print-bridge/internal/control"
	"github.com/kdsbridge/print-bridge/internal/identity"
	"github.com/kdsbridge/print-bridge/internal/kds"
	"github.com/kdsbridge/print-bridge/internal/logger"
	"github.com/kdsbridge/print-bridge/internal/station"
	"github.com/kdsbridge/print-bridge/pkg/config"
	"github.com/rs/zerolog"
)

// Registrar registers the device, retrying as its policy allows.
type Registrar interface {
	Register(ctx context.Context, deviceID, ip string) (kds.Registration, error)
}

type Options struct {
	ControlURL         string
	ReconnectDelay     time.Duration
	NotRegisteredDelay time.Duration
	UnauthorizedDelay  time.Duration
	// PersistUpdates writes every pushed station list to the state file.
	PersistUpdates bool
	// LocalIP reports the address announced at registration and on hello.
	LocalIP func() string
	Dialer  *websocket.Dialer
}

// Agent sequences bootstrap, station listeners and the control channel, and
// starts over when the backend forgets the device.
type Agent struct {
	store     *config.StateStore
	resolver  *identity.Resolver
	registrar Registrar
	stations  *station.Manager
	opts      Options
	log       *zerolog.Logger

	mu       sync.RWMutex
	channel  *control.Channel
	deviceID string
}

func New(store *config.StateStore, resolver *identity.Resolver, registrar Registrar, stations *station.Manager, opts Options, log *zerolog.Logger) *Agent {
	if opts.LocalIP == nil {
		opts.LocalIP = func() string { return "" }
	}
	return &Agent{
		store:     store,
		resolver:  resolver,
		registrar: registrar,
		stations:  stations,
		opts:      opts,
		log:       log,
	}
}

// Run blocks until ctx is done or registration is exhausted. Every station
// listener is closed on return.
func (a *Agent) Run(ctx context.Context) error {
	defer a.stations.StopAll()

	for {
		cfg, err := a.bootstrap(ctx)
		if err != nil {
			return err
		}

		if err := a.stations.Replace(ctx, cfg.Printers, cfg.DeviceID); err != nil {
			a.log.Warn().Err(err).Msg("Some stations could not be started")
		}

		ch := control.NewChannel(control.Config{
			URL:                a.opts.ControlURL,
			DeviceID:           cfg.DeviceID,
			LocalIP:            a.opts.LocalIP,
			ReconnectDelay:     a.opts.ReconnectDelay,
			NotRegisteredDelay: a.opts.NotRegisteredDelay,
			UnauthorizedDelay:  a.opts.UnauthorizedDelay,
			Dialer:             a.opts.Dialer,
		}, a, a.log)
		a.attach(ch, cfg.DeviceID)

		err = ch.Run(ctx)
		if errors.Is(err, control.ErrReregister) {
			a.log.Info().Msg("Restarting bootstrap with a fresh registration")
			continue
		}
		return err
	}
}

// bootstrap loads the persisted config, or registers the device and
// persists the result when there is none.
func (a *Agent) bootstrap(ctx context.Context) (config.AgentConfig, error) {
	cfg, err := a.store.Load()
	if err == nil {
		a.log.Info().
			Str("device_id", cfg.DeviceID).
			Int("stations", len(cfg.Printers)).
			Str("path", a.store.Path()).
			Msg("Loaded persisted device config")
		a.refreshIP(cfg)
		return cfg, nil
	}
	if !errors.Is(err, config.ErrNoState) {
		a.log.Error().Err(err).Str("path", a.store.Path()).Msg("Persisted device config unreadable, registering again")
	}

	id := a.resolver.Resolve()
	ip := a.opts.LocalIP()
	a.log.Info().Str("device_id", id.ID).Str("ip", ip).Msg("Registering device")

	reg, err := a.registrar.Register(ctx, id.ID, ip)
	if err != nil {
		return config.AgentConfig{}, err
	}

	cfg = config.AgentConfig{
		DeviceID:    id.ID,
		IP:          ip,
		PairingCode: reg.PairingCode,
		Printers:    reg.Printers,
	}
	a.store.Set(cfg)
	if err := a.store.Write(); err != nil {
		a.log.Error().Err(err).Msg("Failed to persist device config, the next start registers again")
	}

	logger.LogAuditEvent(logger.AuditDeviceRegistered, id.ID, map[string]interface{}{"ip": ip})
	a.log.Info().Str("pairing_code", reg.PairingCode).Msg("Device registered, enter the pairing code in the KDS")
	return cfg, nil
}

// refreshIP records a changed LAN address in the persisted config.
func (a *Agent) refreshIP(cfg config.AgentConfig) {
	ip := a.opts.LocalIP()
	if ip == "" || ip == cfg.IP {
		return
	}
	a.store.With(config.SetIP(ip))
	if err := a.store.Write(); err != nil {
		a.log.Error().Err(err).Msg("Failed to persist new local IP")
		return
	}
	a.log.Info().Str("old_ip", cfg.IP).Str("ip", ip).Msg("Local IP changed")
}

func (a *Agent) attach(ch *control.Channel, deviceID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.channel = ch
	a.deviceID = deviceID
}

// ApplyConfig replaces the station listeners with printers and records them.
func (a *Agent) ApplyConfig(ctx context.Context, printers []config.Printer) {
	deviceID := a.DeviceID()
	if err := a.stations.Replace(ctx, printers, deviceID); err != nil {
		a.log.Warn().Err(err).Msg("Some stations could not be started")
	}
	logger.LogAuditEvent(logger.AuditStationsReplaced, deviceID, map[string]interface{}{"stations": len(printers)})

	a.store.With(config.SetPrinters(printers))
	if !a.opts.PersistUpdates {
		return
	}
	if err := a.store.Write(); err != nil {
		a.log.Error().Err(err).Msg("Failed to persist station update")
	}
}

// Suspend closes every station listener.
func (a *Agent) Suspend(ctx context.Context) {
	a.stations.StopAll()
}

// Forget deletes the persisted config and the cached device ID.
func (a *Agent) Forget() error {
	err := errors.Join(a.store.Delete(), a.resolver.Invalidate())
	logger.LogAuditEvent(logger.AuditIdentityRevoked, a.DeviceID(), nil)
	return err
}

func (a *Agent) DeviceID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.deviceID
}

// ControlState reports the state of the current control channel.
func (a *Agent) ControlState() control.State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.channel == nil {
		return control.Disconnected
	}
	return a.channel.State()
}

func (a *Agent) Stations() []config.Printer {
	return a.stations.Active()
}
