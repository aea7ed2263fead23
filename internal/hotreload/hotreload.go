package hotreload

import (
	"context"
	"fmt"
	"sync"

	"github.com/kdsbridge/print-bridge/internal/logger"
	"github.com/kdsbridge/print-bridge/pkg/config"
	"github.com/rs/zerolog"
)

type ConfigChangeType string

const (
	LogLevelChanged ConfigChangeType = "log_level"
	// RestartRequired covers settings only read at startup.
	RestartRequired ConfigChangeType = "restart_required"
)

type ConfigChange struct {
	Type     ConfigChangeType
	Key      string
	OldValue interface{}
	NewValue interface{}
}

type ConfigChangeCallback func(change ConfigChange) error

// LoadFunc re-reads the settings from their sources.
type LoadFunc func() (*config.Settings, []string, error)

type HotReloadManager struct {
	log             *zerolog.Logger
	current         *config.Settings
	mu              sync.Mutex
	changeCallbacks map[ConfigChangeType][]ConfigChangeCallback
	callbackMu      sync.RWMutex
}

func NewHotReloadManager(current *config.Settings, log *zerolog.Logger) *HotReloadManager {
	manager := &HotReloadManager{
		log:             log,
		current:         current,
		changeCallbacks: make(map[ConfigChangeType][]ConfigChangeCallback),
	}

	manager.RegisterChangeCallback(LogLevelChanged, manager.handleLogLevelChange)
	manager.RegisterChangeCallback(RestartRequired, manager.handleRestartRequired)

	return manager
}

// Run reloads the settings every time events fires until ctx is done.
func (hrm *HotReloadManager) Run(ctx context.Context, events <-chan struct{}, load LoadFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-events:
			next, warnings, err := load()
			if err != nil {
				hrm.log.Error().Err(err).Msg("Failed to reload settings, keeping the current ones")
				continue
			}
			for _, w := range warnings {
				hrm.log.Warn().Msg(w)
			}
			if err := hrm.Reload(next); err != nil {
				hrm.log.Error().Err(err).Msg("Failed to apply settings changes")
			}
		}
	}
}

// Reload diffs next against the current settings and dispatches the changes.
func (hrm *HotReloadManager) Reload(next *config.Settings) error {
	hrm.mu.Lock()
	changes := DiffSettings(hrm.current, next)
	hrm.current = next
	hrm.mu.Unlock()

	if len(changes) == 0 {
		hrm.log.Debug().Msg("Settings file changed without effective changes")
		return nil
	}
	return hrm.ProcessConfigChanges(changes)
}

func (hrm *HotReloadManager) RegisterChangeCallback(changeType ConfigChangeType, callback ConfigChangeCallback) {
	hrm.callbackMu.Lock()
	defer hrm.callbackMu.Unlock()
	hrm.changeCallbacks[changeType] = append(hrm.changeCallbacks[changeType], callback)
}

func (hrm *HotReloadManager) notifyChangeCallbacks(change ConfigChange) []error {
	hrm.callbackMu.RLock()
	defer hrm.callbackMu.RUnlock()

	var errors []error
	for _, callback := range hrm.changeCallbacks[change.Type] {
		if err := callback(change); err != nil {
			errors = append(errors, err)
		}
	}
	return errors
}

func (hrm *HotReloadManager) ProcessConfigChanges(changes []ConfigChange) error {
	hrm.log.Info().Int("change_count", len(changes)).Msg("Processing configuration changes")

	var errors []error
	for _, change := range changes {
		hrm.log.Debug().
			Str("change_type", string(change.Type)).
			Str("key", change.Key).
			Interface("old_value", change.OldValue).
			Interface("new_value", change.NewValue).
			Msg("Processing configuration change")

		errors = append(errors, hrm.notifyChangeCallbacks(change)...)
	}

	if len(errors) > 0 {
		return fmt.Errorf("errors occurred while processing configuration changes: %v", errors)
	}
	return nil
}

func (hrm *HotReloadManager) handleLogLevelChange(change ConfigChange) error {
	newLogLevel, ok := change.NewValue.(string)
	if !ok {
		return fmt.Errorf("invalid log level type: %T", change.NewValue)
	}
	level := logger.SetLevel(newLogLevel)
	hrm.log.Info().Str("new_level", level.String()).Msg("Log level updated successfully")
	return nil
}

func (hrm *HotReloadManager) handleRestartRequired(change ConfigChange) error {
	hrm.log.Warn().
		Str("key", change.Key).
		Interface("new_value", change.NewValue).
		Msg("Setting changed, restart print-bridge to apply it")
	return nil
}

// DiffSettings lists the differences between two settings snapshots.
func DiffSettings(old, next *config.Settings) []ConfigChange {
	if old == nil || next == nil {
		return nil
	}

	var changes []ConfigChange
	if old.Log.Level != next.Log.Level {
		changes = append(changes, ConfigChange{Type: LogLevelChanged, Key: "log.level", OldValue: old.Log.Level, NewValue: next.Log.Level})
	}

	restart := []struct {
		key      string
		old, new interface{}
	}{
		{"backend_url", old.BackendURL, next.BackendURL},
		{"control_url", old.ControlURL, next.ControlURL},
		{"state_dir", old.StateDir, next.StateDir},
		{"bind_address", old.BindAddress, next.BindAddress},
		{"log.json", old.Log.JSON, next.Log.JSON},
		{"log.audit_file", old.Log.AuditFile, next.Log.AuditFile},
		{"registration", old.Registration, next.Registration},
		{"control", old.Control, next.Control},
		{"http.timeout", old.HTTP.Timeout, next.HTTP.Timeout},
		{"state.persist_updates", old.State.PersistUpdates, next.State.PersistUpdates},
		{"identity.hostname_salt", old.Identity.HostnameSalt, next.Identity.HostnameSalt},
		{"ops", old.Ops, next.Ops},
		{"mdns", old.MDNS, next.MDNS},
		{"report.interval", old.Report.Interval, next.Report.Interval},
		{"tls", old.TLS, next.TLS},
	}
	for _, r := range restart {
		if r.old != r.new {
			changes = append(changes, ConfigChange{Type: RestartRequired, Key: r.key, OldValue: r.old, NewValue: r.new})
		}
	}
	return changes
}
