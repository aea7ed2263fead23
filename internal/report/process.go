package report

import (
	"context"
	"sync"
	"time"

	"github.com/kdsbridge/print-bridge/internal/control"
	"github.com/kdsbridge/print-bridge/internal/metrics"
	"github.com/kdsbridge/print-bridge/pkg/config"
	"github.com/rs/zerolog"
)

const StatusReportProcessName = "status-report"

const defaultCPUSampleInterval = 500 * time.Millisecond

// AgentStatus exposes the agent state a report includes.
type AgentStatus interface {
	DeviceID() string
	ControlState() control.State
	Stations() []config.Printer
}

// StatusProcess samples agent and host status for the scheduler. It never
// talks to the backend; reports go to the log and the metrics gauges.
type StatusProcess struct {
	name           string
	agent          AgentStatus
	storagePath    string
	sampleInterval time.Duration
	log            *zerolog.Logger

	mu        sync.Mutex
	isRunning bool
	last      *StatusReport
}

func NewStatusProcess(agent AgentStatus, storagePath string, log *zerolog.Logger) *StatusProcess {
	return &StatusProcess{
		name:           StatusReportProcessName,
		agent:          agent,
		storagePath:    storagePath,
		sampleInterval: defaultCPUSampleInterval,
		log:            log,
	}
}

func (s *StatusProcess) Execute(ctx context.Context) error {
	if !s.start() {
		s.log.Warn().Msgf("Process %s is already running", s.name)
		return nil
	}
	defer s.stop()

	stations := s.agent.Stations()
	names := make([]string, 0, len(stations))
	for _, st := range stations {
		names = append(names, st.Name)
	}

	req := &StatusReport{
		DeviceID:     s.agent.DeviceID(),
		ControlState: s.agent.ControlState().String(),
		Stations:     names,
		Timestamp:    time.Now().UTC(),
	}
	collectHostStats(ctx, s.sampleInterval, s.storagePath, req)

	metrics.HostCPUPercent.Set(req.CPUPercent)
	metrics.HostMemoryPercent.Set(req.MemoryPercent)

	s.log.Info().
		Str("device_id", req.DeviceID).
		Str("control_state", req.ControlState).
		Strs("stations", req.Stations).
		Float64("cpu_percent", req.CPUPercent).
		Uint64("memory_used_bytes", req.MemoryUsedBytes).
		Uint64("storage_used_bytes", req.StorageUsedBytes).
		Msg("Status report")

	s.mu.Lock()
	s.last = req
	s.mu.Unlock()
	return nil
}

// Last returns the most recent report, if any.
func (s *StatusProcess) Last() (StatusReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return StatusReport{}, false
	}
	return *s.last, true
}

func (s *StatusProcess) start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return false
	}
	s.isRunning = true
	return true
}

func (s *StatusProcess) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isRunning = false
}

func (s *StatusProcess) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// IsComplete is always false; status reporting runs for the process lifetime.
func (s *StatusProcess) IsComplete() bool {
	return false
}

func (s *StatusProcess) Name() string {
	return s.name
}
