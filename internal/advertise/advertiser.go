package advertise

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/mdns"
	"github.com/kdsbridge/print-bridge/pkg/config"
	"github.com/miekg/dns"
	"github.com/rs/zerolog"
)

// domain must be fully qualified for mdns.NewMDNSService.
const domain = "local."

type stationZone struct {
	mu       sync.RWMutex
	services []*mdns.MDNSService
}

func (z *stationZone) SetServices(services []*mdns.MDNSService) {
	z.mu.Lock()
	z.services = services
	z.mu.Unlock()
}

func (z *stationZone) Records(q dns.Question) []dns.RR {
	z.mu.RLock()
	services := append([]*mdns.MDNSService(nil), z.services...)
	z.mu.RUnlock()

	var out []dns.RR
	for _, svc := range services {
		out = append(out, svc.Records(q)...)
	}
	return out
}

// Advertiser publishes every bound station over mDNS. It is best effort:
// failures are logged and never affect the listeners.
type Advertiser struct {
	service  string
	hostName string
	localIP  func() string
	log      *zerolog.Logger

	zone   *stationZone
	mu     sync.Mutex
	server *mdns.Server
}

func New(service, hostName string, localIP func() string, log *zerolog.Logger) *Advertiser {
	return &Advertiser{
		service:  service,
		hostName: HostName(hostName),
		localIP:  localIP,
		log:      log,
		zone:     &stationZone{},
	}
}

// Start begins answering mDNS queries for the current zone.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return nil
	}
	srv, err := mdns.NewServer(&mdns.Config{Zone: a.zone, LogEmptyResponses: false})
	if err != nil {
		return fmt.Errorf("start mDNS responder: %w", err)
	}
	a.server = srv
	a.log.Info().Str("service", a.service).Str("host", a.hostName).Msg("Advertising stations over mDNS")
	return nil
}

func (a *Advertiser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return nil
	}
	err := a.server.Shutdown()
	a.server = nil
	return err
}

// StationsChanged swaps the advertised services for the given stations.
func (a *Advertiser) StationsChanged(active []config.Printer) {
	if len(active) == 0 {
		a.zone.SetServices(nil)
		return
	}

	ip := net.ParseIP(a.localIP())
	if ip == nil {
		a.log.Warn().Msg("No local IP to advertise stations with")
		a.zone.SetServices(nil)
		return
	}

	services := make([]*mdns.MDNSService, 0, len(active))
	for _, p := range active {
		txt := []string{"station=" + p.Name}
		svc, err := mdns.NewMDNSService(p.Name, a.service, domain, a.hostName, int(p.Port), []net.IP{ip}, txt)
		if err != nil {
			a.log.Warn().Err(err).Str("station", p.Name).Msg("Failed to build mDNS service")
			continue
		}
		services = append(services, svc)
	}
	a.zone.SetServices(services)
	a.log.Debug().Int("stations", len(services)).Msg("mDNS zone updated")
}

// Records answers q from the current zone.
func (a *Advertiser) Records(q dns.Question) []dns.RR {
	return a.zone.Records(q)
}

// HostName returns a fully qualified mDNS host name. An empty name falls back
// to the OS host name.
func HostName(name string) string {
	host := strings.TrimSpace(name)
	if host == "" {
		host, _ = os.Hostname()
	}
	if host == "" {
		return ""
	}
	if strings.Contains(host, ".") {
		if !strings.HasSuffix(host, ".") {
			host += "."
		}
		return host
	}
	return host + "." + domain
}
