package advertise

import (
	"testing"

	"github.com/kdsbridge/print-bridge/pkg/config"
	"github.com/miekg/dns"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testService = "_pdl-datastream._tcp"

func newTestAdvertiser(ip string) *Advertiser {
	log := zerolog.Nop()
	return New(testService, "kitchen-pi", func() string { return ip }, &log)
}

func ptrQuestion() dns.Question {
	return dns.Question{Name: testService + ".local.", Qtype: dns.TypePTR, Qclass: dns.ClassINET}
}

func TestAdvertiser_StationsChanged(t *testing.T) {
	a := newTestAdvertiser("192.168.1.20")

	a.StationsChanged([]config.Printer{{Name: "grill", Port: 9100}, {Name: "fryer", Port: 9101}})
	require.Len(t, a.zone.services, 2, "every station builds a service")

	var instances []string
	for _, rr := range a.Records(ptrQuestion()) {
		if ptr, ok := rr.(*dns.PTR); ok {
			instances = append(instances, ptr.Ptr)
		}
	}
	require.ElementsMatch(t, []string{
		"grill." + testService + ".local.",
		"fryer." + testService + ".local.",
	}, instances)

	srvRecords := a.Records(dns.Question{Name: "grill." + testService + ".local.", Qtype: dns.TypeSRV, Qclass: dns.ClassINET})
	var port uint16
	for _, rr := range srvRecords {
		if srv, ok := rr.(*dns.SRV); ok {
			port = srv.Port
		}
	}
	require.Equal(t, uint16(9100), port)

	a.StationsChanged(nil)
	require.Empty(t, a.Records(ptrQuestion()))
}

func TestAdvertiser_NoLocalIP(t *testing.T) {
	a := newTestAdvertiser("")

	a.StationsChanged([]config.Printer{{Name: "grill", Port: 9100}})
	require.Empty(t, a.Records(ptrQuestion()))
}

func TestHostName(t *testing.T) {
	require.Equal(t, "kitchen-pi.local.", HostName("kitchen-pi"))
	require.Equal(t, "kitchen.example.com.", HostName("kitchen.example.com"))
	require.Equal(t, "kitchen.example.com.", HostName("kitchen.example.com."))
	require.NotEmpty(t, HostName(""))
}

func TestAdvertiser_CloseWithoutStart(t *testing.T) {
	require.NoError(t, newTestAdvertiser("").Close())
}
