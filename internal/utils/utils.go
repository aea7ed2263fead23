package utils

import (
	"context"
	"errors"
	"net"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
)

var ErrNoLocalIP = errors.New("no local IPv4 address found")

// SetupContext returns a context cancelled on SIGTERM or SIGINT.
func SetupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
}

// DetectLocalIP returns the first non-loopback IPv4 address of the host.
func DetectLocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return ipnet.IP.String(), nil
		}
	}
	return "", ErrNoLocalIP
}

// LocalIPFunc adapts DetectLocalIP for callers that only want the address,
// logging failures and reporting an empty string.
func LocalIPFunc(log *zerolog.Logger) func() string {
	return func() string {
		ip, err := DetectLocalIP()
		if err != nil {
			log.Warn().Err(err).Msg("Could not detect local IP")
			return ""
		}
		return ip
	}
}
