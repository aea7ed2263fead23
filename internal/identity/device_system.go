package identity

import (
	"fmt"
	"net"
	"os"
)

// SystemHardware implements HardwareSource for the running host.
type SystemHardware struct{}

func NewSystemHardware() *SystemHardware {
	return &SystemHardware{}
}

// MACAddresses lists the MAC addresses of all non-loopback interfaces,
// whether they are up or not.
func (d *SystemHardware) MACAddresses() ([]string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	macs := make([]string, 0, len(interfaces))
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		macs = append(macs, iface.HardwareAddr.String())
	}

	return macs, nil
}

func (d *SystemHardware) Hostname() (string, error) {
	name, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("read hostname: %w", err)
	}
	return name, nil
}
