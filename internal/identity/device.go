package identity

// DeviceIdentity is the stable identifier the backend knows this device by.
type DeviceIdentity struct {
	ID string
}

// HardwareSource provides the host identifiers the device ID is derived from.
type HardwareSource interface {
	// MACAddresses returns the hardware addresses of every non-loopback
	// interface that has one. Order is not significant.
	MACAddresses() ([]string, error)

	// Hostname returns the host name. Only used by the legacy ID variant.
	Hostname() (string, error)
}
