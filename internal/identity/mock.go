package identity

// MockHardware implements HardwareSource for testing.
type MockHardware struct {
	MACs          []string
	HostnameValue string

	MACErr      error
	HostnameErr error
}

// NewMockHardware creates a MockHardware with default values.
func NewMockHardware() *MockHardware {
	return &MockHardware{
		MACs:          []string{"00:11:22:33:44:55", "00:11:22:33:44:56"},
		HostnameValue: "kitchen-pi",
	}
}

func (m *MockHardware) MACAddresses() ([]string, error) {
	if m.MACErr != nil {
		return nil, m.MACErr
	}
	return append([]string(nil), m.MACs...), nil
}

func (m *MockHardware) Hostname() (string, error) {
	if m.HostnameErr != nil {
		return "", m.HostnameErr
	}
	return m.HostnameValue, nil
}
