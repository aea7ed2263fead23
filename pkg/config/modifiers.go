package config

func SetPrinters(printers []Printer) func(*AgentConfig) {
	return func(cfg *AgentConfig) {
		if printers == nil {
			cfg.Printers = nil
			return
		}
		cfg.Printers = append(make([]Printer, 0, len(printers)), printers...)
	}
}

func SetIP(ip string) func(*AgentConfig) {
	return func(cfg *AgentConfig) {
		cfg.IP = ip
	}
}
