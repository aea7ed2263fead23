package config

import "time"

// Environment variables are read with this prefix, e.g. PRINT_BRIDGE_BACKEND_URL.
const EnvPrefix string = "PRINT_BRIDGE"

// File names inside the state directory.
const DefaultStateFileName string = "device-config.json"
const DefaultIdentityFileName string = "device-id"

// The values below are used when the user does not provide a value, or provides one
// that fails validation. ValidateAndEnforceDefaults reports a warning for every
// replaced value.
const DefaultBackendURL = "http://127.0.0.1:5005"
const DefaultControlURL = "ws://127.0.0.1:3000/kds/socket"
const DefaultStateDir = "."

const DefaultRegistrationAttempts = 1000
const DefaultRegistrationDelay = 5 * time.Second

const DefaultReconnectDelay = 10 * time.Second
const DefaultNotRegisteredDelay = 5 * time.Second
const DefaultUnauthorizedDelay = 60 * time.Second

const DefaultHTTPTimeout = 10 * time.Second

const DefaultOpsAddress = ":9090"

// _pdl-datastream._tcp is the DNS-SD service type for raw port 9100 printing.
const DefaultMDNSService = "_pdl-datastream._tcp"

const DefaultReportCronExpr string = "@every 1m"
