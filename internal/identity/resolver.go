package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// IDLength is the number of hex characters kept from the fingerprint hash.
const IDLength = 12

// Resolver produces the device identity and caches it on disk.
type Resolver struct {
	path         string
	hw           HardwareSource
	hostnameSalt bool
	log          *zerolog.Logger
}

type Option func(*Resolver)

// WithHardware replaces the host hardware source.
func WithHardware(hw HardwareSource) Option {
	return func(r *Resolver) {
		r.hw = hw
	}
}

// WithHostnameSalt enables the legacy ID variant that appends the host name
// to the MAC list before hashing.
func WithHostnameSalt(enabled bool) Option {
	return func(r *Resolver) {
		r.hostnameSalt = enabled
	}
}

func NewResolver(path string, log *zerolog.Logger, opts ...Option) *Resolver {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	r := &Resolver{
		path: path,
		hw:   NewSystemHardware(),
		log:  log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Path() string {
	return r.path
}

// Resolve returns the cached identity when the cache file holds one,
// otherwise derives it from the hardware and caches it. It never fails:
// unreadable hardware degrades to the hash of an empty string and a failed
// cache write only costs a recomputation on the next call.
func (r *Resolver) Resolve() DeviceIdentity {
	if data, err := os.ReadFile(r.path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return DeviceIdentity{ID: id}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		r.log.Warn().Err(err).Str("path", r.path).Msg("Failed to read cached device ID, deriving a new one")
	}

	macs, err := r.hw.MACAddresses()
	if err != nil {
		r.log.Warn().Err(err).Msg("Failed to list hardware addresses")
		macs = nil
	}

	var hostname string
	if r.hostnameSalt {
		hostname, err = r.hw.Hostname()
		if err != nil {
			r.log.Warn().Err(err).Msg("Failed to read hostname")
		}
	}

	id := Fingerprint(macs, hostname)
	if err := os.WriteFile(r.path, []byte(id), 0600); err != nil {
		r.log.Warn().Err(err).Str("path", r.path).Msg("Failed to cache device ID")
	} else {
		r.log.Info().Str("device_id", id).Msg("Derived new device ID")
	}

	return DeviceIdentity{ID: id}
}

// Invalidate removes the cached identity. A missing cache is not an error.
func (r *Resolver) Invalidate() error {
	if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Fingerprint hashes the sorted MAC addresses joined with "-" followed by
// hostname, and keeps the first IDLength hex characters.
func Fingerprint(macs []string, hostname string) string {
	sorted := append([]string(nil), macs...)
	sort.Strings(sorted)

	raw := strings.Join(sorted, "-") + hostname
	hash := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(hash[:])[:IDLength]
}
