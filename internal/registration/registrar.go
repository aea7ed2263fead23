package registration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/kdsbridge/print-bridge/internal/kds"
	"github.com/kdsbridge/print-bridge/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrAttemptsExhausted is returned once every registration attempt failed.
var ErrAttemptsExhausted = errors.New("registration attempts exhausted")

// Registerer performs a single registration call.
type Registerer interface {
	Register(ctx context.Context, deviceID, ip string) (kds.Registration, error)
}

// Registrar retries registration a fixed number of times with a constant
// delay between attempts.
type Registrar struct {
	client   Registerer
	attempts int
	delay    time.Duration
	log      *zerolog.Logger
}

func NewRegistrar(client Registerer, attempts int, delay time.Duration, log *zerolog.Logger) *Registrar {
	if attempts < 1 {
		attempts = 1
	}
	return &Registrar{
		client:   client,
		attempts: attempts,
		delay:    delay,
		log:      log,
	}
}

// Register calls the backend until it succeeds, the attempts run out or ctx
// is cancelled. Exhaustion wraps both ErrAttemptsExhausted and the last error.
func (r *Registrar) Register(ctx context.Context, deviceID, ip string) (kds.Registration, error) {
	attempt := 0
	operation := func() (kds.Registration, error) {
		attempt++
		reg, err := r.client.Register(ctx, deviceID, ip)
		if err != nil {
			metrics.RegistrationFailures.Inc()
			r.log.Error().
				Err(err).
				Int("attempt", attempt).
				Int("attempts", r.attempts).
				Str("device_id", deviceID).
				Msg("Registration failed")
			return kds.Registration{}, err
		}
		return reg, nil
	}

	reg, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(r.delay)),
		backoff.WithMaxTries(uint(r.attempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err == nil {
		r.log.Info().Int("attempt", attempt).Str("device_id", deviceID).Msg("Registration succeeded")
		return reg, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return kds.Registration{}, fmt.Errorf("registration aborted after %d attempts: %w", attempt, ctxErr)
	}
	return kds.Registration{}, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempt, err)
}
