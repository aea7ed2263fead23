package station

import (
	"context"
	"io"
	"net"

	"github.com/kdsbridge/print-bridge/internal/kds"
	"github.com/kdsbridge/print-bridge/internal/metrics"
	"github.com/rs/zerolog"
)

// OrderSubmitter delivers a completed order to the backend.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, order kds.Order) (string, error)
}

// Forwarder turns one printer connection into one order submission.
type Forwarder struct {
	submitter OrderSubmitter
	log       *zerolog.Logger
}

func NewForwarder(submitter OrderSubmitter, log *zerolog.Logger) *Forwarder {
	return &Forwarder{submitter: submitter, log: log}
}

// Handle buffers everything the peer sends until it closes the connection,
// then submits the buffer as a single order. Failures are logged and the
// order is dropped. The submission is not tied to the listener's lifetime.
func (f *Forwarder) Handle(conn net.Conn, station, deviceID string) {
	defer conn.Close()

	log := f.log.With().Str("station", station).Str("remote", conn.RemoteAddr().String()).Logger()

	content, err := io.ReadAll(conn)
	if err != nil {
		log.Error().Err(err).Int("bytes", len(content)).Msg("Print job read failed, dropping it")
		return
	}
	metrics.OrdersReceived.WithLabelValues(station).Inc()
	log.Info().Int("bytes", len(content)).Msg("Order received")

	order := kds.Order{
		Station:  station,
		DeviceID: deviceID,
		Content:  string(content),
	}
	requestID, err := f.submitter.SubmitOrder(context.Background(), order)
	if err != nil {
		metrics.OrdersForwarded.WithLabelValues(station, metrics.ResultFailure).Inc()
		log.Error().Err(err).Str("request_id", requestID).Msg("Order post failed")
		return
	}
	metrics.OrdersForwarded.WithLabelValues(station, metrics.ResultSuccess).Inc()
	log.Debug().Str("request_id", requestID).Msg("Order forwarded")
}
