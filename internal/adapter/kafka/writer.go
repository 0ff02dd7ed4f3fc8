// Package kafka publishes alert change events.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/storm-data-alerts/internal/config"
	"github.com/couchcryptid/storm-data-alerts/internal/domain"
	"github.com/couchcryptid/storm-data-alerts/internal/geo"
	kafkago "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer produces alert change events to a Kafka topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured alerts topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaAlertsTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish writes one message per change in a single WriteMessages call.
// Messages are keyed by external ID so every version of an alert lands on the
// same partition.
func (w *Writer) Publish(ctx context.Context, changes []domain.AlertChange) error {
	if len(changes) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(changes))
	for i := range changes {
		msg, err := serializeToMessage(changes[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d alert changes: %w", len(msgs), err)
	}
	w.logger.Debug("alert changes published", "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// alertMessage is the wire form of an AlertChange. The match geometry is
// repeated as GeoJSON for consumers that map it directly.
type alertMessage struct {
	Change      string        `json:"change"`
	ProcessedAt time.Time     `json:"processed_at"`
	Alert       domain.Alert  `json:"alert"`
	Status      string        `json:"current_status"`
	Area        *geo.Geometry `json:"area,omitempty"`
}

// serializeToMessage marshals an AlertChange into a Kafka message.
func serializeToMessage(c domain.AlertChange) (kafkago.Message, error) {
	m := alertMessage{
		Change:      c.Change,
		ProcessedAt: c.ProcessedAt.UTC(),
		Alert:       c.Alert,
		Status:      string(c.Alert.CurrentStatus(c.ProcessedAt)),
	}
	if ring, ok := c.Alert.Geometry.MatchRing(); ok {
		g := geo.ToGeoJSON(ring)
		m.Area = &g
	}

	data, err := json.Marshal(m)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alert change: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(c.Alert.ExternalID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "change", Value: []byte(c.Change)},
			{Key: "processed_at", Value: []byte(m.ProcessedAt.Format(time.RFC3339))},
		},
	}, nil
}
