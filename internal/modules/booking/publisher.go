// README: Publishes booking events to Kafka keyed by booking id.
package booking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"ridebook/internal/modules/matching"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type eventMessage struct {
	BookingID string           `json:"booking_id"`
	RiderID   string           `json:"rider_id"`
	From      Status           `json:"from"`
	To        Status           `json:"to"`
	Driver    *matching.Driver `json:"driver,omitempty"`
	Message   string           `json:"message,omitempty"`
	At        time.Time        `json:"at"`
}

type KafkaPublisher struct {
	writer MessageWriter
	log    *zap.Logger
}

func NewKafkaPublisher(writer MessageWriter, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, log: log}
}

// Listen satisfies Listener. The writer is expected to be asynchronous.
func (p *KafkaPublisher) Listen(ctx context.Context, e Event) {
	payload, err := json.Marshal(eventMessage{
		BookingID: e.Booking.ID.String(),
		RiderID:   e.Booking.RiderID.String(),
		From:      e.From,
		To:        e.To,
		Driver:    e.Booking.Driver,
		Message:   e.Message,
		At:        e.At,
	})
	if err != nil {
		p.log.Error("encode booking event", zap.Error(err))
		return
	}
	err = p.writer.WriteMessages(context.WithoutCancel(ctx), kafka.Message{
		Key:   []byte(e.Booking.ID),
		Value: payload,
	})
	if err != nil {
		p.log.Warn("publish booking event",
			zap.String("booking_id", e.Booking.ID.String()),
			zap.Error(err),
		)
	}
}
