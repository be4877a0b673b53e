package probe

import (
	"encoding/json"
	"log"

	"SiteSpectra/internal/config"
	"SiteSpectra/internal/ingest"

	"github.com/nats-io/nats.go"
)

// EventHandler processes one received event request.
type EventHandler func(req *ingest.Request)

// Subscriber consumes events from a NATS subject and hands them to the
// collector's ingestion pipeline. Delivery is at-least-once; the
// ingestion path tolerates replays.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
}

// NewSubscriber creates a new NATS subscriber.
func NewSubscriber(cfg config.NATSConfig) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return &Subscriber{nc: nc, subject: cfg.Subject}, nil
}

// Start subscribes to the configured subject and starts processing
// messages with the provided handler.
func (s *Subscriber) Start(handler EventHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		var req ingest.Request
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Printf("Error unmarshalling event: %v", err)
			return
		}
		handler(&req)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	log.Printf("Subscribed to '%s'. Waiting for events...", s.subject)
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		log.Println("NATS connection closed.")
	}
}
