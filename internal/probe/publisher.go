package probe

import (
	"encoding/json"
	"log"

	"SiteSpectra/internal/config"
	"SiteSpectra/internal/ingest"

	"github.com/nats-io/nats.go"
)

// Publisher pushes instrumentation events to a NATS subject, for
// deployments where edge collectors forward traffic instead of posting
// to the HTTP endpoint directly.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.NATSConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return &Publisher{nc: nc, subject: cfg.Subject}, nil
}

// Publish serializes one event to JSON and publishes it to the
// configured NATS subject.
func (p *Publisher) Publish(req *ingest.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		log.Println("NATS connection drained and closed.")
	}
}
