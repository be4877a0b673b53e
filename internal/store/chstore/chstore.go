package chstore

import (
	"context"
	"fmt"
	"log"
	"time"

	"SiteSpectra/internal/config"
	"SiteSpectra/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const createEventsTableStatement = `
CREATE TABLE IF NOT EXISTS events (
    Site        String,
    Timestamp   DateTime64(3, 'UTC'),
    AnonId      String,
    SessionId   String,
    Url         String,
    Path        String,
    Referrer    String,
    UserAgent   String,
    Meta        Map(String, String)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Site, Timestamp);
`

// EventStore implements model.EventStore on ClickHouse. Events are an
// append-only MergeTree table; the only read path is the distinct
// session count behind the active-users query.
type EventStore struct {
	conn driver.Conn
}

// New connects to ClickHouse and ensures the events table exists.
func New(cfg config.ClickHouseConfig) (*EventStore, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Exec(context.Background(), createEventsTableStatement); err != nil {
		return nil, fmt.Errorf("failed to create events table: %w", err)
	}
	log.Println("Successfully connected to ClickHouse and ensured events table exists.")

	return &EventStore{conn: conn}, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return conn, nil
}

// Append writes one event.
func (s *EventStore) Append(ctx context.Context, ev *model.Event) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO events")
	if err != nil {
		return fmt.Errorf("%w: failed to prepare event batch: %v", model.ErrTransientStore, err)
	}
	meta := ev.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	if err := batch.Append(ev.Site, ev.Timestamp.UTC(), ev.AnonID, ev.SessionID, ev.URL, ev.Path, ev.Referrer, ev.UserAgent, meta); err != nil {
		return fmt.Errorf("%w: failed to append event to batch: %v", model.ErrTransientStore, err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("%w: failed to send event batch: %v", model.ErrTransientStore, err)
	}
	return nil
}

// ActiveSessions counts distinct session ids for a site in the trailing
// window.
func (s *EventStore) ActiveSessions(ctx context.Context, site string, since time.Time) (int64, error) {
	var count uint64
	row := s.conn.QueryRow(ctx,
		"SELECT uniqExact(SessionId) FROM events WHERE Site = ? AND Timestamp >= ?",
		site, since.UTC())
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: failed to count active sessions: %v", model.ErrTransientStore, err)
	}
	return int64(count), nil
}

// Close shuts down the ClickHouse connection.
func (s *EventStore) Close() error {
	return s.conn.Close()
}
