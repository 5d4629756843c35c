// Package dgraphstore is the production Temporal Bulk Persister (spec.md
// §4.3, component F): a DGraph-backed, bitemporal append-only event log.
package dgraphstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/dgo/v240"
	"github.com/dgraph-io/dgo/v240/protos/api"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config configures the DGraph connection, grounded on the teacher's
// graph.ClientConfig (internal/graph/client.go).
type Config struct {
	Address        string
	MaxRetries     int
	RetryInterval  time.Duration
	RequestTimeout time.Duration
}

// DefaultConfig mirrors the teacher's connection defaults, bounded per
// spec.md's retry invariant (0 ≤ retryCount ≤ 59, 0 ≤ retryInterval ≤ 120s).
func DefaultConfig() Config {
	return Config{
		Address:        "localhost:9080",
		MaxRetries:     5,
		RetryInterval:  2 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// Store wraps a DGraph client with the schema the event log needs:
// one bitemporal row per TemporalEvent, indexed by EventId and by the
// global (OccurredTime, SequenceNumber) order.
type Store struct {
	conn   *grpc.ClientConn
	dg     *dgo.Dgraph
	cfg    Config
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewStore dials DGraph with retry/backoff and installs the event schema.
func NewStore(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	var conn *grpc.ClientConn
	var err error

	for i := 0; i < cfg.MaxRetries; i++ {
		conn, err = grpc.DialContext(ctx, cfg.Address,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithBlock(),
		)
		if err == nil {
			break
		}
		logger.Warn("failed to connect to DGraph, retrying",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(cfg.RetryInterval)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DGraph after %d attempts: %w", cfg.MaxRetries, err)
	}

	dg := dgo.NewDgraphClient(api.NewDgraphClient(conn))
	s := &Store{conn: conn, dg: dg, cfg: cfg, logger: logger}

	if err := s.initSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize event schema: %w", err)
	}

	logger.Info("dgraphstore connected", zap.String("address", cfg.Address))
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
		type TemporalEvent {
			event_id
			kind
			action
			occurred_at
			sequence_number
			payload_json
			transaction_from
			transaction_to
		}

		event_id: string @index(exact) .
		kind: string @index(exact) .
		action: string @index(exact) .
		occurred_at: datetime @index(hour) .
		sequence_number: int @index(int) .
		payload_json: string .
		transaction_from: datetime @index(hour) .
		transaction_to: datetime @index(hour) .
	`
	return s.dg.Alter(ctx, &api.Operation{Schema: schema})
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
