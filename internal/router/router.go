// Package router implements the Operation Router (spec.md §4.5, component
// I): it hashes an element to a stable int32, looks up the live shard
// configuration entry covering that hash, and forwards to the named shard
// group's client configuration. It also exposes the Pause/SwitchOn/
// SwitchOff/Resume control surface the Shard Group Splitter/Merger (J)
// drives during a cutover.
package router

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/applicationaccess/core/internal/apperrors"
	"github.com/applicationaccess/core/internal/shardconfig"
)

// controlSubject is the NATS subject every Router instance in the fleet
// subscribes to for pause/resume fan-out during a cutover (spec.md §4.6
// step 4: "the Router" is logically singular but physically replicated).
const controlSubject = "applicationaccess.router.control"

// StableHash computes the int32 hash an element maps into the shard
// configuration's hash range, the way the teacher's ingestion pipeline
// keys NATS subjects off a user ID — here xxhash.Sum64String stands in for
// that per-element stable partition key.
func StableHash(element string) int32 {
	return int32(xxhash.Sum64String(element))
}

// Router is the live routing surface queried on every read and write.
type Router struct {
	shards *shardconfig.Set
	nc     *nats.Conn
	logger *zap.Logger
	paused atomic.Bool
	sub    *nats.Subscription
}

// controlMessage names the control commands ("pause" | "resume"). It is not
// the wire format: broadcast publishes the bare command string as the
// message body, and handleControlMessage matches on that string.
type controlMessage struct {
	Command string `json:"command"` // "pause" | "resume"
}

// New builds a Router over shards. nc may be nil, in which case
// Pause/Resume only affect this process (used in tests and single-node
// deployments); in a fleet, pass a connected *nats.Conn so every replica
// honors the same pause window.
func New(shards *shardconfig.Set, nc *nats.Conn, logger *zap.Logger) (*Router, error) {
	r := &Router{shards: shards, nc: nc, logger: logger}
	if nc != nil {
		sub, err := nc.Subscribe(controlSubject, r.handleControlMessage)
		if err != nil {
			return nil, fmt.Errorf("router: failed to subscribe to control subject: %w", err)
		}
		r.sub = sub
	}
	return r, nil
}

func (r *Router) handleControlMessage(msg *nats.Msg) {
	switch string(msg.Data) {
	case "pause":
		r.paused.Store(true)
	case "resume":
		r.paused.Store(false)
	default:
		if r.logger != nil {
			r.logger.Warn("router: unrecognized control message", zap.ByteString("data", msg.Data))
		}
	}
}

// Close unsubscribes from the control subject. Does not close the
// underlying NATS connection, which the caller owns.
func (r *Router) Close() error {
	if r.sub != nil {
		return r.sub.Unsubscribe()
	}
	return nil
}

// Route resolves the live shard configuration entry that element's
// operation should be forwarded to. Returns ServiceUnavailable while the
// router is paused for a cutover (spec.md §4.6 step 4).
func (r *Router) Route(det shardconfig.DataElementType, op shardconfig.OperationType, element string) (shardconfig.Entry, error) {
	if r.paused.Load() {
		return shardconfig.Entry{}, apperrors.New(apperrors.KindServiceUnavailable, "router is paused for a shard cutover")
	}
	return r.shards.Query(det, op, StableHash(element))
}

// PauseOperations stops this router (and, if NATS-connected, every replica
// in the fleet) from resolving new routes, so the redistributor can drain
// in-flight writes before rewriting the shard configuration (spec.md §4.6
// step 4). Already in-flight calls that captured a route before the pause
// are unaffected; only new Route calls observe it.
func (r *Router) PauseOperations(ctx context.Context) error {
	r.paused.Store(true)
	return r.broadcast(ctx, "pause")
}

// ResumeOperations lifts a prior PauseOperations.
func (r *Router) ResumeOperations(ctx context.Context) error {
	r.paused.Store(false)
	return r.broadcast(ctx, "resume")
}

func (r *Router) broadcast(ctx context.Context, command string) error {
	if r.nc == nil {
		return nil
	}
	if err := r.nc.Publish(controlSubject, []byte(command)); err != nil {
		return fmt.Errorf("router: failed to broadcast %q: %w", command, err)
	}
	return r.nc.FlushWithContext(ctx)
}

// SwitchOn rewires the (det, op) hash range starting at hashRangeStart to
// target, retiring whatever entry previously covered it (spec.md §4.6 step
// 6: the split's target shard group goes live for the range it now owns).
func (r *Router) SwitchOn(det shardconfig.DataElementType, op shardconfig.OperationType, hashRangeStart int32, target []byte, now time.Time) error {
	return r.shards.Update([]shardconfig.Entry{{
		DataElementType:     det,
		OperationType:       op,
		HashRangeStart:      hashRangeStart,
		ClientConfiguration: target,
	}}, true, now)
}

// SwitchOff reverts the (det, op) hash range starting at hashRangeStart
// back to source, the inverse of SwitchOn. The redistribute Controller does
// not call it; a failed split or merge leaves the configuration untouched
// because SwitchOn is its last step.
func (r *Router) SwitchOff(det shardconfig.DataElementType, op shardconfig.OperationType, hashRangeStart int32, source []byte, now time.Time) error {
	return r.shards.Update([]shardconfig.Entry{{
		DataElementType:     det,
		OperationType:       op,
		HashRangeStart:      hashRangeStart,
		ClientConfiguration: source,
	}}, true, now)
}
