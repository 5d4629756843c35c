package dgraphstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/dgo/v240/protos/api"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/applicationaccess/core/internal/apperrors"
	"github.com/applicationaccess/core/internal/events"
	"github.com/applicationaccess/core/internal/persistence"
)

// transactionToMax is the sentinel "+∞" TransactionTo spec.md §3 names for
// the currently-live row of any bitemporal tuple. DGraph's datetime index
// has no real infinity, so a far-future timestamp plays that role.
var transactionToMax = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// row is the JSON shape a TemporalEvent takes on the wire and in DGraph
// query results, grounded on the teacher's PolicyNode
// (internal/policy/persistence.go).
type row struct {
	UID             string    `json:"uid,omitempty"`
	EventID         string    `json:"event_id,omitempty"`
	Kind            string    `json:"kind,omitempty"`
	Action          string    `json:"action,omitempty"`
	OccurredAt      time.Time `json:"occurred_at,omitempty"`
	SequenceNumber  int64     `json:"sequence_number,omitempty"`
	PayloadJSON     string    `json:"payload_json,omitempty"`
	TransactionFrom time.Time `json:"transaction_from,omitempty"`
	TransactionTo   time.Time `json:"transaction_to,omitempty"`
}

func (r row) toTemporalEvent() (events.TemporalEvent, error) {
	id, err := uuid.Parse(r.EventID)
	if err != nil {
		return events.TemporalEvent{}, fmt.Errorf("invalid event_id %q: %w", r.EventID, err)
	}
	kind, err := events.ParseKind(r.Kind)
	if err != nil {
		return events.TemporalEvent{}, err
	}
	payload, err := events.DecodePayload(kind, []byte(r.PayloadJSON))
	if err != nil {
		return events.TemporalEvent{}, err
	}
	return events.TemporalEvent{
		EventID:        id,
		Action:         events.Action(r.Action),
		OccurredTime:   r.OccurredAt,
		SequenceNumber: r.SequenceNumber,
		Payload:        payload,
	}, nil
}

// PersistEvents appends evts as bitemporal rows, preserving order. When
// ignorePreExisting is true, EventIDs already present are looked up first
// and dropped from the batch, making retries and cross-shard copies
// idempotent (spec.md §4.3).
func (s *Store) PersistEvents(ctx context.Context, evts []events.TemporalEvent, ignorePreExisting bool) error {
	if len(evts) == 0 {
		return nil
	}

	toWrite := evts
	if ignorePreExisting {
		existing, err := s.existingEventIDs(ctx, evts)
		if err != nil {
			return err
		}
		toWrite = toWrite[:0]
		for _, e := range evts {
			if _, ok := existing[e.EventID]; !ok {
				toWrite = append(toWrite, e)
			}
		}
		if len(toWrite) == 0 {
			return nil
		}
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	now := time.Now().UTC()
	for i, e := range toWrite {
		payload, err := events.EncodePayload(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload for event %s: %w", e.EventID, err)
		}
		blank := fmt.Sprintf("_:event_%d", i)
		writeEventNQuads(buf, blank, e, string(payload), now)
	}

	var result *multierror.Error
	for attempt := 0; attempt <= 3; attempt++ {
		txn := s.dg.NewTxn()
		_, err := txn.Mutate(ctx, &api.Mutation{SetNquads: buf.Bytes(), CommitNow: true})
		txn.Discard(ctx)
		if err == nil {
			return nil
		}
		result = multierror.Append(result, err)
		s.logger.Warn("persist attempt failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	return apperrors.Wrap(apperrors.KindPersistenceFailure, result.ErrorOrNil(), "failed to persist %d events after retries", len(toWrite))
}

func writeEventNQuads(buf *bytebufferpool.ByteBuffer, blank string, e events.TemporalEvent, payloadJSON string, now time.Time) {
	fmt.Fprintf(buf, "%s <dgraph.type> \"TemporalEvent\" .\n", blank)
	fmt.Fprintf(buf, "%s <event_id> %q .\n", blank, e.EventID.String())
	fmt.Fprintf(buf, "%s <kind> %q .\n", blank, e.Payload.Kind().String())
	fmt.Fprintf(buf, "%s <action> %q .\n", blank, string(e.Action))
	fmt.Fprintf(buf, "%s <occurred_at> \"%s\"^^<xs:dateTime> .\n", blank, e.OccurredTime.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(buf, "%s <sequence_number> \"%d\"^^<xs:int> .\n", blank, e.SequenceNumber)
	fmt.Fprintf(buf, "%s <payload_json> %q .\n", blank, payloadJSON)
	fmt.Fprintf(buf, "%s <transaction_from> \"%s\"^^<xs:dateTime> .\n", blank, now.Format(time.RFC3339Nano))
	fmt.Fprintf(buf, "%s <transaction_to> \"%s\"^^<xs:dateTime> .\n", blank, transactionToMax.Format(time.RFC3339Nano))
}

// existingEventIDs batch-queries which of evts' EventIDs are already
// persisted, grounded on the teacher's GetNodesByNames batch-filter query
// (internal/graph/client.go).
func (s *Store) existingEventIDs(ctx context.Context, evts []events.TemporalEvent) (map[uuid.UUID]struct{}, error) {
	filters := make([]string, 0, len(evts))
	for _, e := range evts {
		filters = append(filters, fmt.Sprintf("eq(event_id, %q)", e.EventID.String()))
	}
	query := fmt.Sprintf(`{
		events(func: type(TemporalEvent)) @filter(%s) {
			event_id
		}
	}`, strings.Join(filters, " OR "))

	resp, err := s.dg.NewReadOnlyTxn().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing events: %w", err)
	}

	var result struct {
		Events []struct {
			EventID string `json:"event_id"`
		} `json:"events"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal existing events: %w", err)
	}

	out := make(map[uuid.UUID]struct{}, len(result.Events))
	for _, e := range result.Events {
		if id, err := uuid.Parse(e.EventID); err == nil {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

// Load returns the bitemporal snapshot at stateTime (nil means now).
func (s *Store) Load(ctx context.Context, stateTime *time.Time) (persistence.AccessManagerState, []events.TemporalEvent, error) {
	cutoff := time.Now().UTC()
	if stateTime != nil {
		if stateTime.Location() != time.UTC {
			return persistence.AccessManagerState{}, nil, apperrors.New(apperrors.KindInvalidParameter, "stateTime must be UTC")
		}
		if stateTime.After(time.Now().UTC()) {
			return persistence.AccessManagerState{}, nil, apperrors.New(apperrors.KindInvalidParameter, "stateTime must not be in the future")
		}
		cutoff = *stateTime
	}

	rows, err := s.queryEventsUpTo(ctx, cutoff)
	if err != nil {
		return persistence.AccessManagerState{}, nil, err
	}
	if len(rows) == 0 {
		return persistence.AccessManagerState{}, nil, apperrors.New(apperrors.KindPersistentStorageEmpty, "no events have been persisted")
	}
	return stateOf(rows), rows, nil
}

func (s *Store) queryEventsUpTo(ctx context.Context, cutoff time.Time) ([]events.TemporalEvent, error) {
	query := `query Events($cutoff: string) {
		events(func: type(TemporalEvent), orderasc: sequence_number) @filter(le(occurred_at, $cutoff)) {
			uid
			event_id
			kind
			action
			occurred_at
			sequence_number
			payload_json
		}
	}`
	resp, err := s.dg.NewReadOnlyTxn().QueryWithVars(ctx, query, map[string]string{"$cutoff": cutoff.Format(time.RFC3339Nano)})
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	var result struct {
		Events []row `json:"events"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal events: %w", err)
	}

	out := make([]events.TemporalEvent, 0, len(result.Events))
	for _, r := range result.Events {
		te, err := r.toTemporalEvent()
		if err != nil {
			return nil, err
		}
		out = append(out, te)
	}
	return out, nil
}

// LoadAt returns the snapshot as of the transaction time of eventID.
func (s *Store) LoadAt(ctx context.Context, eventID uuid.UUID) (persistence.AccessManagerState, []events.TemporalEvent, error) {
	target, err := s.queryOne(ctx, eventID)
	if err != nil {
		return persistence.AccessManagerState{}, nil, err
	}
	return s.Load(ctx, &target.OccurredTime)
}

// GetInitialEvent returns the first event ever persisted.
func (s *Store) GetInitialEvent(ctx context.Context) (events.TemporalEvent, error) {
	query := `{
		events(func: type(TemporalEvent), orderasc: sequence_number, first: 1) {
			uid event_id kind action occurred_at sequence_number payload_json
		}
	}`
	resp, err := s.dg.NewReadOnlyTxn().Query(ctx, query)
	if err != nil {
		return events.TemporalEvent{}, fmt.Errorf("failed to query initial event: %w", err)
	}
	var result struct {
		Events []row `json:"events"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return events.TemporalEvent{}, fmt.Errorf("failed to unmarshal initial event: %w", err)
	}
	if len(result.Events) == 0 {
		return events.TemporalEvent{}, apperrors.New(apperrors.KindPersistentStorageEmpty, "no events have been persisted")
	}
	return result.Events[0].toTemporalEvent()
}

// GetNextEventAfter returns the event immediately following eventID in
// persisted (sequence_number) order.
func (s *Store) GetNextEventAfter(ctx context.Context, eventID uuid.UUID) (events.TemporalEvent, error) {
	current, err := s.queryOne(ctx, eventID)
	if err != nil {
		return events.TemporalEvent{}, err
	}

	query := `query Next($after: string) {
		events(func: type(TemporalEvent), orderasc: sequence_number, first: 1) @filter(gt(sequence_number, $after)) {
			uid event_id kind action occurred_at sequence_number payload_json
		}
	}`
	resp, err := s.dg.NewReadOnlyTxn().QueryWithVars(ctx, query, map[string]string{"$after": fmt.Sprintf("%d", current.SequenceNumber)})
	if err != nil {
		return events.TemporalEvent{}, fmt.Errorf("failed to query next event: %w", err)
	}
	var result struct {
		Events []row `json:"events"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return events.TemporalEvent{}, fmt.Errorf("failed to unmarshal next event: %w", err)
	}
	if len(result.Events) == 0 {
		return events.TemporalEvent{}, apperrors.New(apperrors.KindElementNotFound, "no event after %s", eventID)
	}
	return result.Events[0].toTemporalEvent()
}

// GetEvents returns every event in [fromEventID, toEventID] in persisted
// order. A zero toEventID means "through the newest event".
func (s *Store) GetEvents(ctx context.Context, fromEventID uuid.UUID, toEventID uuid.UUID) ([]events.TemporalEvent, error) {
	from, err := s.queryOne(ctx, fromEventID)
	if err != nil {
		return nil, err
	}

	toSeq := int64(-1)
	if toEventID != uuid.Nil {
		to, err := s.queryOne(ctx, toEventID)
		if err != nil {
			return nil, err
		}
		toSeq = to.SequenceNumber
	}

	query := `query Range($from: string) {
		events(func: type(TemporalEvent), orderasc: sequence_number) @filter(ge(sequence_number, $from)) {
			uid event_id kind action occurred_at sequence_number payload_json
		}
	}`
	resp, err := s.dg.NewReadOnlyTxn().QueryWithVars(ctx, query, map[string]string{"$from": fmt.Sprintf("%d", from.SequenceNumber)})
	if err != nil {
		return nil, fmt.Errorf("failed to query event range: %w", err)
	}
	var result struct {
		Events []row `json:"events"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event range: %w", err)
	}

	out := make([]events.TemporalEvent, 0, len(result.Events))
	for _, r := range result.Events {
		if toSeq >= 0 && r.SequenceNumber > toSeq {
			break
		}
		te, err := r.toTemporalEvent()
		if err != nil {
			return nil, err
		}
		out = append(out, te)
	}
	return out, nil
}

func (s *Store) queryOne(ctx context.Context, eventID uuid.UUID) (events.TemporalEvent, error) {
	query := `query One($id: string) {
		events(func: type(TemporalEvent)) @filter(eq(event_id, $id)) {
			uid event_id kind action occurred_at sequence_number payload_json
		}
	}`
	resp, err := s.dg.NewReadOnlyTxn().QueryWithVars(ctx, query, map[string]string{"$id": eventID.String()})
	if err != nil {
		return events.TemporalEvent{}, fmt.Errorf("failed to query event %s: %w", eventID, err)
	}
	var result struct {
		Events []row `json:"events"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return events.TemporalEvent{}, fmt.Errorf("failed to unmarshal event %s: %w", eventID, err)
	}
	if len(result.Events) == 0 {
		return events.TemporalEvent{}, apperrors.New(apperrors.KindElementNotFound, "no event with id %s", eventID)
	}
	return result.Events[0].toTemporalEvent()
}

func stateOf(evts []events.TemporalEvent) persistence.AccessManagerState {
	if len(evts) == 0 {
		return persistence.AccessManagerState{}
	}
	last := evts[len(evts)-1]
	return persistence.AccessManagerState{
		LastEventID:         last.EventID,
		TransactionTime:     last.OccurredTime,
		TransactionSequence: last.SequenceNumber,
	}
}

var _ persistence.Persister = (*Store)(nil)
