// Package eventbus implements the append-only event log with
// pattern-matched, synchronous fan-out described in the orchestrator
// design (spec §4.2): planner, queen, and worker processes all
// communicate side effects (plan generated, task started, review
// completed) by publishing dotted event types that interested parties
// subscribe to by glob pattern.
package eventbus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	cerrors "github.com/harrison/conductor/internal/errors"
	"github.com/harrison/conductor/internal/logger"
	"github.com/harrison/conductor/internal/models"
)

// noopLogger silently discards everything; used when New is given a nil logger.
type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}

// Callback is a subscriber's event handler. Any error or panic it raises
// is isolated: logged, never propagated to other subscribers or to the
// publisher (spec §4.2 subscribe contract).
type Callback func(event models.Event)

type subscription struct {
	id       string
	pattern  string
	name     string
	callback Callback
}

// Bus is a persistent, pattern-matched pub/sub event log backed by a
// shared *sql.DB (the same database the Store uses).
type Bus struct {
	db  *sql.DB
	log logger.Logger

	mu   sync.Mutex
	subs []subscription
}

// New constructs a Bus over an already-initialized database handle.
// db is typically store.Store.DB() so events share the Store's
// connection pool and transactional guarantees.
func New(db *sql.DB, log logger.Logger) *Bus {
	if log == nil {
		log = noopLogger{}
	}
	return &Bus{db: db, log: log}
}

// Publish persists event (assigning EventID/Timestamp/CorrelationID
// where absent) and then synchronously notifies every subscriber whose
// pattern matches, in subscription order. The subscriber slice is
// snapshotted under the mutex before any callback runs, so a slow or
// panicking subscriber can never block publication order for others or
// hold up the next Publish call.
func (b *Bus) Publish(ctx context.Context, event models.Event) (string, error) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.CorrelationID == "" && event.Payload != nil {
		if taskID, ok := event.Payload["task_id"].(string); ok && taskID != "" {
			event.CorrelationID = models.DefaultCorrelationID(taskID)
		}
	}

	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return "", cerrors.Wrap(cerrors.KindEvent, "eventbus", "publish", err)
	}
	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return "", cerrors.Wrap(cerrors.KindEvent, "eventbus", "publish", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO events (event_id, event_type, timestamp, source_agent, correlation_id, payload, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.EventID, event.EventType, event.Timestamp, event.SourceAgent, event.CorrelationID,
		string(payloadJSON), string(metadataJSON))
	if err != nil {
		return "", cerrors.Wrap(cerrors.KindEvent, "eventbus", "publish", err)
	}

	b.notify(event)
	return event.EventID, nil
}

func (b *Bus) notify(event models.Event) {
	b.mu.Lock()
	matched := make([]subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if matchPattern(sub.pattern, event.EventType) {
			matched = append(matched, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range matched {
		b.invoke(sub, event)
	}
}

func (b *Bus) invoke(sub subscription, event models.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("eventbus subscriber %q (pattern %q) panicked handling %q: %v",
				sub.name, sub.pattern, event.EventType, r)
		}
	}()
	sub.callback(event)
}

// matchPattern implements the two wildcard forms the bus supports:
// "*" matches everything, "x.*" matches any type with prefix "x.",
// anything else must match exactly. No deeper wildcards.
func matchPattern(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(eventType, prefix)
	}
	return pattern == eventType
}

// Subscribe registers callback against pattern and returns a
// subscription id usable with Unsubscribe.
func (b *Bus) Subscribe(pattern, subscriberName string, callback Callback) string {
	id := uuid.NewString()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, name: subscriberName, callback: callback})
	return id
}

// Unsubscribe removes a subscription by id, reporting whether it existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// QueryParams filters GetEvents. Zero-value fields are not applied.
type QueryParams struct {
	EventType     string
	CorrelationID string
	SourceAgent   string
	Since         time.Time
	Limit         int
}

// GetEvents returns events matching the given filters in descending
// timestamp order.
func (b *Bus) GetEvents(ctx context.Context, p QueryParams) ([]models.Event, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 100
	}

	query := "SELECT event_id, event_type, timestamp, source_agent, correlation_id, payload, metadata FROM events WHERE 1=1"
	var args []interface{}
	if p.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, p.EventType)
	}
	if p.CorrelationID != "" {
		query += " AND correlation_id = ?"
		args = append(args, p.CorrelationID)
	}
	if p.SourceAgent != "" {
		query += " AND source_agent = ?"
		args = append(args, p.SourceAgent)
	}
	if !p.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, p.Since)
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	return b.queryEvents(ctx, query, args...)
}

// GetEventHistory returns every event sharing correlationID, in
// non-decreasing timestamp order (the full trace of one workflow).
func (b *Bus) GetEventHistory(ctx context.Context, correlationID string, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return b.queryEvents(ctx, `
		SELECT event_id, event_type, timestamp, source_agent, correlation_id, payload, metadata
		FROM events WHERE correlation_id = ? ORDER BY timestamp ASC LIMIT ?`, correlationID, limit)
}

func (b *Bus) queryEvents(ctx context.Context, query string, args ...interface{}) ([]models.Event, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindEvent, "eventbus", "get_events", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		var sourceAgent, correlationID, payloadJSON, metadataJSON sql.NullString
		if err := rows.Scan(&e.EventID, &e.EventType, &e.Timestamp, &sourceAgent, &correlationID, &payloadJSON, &metadataJSON); err != nil {
			return nil, cerrors.Wrap(cerrors.KindEvent, "eventbus", "get_events", err)
		}
		e.SourceAgent = sourceAgent.String
		e.CorrelationID = correlationID.String
		if payloadJSON.Valid && payloadJSON.String != "" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal event payload: %w", err)
			}
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal event metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ClearOldEvents deletes events older than daysToKeep days and returns
// the number removed.
func (b *Bus) ClearOldEvents(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep <= 0 {
		daysToKeep = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -daysToKeep)
	res, err := b.db.ExecContext(ctx, "DELETE FROM events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, cerrors.Wrap(cerrors.KindEvent, "eventbus", "clear_old_events", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, cerrors.Wrap(cerrors.KindEvent, "eventbus", "clear_old_events", err)
	}
	return n, nil
}
