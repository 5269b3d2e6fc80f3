package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType enumerates the change kinds a channel can be filtered on.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventAll    EventType = "*"
)

// DefaultSchema is applied when a channel does not name a schema.
const DefaultSchema = "public"

const (
	filterOperatorEq = "eq."
	columnID         = "id"
)

var (
	// ErrInvalidFilter indicates a filter expression could not be parsed.
	ErrInvalidFilter = errors.New("realtime: invalid filter")
	// ErrInvalidChannelConfig indicates a channel was configured without a table or with an unknown event.
	ErrInvalidChannelConfig = errors.New("realtime: invalid channel config")
	// ErrUnknownEventType indicates a change event carried an event type other than INSERT, UPDATE or DELETE.
	ErrUnknownEventType = errors.New("realtime: unknown event type")
	// ErrMissingRecordID indicates a change event row did not carry an id column.
	ErrMissingRecordID = errors.New("realtime: missing record id")
)

// ParseEventType normalizes raw input into an EventType. Empty input selects every event.
func ParseEventType(raw string) (EventType, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", string(EventAll):
		return EventAll, nil
	case string(EventInsert):
		return EventInsert, nil
	case string(EventUpdate):
		return EventUpdate, nil
	case string(EventDelete):
		return EventDelete, nil
	default:
		return "", fmt.Errorf("%w: event %q", ErrInvalidChannelConfig, raw)
	}
}

// Filter restricts a channel to rows whose column equals a value.
type Filter struct {
	Column string
	Value  string
}

// ParseFilter parses the `column=eq.value` form. Empty input yields the zero Filter.
func ParseFilter(raw string) (Filter, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Filter{}, nil
	}
	column, expression, found := strings.Cut(trimmed, "=")
	if !found || strings.TrimSpace(column) == "" {
		return Filter{}, fmt.Errorf("%w: %q", ErrInvalidFilter, raw)
	}
	if !strings.HasPrefix(expression, filterOperatorEq) {
		return Filter{}, fmt.Errorf("%w: only eq is supported in %q", ErrInvalidFilter, raw)
	}
	return Filter{Column: strings.TrimSpace(column), Value: strings.TrimPrefix(expression, filterOperatorEq)}, nil
}

// IsZero reports whether the filter is unset.
func (f Filter) IsZero() bool {
	return f.Column == ""
}

func (f Filter) String() string {
	if f.IsZero() {
		return ""
	}
	return f.Column + "=" + filterOperatorEq + f.Value
}

// ChannelConfig scopes a channel to one table's change feed.
type ChannelConfig struct {
	Table  string
	Schema string
	Event  EventType
	Filter Filter
}

func (cfg ChannelConfig) normalized() (ChannelConfig, error) {
	cfg.Table = strings.TrimSpace(cfg.Table)
	if cfg.Table == "" {
		return ChannelConfig{}, fmt.Errorf("%w: table required", ErrInvalidChannelConfig)
	}
	if strings.TrimSpace(cfg.Schema) == "" {
		cfg.Schema = DefaultSchema
	}
	event, err := ParseEventType(string(cfg.Event))
	if err != nil {
		return ChannelConfig{}, err
	}
	cfg.Event = event
	return cfg, nil
}

// Matches reports whether the event falls inside the channel scope.
// The filter is evaluated against the new row, or the old row for deletes.
func (cfg ChannelConfig) Matches(event ChangeEvent) bool {
	if cfg.Table != event.Table {
		return false
	}
	schema := event.Schema
	if schema == "" {
		schema = DefaultSchema
	}
	if cfg.Schema != "" && cfg.Schema != schema {
		return false
	}
	if cfg.Event != "" && cfg.Event != EventAll && cfg.Event != event.EventType {
		return false
	}
	if cfg.Filter.IsZero() {
		return true
	}
	row := event.New
	if event.EventType == EventDelete {
		row = event.Old
	}
	value, ok := columnValue(row, cfg.Filter.Column)
	return ok && value == cfg.Filter.Value
}

// ChangeEvent is the loosely typed payload pushed through a channel.
type ChangeEvent struct {
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	EventType       EventType       `json:"eventType"`
	New             json.RawMessage `json:"new,omitempty"`
	Old             json.RawMessage `json:"old,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// NewChangeEvent marshals the provided rows into a ChangeEvent.
func NewChangeEvent(table string, eventType EventType, newRow, oldRow any, committedAt time.Time) (ChangeEvent, error) {
	event := ChangeEvent{
		Schema:          DefaultSchema,
		Table:           table,
		EventType:       eventType,
		CommitTimestamp: committedAt.UTC(),
	}
	if newRow != nil {
		encoded, err := json.Marshal(newRow)
		if err != nil {
			return ChangeEvent{}, err
		}
		event.New = encoded
	}
	if oldRow != nil {
		encoded, err := json.Marshal(oldRow)
		if err != nil {
			return ChangeEvent{}, err
		}
		event.Old = encoded
	}
	return event, nil
}

// DeltaKind tags a validated Delta.
type DeltaKind string

const (
	DeltaInsert DeltaKind = "insert"
	DeltaUpdate DeltaKind = "update"
	DeltaDelete DeltaKind = "delete"
)

// Delta is a change event validated at the edge: a known kind, a record id, and the row carrying it.
type Delta struct {
	Kind DeltaKind
	ID   string
	Row  json.RawMessage
}

// DecodeDelta validates a ChangeEvent into a Delta.
func DecodeDelta(event ChangeEvent) (Delta, error) {
	var (
		kind DeltaKind
		row  json.RawMessage
	)
	switch event.EventType {
	case EventInsert:
		kind, row = DeltaInsert, event.New
	case EventUpdate:
		kind, row = DeltaUpdate, event.New
	case EventDelete:
		kind, row = DeltaDelete, event.Old
	default:
		return Delta{}, fmt.Errorf("%w: %q", ErrUnknownEventType, event.EventType)
	}
	id, ok := columnValue(row, columnID)
	if !ok && kind == DeltaUpdate {
		id, ok = columnValue(event.Old, columnID)
	}
	if !ok || id == "" {
		return Delta{}, fmt.Errorf("%w: %s on %s", ErrMissingRecordID, event.EventType, event.Table)
	}
	return Delta{Kind: kind, ID: id, Row: row}, nil
}

func columnValue(row json.RawMessage, column string) (string, bool) {
	if len(row) == 0 {
		return "", false
	}
	decoder := json.NewDecoder(bytes.NewReader(row))
	decoder.UseNumber()
	fields := map[string]any{}
	if err := decoder.Decode(&fields); err != nil {
		return "", false
	}
	value, ok := fields[column]
	if !ok || value == nil {
		return "", false
	}
	return fmt.Sprint(value), true
}
