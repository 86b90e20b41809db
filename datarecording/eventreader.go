package datarecording

import (
	"context"
	"fmt"
)

// EventReader reads the events written by an EventRecorder.
type EventReader struct {
	reader DataReader
}

// NewEventReader maps the event table of reader.
func NewEventReader(reader DataReader) *EventReader {
	reader.MapTable(EventTable, Event{})

	return &EventReader{reader: reader}
}

// CountByPosition returns the number of events raised at position.
func (r *EventReader) CountByPosition(
	ctx context.Context,
	position string,
) (int, error) {
	return r.count(ctx, "Position = ?", position)
}

// CountByResult returns the number of events raised at position with the
// given cancel result.
func (r *EventReader) CountByResult(
	ctx context.Context,
	position, result string,
) (int, error) {
	return r.count(ctx, "Position = ? AND Result = ?", position, result)
}

// Recent returns the last n events, oldest first.
func (r *EventReader) Recent(ctx context.Context, n int) ([]Event, error) {
	results, _, err := r.reader.Query(ctx, EventTable,
		QueryParams{OrderBy: "rowid DESC", Limit: n})
	if err != nil {
		return nil, fmt.Errorf("cannot query events: %w", err)
	}

	events := make([]Event, len(results))
	for i, result := range results {
		events[len(results)-1-i] = *result.(*Event)
	}

	return events, nil
}

func (r *EventReader) count(
	ctx context.Context,
	where string,
	args ...any,
) (int, error) {
	_, total, err := r.reader.Query(ctx, EventTable,
		QueryParams{Where: where, Args: args, Limit: 1})
	if err != nil {
		return 0, fmt.Errorf("cannot count events: %w", err)
	}

	return total, nil
}
