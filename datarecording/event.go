package datarecording

import (
	"strconv"
	"time"

	"github.com/rs/xid"

	"github.com/sarchlab/interpose/hook"
	"github.com/sarchlab/interpose/instrumentation/hooking"
)

// EventTable is the table that EventRecorder writes into.
const EventTable = "hook_events"

// Event is one row of the event table.
type Event struct {
	ID        string
	Time      int64
	Position  string
	ContextID string
	Class     string
	Selector  string
	Synthetic bool
	Mode      string
	Result    string
	Detail    string
}

// EventRecorder is a hook that records every event raised by the Managers it
// is attached to.
type EventRecorder struct {
	recorder DataRecorder
	now      func() time.Time
}

// NewEventRecorder creates the event table in recorder and returns a hook
// writing into it.
func NewEventRecorder(recorder DataRecorder) *EventRecorder {
	recorder.CreateTable(EventTable, Event{})

	return &EventRecorder{
		recorder: recorder,
		now:      time.Now,
	}
}

// Func records the event.
func (r *EventRecorder) Func(ctx hooking.HookCtx) {
	r.recorder.InsertData(EventTable, r.eventFrom(ctx))
}

func (r *EventRecorder) eventFrom(ctx hooking.HookCtx) Event {
	e := Event{
		ID:       xid.New().String(),
		Time:     r.now().UnixNano(),
		Position: ctx.Pos.String(),
	}

	switch item := ctx.Item.(type) {
	case hook.ContextInfo:
		e.ContextID = item.ID
		e.Class = item.Class
		e.Selector = item.Selector
		e.Synthetic = item.Synthetic
	case hook.WrapInfo:
		e.Class = item.Class
		e.Synthetic = true
		e.Detail = item.Synthetic
	}

	switch detail := ctx.Detail.(type) {
	case hook.Mode:
		e.Mode = detail.String()
	case hook.CancelResult:
		e.Result = detail.String()
	case bool:
		e.Detail = "restored=" + strconv.FormatBool(detail)
	}

	return e
}

// Flush writes buffered events.
func (r *EventRecorder) Flush() {
	r.recorder.Flush()
}

var _ hooking.Hook = (*EventRecorder)(nil)
