// Package events defines the simulation's outbound event stream. The world
// publishes to an injected Sink; nothing in the simulation owns a global
// bus, so tests and transports each wire their own.
package events

// Type names one kind of simulation event.
type Type string

const (
	RobotAdded   Type = "robot_added"
	RobotEdited  Type = "robot_edited"
	RobotDeleted Type = "robot_deleted"
	RobotMoved   Type = "robot_moved"
	RobotStuck   Type = "robot_stuck"

	ItemAdded     Type = "item_added"
	ItemEdited    Type = "item_edited"
	ItemDeleted   Type = "item_deleted"
	ItemAssigned  Type = "item_assigned"
	ItemPicked    Type = "item_picked"
	ItemDelivered Type = "item_delivered"
	ItemReleased  Type = "item_released"

	ObstacleAdded        Type = "obstacle_added"
	ObstacleRemoved      Type = "obstacle_removed"
	ObstacleExpired      Type = "obstacle_expired"
	ObstacleReclassified Type = "obstacle_reclassified"
	KnowledgeShared      Type = "knowledge_shared"

	GridResized  Type = "grid_resized"
	DropPointSet Type = "drop_point_set"

	StallTierEntered Type = "stall_tier_entered"
	StallResolved    Type = "stall_resolved"

	RunStarted   Type = "run_started"
	RunPaused    Type = "run_paused"
	RunReset     Type = "run_reset"
	RunCompleted Type = "run_completed"
	RunAborted   Type = "run_aborted"
)

// Event is one simulation occurrence. Payload keys are event-specific and
// JSON-friendly (strings, numbers, positions).
type Event struct {
	Tick    int64          `json:"tick"`
	Type    Type           `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Sink receives events as they happen. Publish is called from the tick loop
// and must not block.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// ChannelSink buffers events on a channel, dropping when full so the tick
// loop never blocks on a slow consumer.
type ChannelSink struct {
	ch chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, buffer)}
}

func (s *ChannelSink) Publish(ev Event) {
	select {
	case s.ch <- ev:
	default:
	}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event { return s.ch }

// FanOut publishes every event to each of its sinks in order.
type FanOut struct {
	sinks []Sink
}

func NewFanOut(sinks ...Sink) *FanOut { return &FanOut{sinks: sinks} }

func (f *FanOut) Add(s Sink) { f.sinks = append(f.sinks, s) }

func (f *FanOut) Publish(ev Event) {
	for _, s := range f.sinks {
		s.Publish(ev)
	}
}

// Recorder keeps every published event, for tests.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Publish(ev Event) { r.Events = append(r.Events, ev) }

// Count returns how many recorded events have the given type.
func (r *Recorder) Count(t Type) int {
	n := 0
	for _, ev := range r.Events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// Last returns the most recent event of the given type.
func (r *Recorder) Last(t Type) (Event, bool) {
	for i := len(r.Events) - 1; i >= 0; i-- {
		if r.Events[i].Type == t {
			return r.Events[i], true
		}
	}
	return Event{}, false
}
