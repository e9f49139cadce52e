package events

import "testing"

func TestChannelSinkDropsWhenFull(t *testing.T) {
	s := NewChannelSink(2)
	for i := 0; i < 5; i++ {
		s.Publish(Event{Tick: int64(i), Type: RobotMoved})
	}
	if got := len(s.Events()); got != 2 {
		t.Fatalf("buffered = %d, want 2", got)
	}
	ev := <-s.Events()
	if ev.Tick != 0 {
		t.Fatalf("first buffered tick = %d", ev.Tick)
	}
}

func TestFanOut(t *testing.T) {
	var a, b Recorder
	f := NewFanOut(&a)
	f.Add(&b)
	f.Publish(Event{Type: ItemPicked})
	f.Publish(Event{Type: ItemDelivered})
	if a.Count(ItemPicked) != 1 || b.Count(ItemDelivered) != 1 {
		t.Fatalf("fan-out missed a sink: %d %d", len(a.Events), len(b.Events))
	}
	if _, ok := a.Last(ItemDelivered); !ok {
		t.Fatalf("recorder lost delivered event")
	}
}
