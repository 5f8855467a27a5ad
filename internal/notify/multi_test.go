package notify

import (
	"errors"
	"testing"
)

func TestMultiFansOut(t *testing.T) {
	a, b := NewFakePublisher(), NewFakePublisher()
	m := Multi{a, b}

	n := NewNotification(goalEvent())
	if err := m.Publish(n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.PublishProgress(Progress{Steps: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.PublishSystem(SystemEvent{Event: EventStartup}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, f := range []*FakePublisher{a, b} {
		if got := f.Notifications(); len(got) != 1 || got[0].ID != n.ID {
			t.Errorf("publisher %d: same ID must reach every bus, got %+v", i, got)
		}
		if len(f.Progress()) != 1 || len(f.SystemEvents()) != 1 {
			t.Errorf("publisher %d: missing messages", i)
		}
	}

	if err := m.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.Closed() || !b.Closed() {
		t.Error("Close should close every publisher")
	}
}

func TestMultiContinuesPastFailure(t *testing.T) {
	bad, good := NewFakePublisher(), NewFakePublisher()
	boom := errors.New("broker down")
	bad.SetPublishError(boom)

	err := Multi{bad, good}.Publish(NewNotification(goalEvent()))
	if !errors.Is(err, boom) {
		t.Errorf("expected joined error to wrap %v, got %v", boom, err)
	}
	if len(good.Notifications()) != 1 {
		t.Error("healthy publisher should still receive the message")
	}
}

func TestMultiIsConnected(t *testing.T) {
	a, b := NewFakePublisher(), NewFakePublisher()
	m := Multi{a, b}
	if m.IsConnected() {
		t.Error("no publisher connected")
	}
	b.Connected = true
	if !m.IsConnected() {
		t.Error("one connected publisher is enough")
	}
	if (Multi{}).IsConnected() {
		t.Error("empty fan-out is not connected")
	}
}
