package skyport

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/go-logr/logr"
)

type published struct {
	topic    string
	value    any
	retained bool
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
}

func (f *fakePublisher) Topic(parts ...string) string {
	return "gohome/skyport/" + strings.Join(parts, "/")
}

func (f *fakePublisher) PublishJSON(topic string, v any, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{topic: topic, value: v, retained: retained})
	return nil
}

func (f *fakePublisher) byTopic() map[string]published {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]published, len(f.messages))
	for _, m := range f.messages {
		out[m.topic] = m
	}
	return out
}

func TestPollPublishesRetainedState(t *testing.T) {
	f := newFakeSkyport(t)
	pub := &fakePublisher{}
	poller, err := NewPoller(newTestClient(t, f, nil), pub, "@every 1m", logr.Discard())
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}

	if err := poller.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	got := pub.byTopic()
	if len(got) != 4 {
		t.Fatalf("expected state and sensors for 2 thermostats, got %d messages", len(got))
	}
	state, ok := got["gohome/skyport/dev-1/state"]
	if !ok || !state.retained {
		t.Fatalf("state not published retained: %+v", state)
	}
	if data, _ := state.value.(DeviceData); data["tempIndoor"] != 21.5 {
		t.Fatalf("state = %v", state.value)
	}
	sensors, _ := got["gohome/skyport/dev-2/sensors"].value.([]Sensor)
	if len(sensors) != 1 || sensors[0].Key != "tempIndoor" {
		t.Fatalf("sensors = %+v", sensors)
	}
}

func TestNewPollerRejectsBadSchedule(t *testing.T) {
	f := newFakeSkyport(t)
	if _, err := NewPoller(newTestClient(t, f, nil), &fakePublisher{}, "every minute", logr.Discard()); err == nil {
		t.Fatalf("expected schedule error")
	}
}
