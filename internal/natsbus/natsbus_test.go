package natsbus

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mtzanidakis/orca/internal/config"
	"github.com/mtzanidakis/orca/internal/events"
	"github.com/mtzanidakis/orca/internal/pool"
)

func newBus(t *testing.T) (*Bus, *Client) {
	t.Helper()
	bus, err := New(config.NATSConfig{Port: -1})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(client.Close)
	return bus, client
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func TestBusStartStop(t *testing.T) {
	bus, _ := newBus(t)
	if bus.ClientURL() == "" {
		t.Fatal("expected non-empty client URL")
	}
}

func TestPublishJSON(t *testing.T) {
	_, client := newBus(t)

	received := make(chan []byte, 1)
	if _, err := client.Subscribe("test.json", func(msg *nats.Msg) {
		received <- msg.Data
	}); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if err := client.PublishJSON("test.json", map[string]string{"key": "value"}); err != nil {
		t.Fatalf("publish json error: %v", err)
	}
	client.Flush()

	if got := string(receive(t, received)); got != `{"key":"value"}` {
		t.Errorf("expected json, got '%s'", got)
	}
}

func TestObservePublishesRunEvents(t *testing.T) {
	_, client := newBus(t)

	received := make(chan []byte, 4)
	if _, err := client.Subscribe(TopicEventsRuns, func(msg *nats.Msg) {
		if msg.Subject != TopicRunEvents("r1") {
			t.Errorf("unexpected subject %s", msg.Subject)
		}
		received <- msg.Data
	}); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	client.Flush()

	var _ events.Observer = client
	emit := client.Observe(events.Run{ID: "r1", Workflow: "demo"})
	emit(events.Event{Type: events.StepStart, Data: events.StepStartData{StepID: "a", Index: 1}})
	emit(events.Event{Type: events.End})
	client.Flush()

	var first RunEvent
	if err := json.Unmarshal(receive(t, received), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.RunID != "r1" || first.Workflow != "demo" || first.Type != events.StepStart {
		t.Errorf("unexpected envelope %+v", first)
	}
	data, ok := first.Data.(map[string]any)
	if !ok || data["stepId"] != "a" {
		t.Errorf("unexpected data %v", first.Data)
	}

	var second RunEvent
	if err := json.Unmarshal(receive(t, received), &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if second.Type != events.End {
		t.Errorf("expected end, got %s", second.Type)
	}
}

func TestPublishHealth(t *testing.T) {
	_, client := newBus(t)

	received := make(chan []byte, 1)
	if _, err := client.Subscribe(TopicEventsHealth, func(msg *nats.Msg) {
		received <- msg.Data
	}); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	client.Flush()

	client.PublishHealth("git", pool.Health{Status: pool.StatusDegraded, LastError: "connection refused"})
	client.Flush()

	var got HealthChange
	if err := json.Unmarshal(receive(t, received), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := HealthChange{Server: "git", Status: pool.StatusDegraded, Error: "connection refused"}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestRunRequestReply(t *testing.T) {
	_, client := newBus(t)

	if _, err := client.ServeRuns(func(workflow string) (string, error) {
		if workflow == "missing" {
			return "", errors.New("workflow not found")
		}
		return "run-" + workflow, nil
	}); err != nil {
		t.Fatalf("serve runs: %v", err)
	}
	client.Flush()

	id, err := client.RequestRun("deploy", 2*time.Second)
	if err != nil {
		t.Fatalf("request run: %v", err)
	}
	if id != "run-deploy" {
		t.Errorf("expected run-deploy, got %s", id)
	}

	if _, err := client.RequestRun("missing", 2*time.Second); err == nil {
		t.Error("expected error for missing workflow")
	}
}

func TestTopicNames(t *testing.T) {
	if got := TopicRunEvents("abc"); got != "events.workflow.abc" {
		t.Errorf("expected events.workflow.abc, got %s", got)
	}
}
