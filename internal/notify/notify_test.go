package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"github.com/signalnine/nilmbench/internal/notify"
)

type recorder struct {
	events []notify.Event
	err    error
	closed bool
}

func (r *recorder) Notify(ctx context.Context, e notify.Event) error {
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) Close() error {
	r.closed = true
	return nil
}

func TestMultiFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{err: errors.New("broker down")}
	m := notify.Multi{a, notify.Log{}, b}

	err := m.Notify(context.Background(), notify.Event{Kind: notify.FoldStarted, Device: "kettle", Fold: 2})
	if err == nil {
		t.Error("expected the failing notifier's error")
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected every notifier to receive the event")
	}
	if a.events[0].Time.IsZero() {
		t.Error("expected the event to be timestamped")
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("expected every notifier closed")
	}
}

func TestEventMarshalDropsNaN(t *testing.T) {
	e := notify.Event{Kind: notify.Evaluated, Metrics: map[string]float64{"f1": 0.5, "RETE": math.NaN(), "MAE": math.Inf(1)}}
	data, err := e.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got struct {
		Event   string             `json:"event"`
		Metrics map[string]float64 `json:"metrics"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Event != notify.Evaluated || len(got.Metrics) != 1 || got.Metrics["f1"] != 0.5 {
		t.Errorf("got %s", data)
	}
	if _, ok := e.Metrics["RETE"]; !ok {
		t.Error("Marshal must not modify the caller's metrics")
	}
}

func TestRedisPublish(t *testing.T) {
	url := os.Getenv("NILMBENCH_REDIS_URL")
	if url == "" {
		t.Skip("set NILMBENCH_REDIS_URL to run Redis tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r, err := notify.NewRedis(ctx, url, "nilmbench:test")
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer r.Close()
	if err := r.Notify(ctx, notify.Event{Kind: notify.RunStarted, RunID: "test"}); err != nil {
		t.Errorf("Notify: %v", err)
	}
}

func TestMQTTPublish(t *testing.T) {
	url := os.Getenv("NILMBENCH_MQTT_URL")
	if url == "" {
		t.Skip("set NILMBENCH_MQTT_URL to run MQTT tests")
	}
	m, err := notify.NewMQTT(url, "nilmbench/test")
	if err != nil {
		t.Fatalf("NewMQTT: %v", err)
	}
	defer m.Close()
	if err := m.Notify(context.Background(), notify.Event{Kind: notify.RunStarted, RunID: "test"}); err != nil {
		t.Errorf("Notify: %v", err)
	}
}

func TestNewRedisInvalidURL(t *testing.T) {
	if _, err := notify.NewRedis(context.Background(), "not a url", ""); err == nil {
		t.Error("expected error for invalid url")
	}
}
