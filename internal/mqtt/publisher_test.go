package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/micro-ha/hive-bridge/internal/entity"
)

type fakeSink struct {
	mu       sync.Mutex
	messages map[string][]byte
	calls    int
	failOn   string
}

func (f *fakeSink) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if topic == f.failOn {
		return errors.New("broker gone")
	}
	if f.messages == nil {
		f.messages = map[string][]byte{}
	}
	f.messages[topic] = payload
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixedViews []entity.View

func (v fixedViews) Views() []entity.View { return v }

func TestPublishAll(t *testing.T) {
	sink := &fakeSink{failOn: "hive/switch.kettle/state"}
	views := fixedViews{
		{EntityID: "climate.living_room", State: "auto", Available: true},
		{EntityID: "switch.kettle", State: "on"},
	}
	p := NewPublisher(sink, views, "hive", nil)

	if published := p.PublishAll(); published != 1 {
		t.Fatalf("expected 1 published view, got %d", published)
	}

	var got entity.View
	if err := json.Unmarshal(sink.messages["hive/climate.living_room/state"], &got); err != nil {
		t.Fatalf("decode published view: %v", err)
	}
	if got.State != "auto" || !got.Available {
		t.Fatalf("unexpected published view %+v", got)
	}
}

func TestNotifyCoalesces(t *testing.T) {
	sink := &fakeSink{}
	p := NewPublisher(sink, fixedViews{{EntityID: "switch.kettle"}}, "hive", nil)

	for i := 0; i < 5; i++ {
		p.Notify()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for sink.count() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for publish, calls=%d", sink.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if calls := sink.count(); calls != 1 {
		t.Fatalf("expected notifications to coalesce into 1 publish, got %d", calls)
	}
}

func TestTopics(t *testing.T) {
	if got := StatusTopic("hive"); got != "hive/status" {
		t.Fatalf("StatusTopic = %q", got)
	}
	if got := StateTopic("hive", "light.lamp"); got != "hive/light.lamp/state" {
		t.Fatalf("StateTopic = %q", got)
	}
}
