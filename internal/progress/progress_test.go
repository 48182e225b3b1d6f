package progress

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func drain(t *testing.T, sub *Subscription) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-sub.C:
			if !ok {
				return got
			}
			got = append(got, e)
		case <-timeout:
			t.Fatal("subscription was not closed")
		}
	}
}

func TestHub_DeliversAndClosesOnTerminal(t *testing.T) {
	h := NewHub(8, nil)
	sub, err := h.Subscribe(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	other, _ := h.Subscribe(context.Background(), "s2")
	defer other.Close()

	h.Publish(Event{Kind: Started, SessionID: "s1", Status: StatusConverting})
	h.Publish(Event{Kind: FileProgress, SessionID: "s1", Percent: 45})
	h.Publish(Event{Kind: Completed, SessionID: "s1", Percent: 100, Status: StatusDone})
	h.Publish(Event{Kind: FileProgress, SessionID: "s1", Percent: 99})

	got := drain(t, sub)
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[2].Kind != Completed || got[2].Percent != 100 {
		t.Errorf("last event = %+v", got[2])
	}

	select {
	case e := <-other.C:
		t.Errorf("unrelated session received %+v", e)
	default:
	}
}

func TestHub_DropsForSlowSubscriber(t *testing.T) {
	h := NewHub(2, nil)
	sub, _ := h.Subscribe(context.Background(), "s")
	for i := 0; i < 5; i++ {
		h.Publish(Event{Kind: FileProgress, SessionID: "s", Percent: i})
	}
	if h.Dropped() != 3 {
		t.Errorf("dropped = %d, want 3", h.Dropped())
	}
	sub.Close()
	sub.Close()
	if got := drain(t, sub); len(got) != 2 {
		t.Errorf("buffered events = %d, want 2", len(got))
	}
}

func TestHub_PublishWithoutSubscribers(t *testing.T) {
	h := NewHub(1, nil)
	h.Publish(Event{Kind: Failed, SessionID: "nobody"})
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestHub_ContextCancelDetaches(t *testing.T) {
	h := NewHub(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	sub, _ := h.Subscribe(ctx, "s")
	cancel()
	drain(t, sub)

	h.mu.Lock()
	n := len(h.subs)
	h.mu.Unlock()
	if n != 0 {
		t.Errorf("hub still tracks %d sessions", n)
	}
}

func TestParseFrame(t *testing.T) {
	tests := []struct {
		in      string
		want    Frame
		wantErr bool
	}{
		{`{"progress":45,"filename":"a.png","status":"converting"}`, Frame{Progress: 45, Filename: "a.png", Status: "converting"}, false},
		{`{"progress":100,"filename":"","status":"failed","error":"boom"}`, Frame{Progress: 100, Status: "failed", Error: "boom"}, false},
		{`progress: 72.5%`, Frame{Progress: 72}, false},
		{`{"progress": 30, oops`, Frame{Progress: 30}, false},
		{`garbage`, Frame{}, true},
	}
	for _, tt := range tests {
		got, err := ParseFrame([]byte(tt.in))
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFrame(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFrame(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestFrameFromEvent(t *testing.T) {
	f := FrameFromEvent(Event{Kind: Failed, Percent: 30, Filename: "b.jpg", Status: StatusFailed, Reason: "decode"})
	if f.Progress != 30 || f.Status != "failed" || f.Error != "decode" || !f.Terminal() {
		t.Errorf("frame = %+v", f)
	}
}

func TestRedisBroker(t *testing.T) {
	addr := os.Getenv("IMAGE_CONVERTER_TEST_REDIS")
	if addr == "" {
		t.Skip("IMAGE_CONVERTER_TEST_REDIS not set")
	}
	ctx := context.Background()
	b, err := NewRedisBroker(ctx, RedisConfig{Addr: addr, ChannelPrefix: "test:progress:"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	sub, err := b.Subscribe(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	b.Publish(Event{Kind: Started, SessionID: "r1"})
	b.Publish(Event{Kind: Completed, SessionID: "r1", Percent: 100, Status: StatusDone})

	got := drain(t, sub)
	if len(got) == 0 || got[len(got)-1].Kind != Completed {
		t.Fatalf("got %+v", got)
	}
}

func TestRedisBroker_PublishNeverBlocks(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	// no publish loop runs, so the queue stays full
	b := &RedisBroker{log: log, queue: make(chan Event, 2)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Publish(Event{Kind: Started, SessionID: "q1"})
		b.Publish(Event{Kind: FileProgress, SessionID: "q1", Percent: 45})
		b.Publish(Event{Kind: FileProgress, SessionID: "q1", Percent: 90})
		b.Publish(Event{Kind: Completed, SessionID: "q1", Percent: 100, Status: StatusDone})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}

	first, second := <-b.queue, <-b.queue
	if first.Kind != FileProgress || first.Percent != 45 {
		t.Errorf("oldest event should have been evicted, head = %+v", first)
	}
	if second.Kind != Completed {
		t.Errorf("terminal event missing from queue, got %+v", second)
	}
}
