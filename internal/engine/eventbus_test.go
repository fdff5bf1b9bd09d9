package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/seantiz/compatscan/internal/engine"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestEventBusDeliversInOrderToEverySubscriber(t *testing.T) {
	b := engine.NewEventBus(discardLogger())

	var got1, got2 []int
	unsub1 := b.Subscribe(func(ev engine.Event) { got1 = append(got1, ev.Progress) })
	defer unsub1()
	unsub2 := b.Subscribe(func(ev engine.Event) { got2 = append(got2, ev.Progress) })
	defer unsub2()

	for _, p := range []int{20, 50, 65, 80} {
		b.Publish(engine.Event{Kind: engine.EventProgress, JobID: "j1", Progress: p})
	}

	want := []int{20, 50, 65, 80}
	for i, got := range [][]int{got1, got2} {
		if len(got) != len(want) {
			t.Fatalf("subscriber %d got %v, want %v", i+1, got, want)
		}
		for j := range want {
			if got[j] != want[j] {
				t.Errorf("subscriber %d event[%d] = %d, want %d", i+1, j, got[j], want[j])
			}
		}
	}
}

func TestEventBusPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	b := engine.NewEventBus(discardLogger())

	b.Subscribe(func(engine.Event) { panic("subscriber bug") })
	var delivered int
	b.Subscribe(func(engine.Event) { delivered++ })

	b.Publish(engine.Event{Kind: engine.EventDone, JobID: "j1"})
	b.Publish(engine.Event{Kind: engine.EventDone, JobID: "j2"})

	if delivered != 2 {
		t.Errorf("healthy subscriber got %d events, want 2", delivered)
	}
}

func TestEventBusSubscribeJobFilters(t *testing.T) {
	b := engine.NewEventBus(discardLogger())

	var jobs []string
	unsub := b.SubscribeJob("j2", func(ev engine.Event) { jobs = append(jobs, ev.JobID) })
	defer unsub()

	b.Publish(engine.Event{Kind: engine.EventProgress, JobID: "j1"})
	b.Publish(engine.Event{Kind: engine.EventProgress, JobID: "j2"})
	b.Publish(engine.Event{Kind: engine.EventRemoved, JobID: "j3"})

	if len(jobs) != 1 || jobs[0] != "j2" {
		t.Errorf("job subscriber got %v, want [j2]", jobs)
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	b := engine.NewEventBus(discardLogger())

	var n int
	unsub := b.Subscribe(func(engine.Event) { n++ })
	if b.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d, want 1", b.Subscribers())
	}

	b.Publish(engine.Event{Kind: engine.EventDone, JobID: "j1"})
	unsub()
	unsub()
	b.Publish(engine.Event{Kind: engine.EventDone, JobID: "j1"})

	if n != 1 {
		t.Errorf("handler ran %d times, want 1", n)
	}
	if b.Subscribers() != 0 {
		t.Errorf("Subscribers() after unsubscribe = %d, want 0", b.Subscribers())
	}
}

func TestEventBusNoSubscribersLosesEvent(t *testing.T) {
	b := engine.NewEventBus(discardLogger())
	b.Publish(engine.Event{Kind: engine.EventDone, JobID: "j1"})

	ch, unsub := b.Stream("j1")
	defer unsub()

	select {
	case ev := <-ch:
		t.Errorf("late subscriber received %+v, want nothing", ev)
	default:
	}
}

func TestEventBusStreamDropsWhenFull(t *testing.T) {
	b := engine.NewEventBus(discardLogger())
	ch, unsub := b.Stream("j1")
	defer unsub()

	for i := 0; i < 100; i++ {
		b.Publish(engine.Event{Kind: engine.EventProgress, JobID: "j1", Progress: i})
	}

	if len(ch) != 64 {
		t.Errorf("buffered events = %d, want 64", len(ch))
	}
	first := <-ch
	if first.Progress != 0 {
		t.Errorf("first buffered event = %d, want 0", first.Progress)
	}
	if first.At.IsZero() {
		t.Error("Publish did not stamp the event time")
	}
}

func TestCancelToken(t *testing.T) {
	tok := engine.NewCancelToken(context.Background())
	if tok.Cancelled() || tok.Err() != nil {
		t.Fatal("new token is already cancelled")
	}

	if !tok.Cancel("first") {
		t.Error("first Cancel() = false, want true")
	}
	if tok.Cancel("second") {
		t.Error("second Cancel() = true, want false")
	}
	if tok.Reason() != "first" {
		t.Errorf("Reason() = %q, want first", tok.Reason())
	}

	err := tok.Err()
	if !errors.Is(err, engine.ErrCancelled) || !strings.Contains(err.Error(), "first") {
		t.Errorf("Err() = %v, want ErrCancelled with reason", err)
	}

	select {
	case <-tok.Done():
	default:
		t.Error("Done() not closed after Cancel")
	}
	if cause := context.Cause(tok.Context()); !errors.Is(cause, engine.ErrCancelled) {
		t.Errorf("context cause = %v, want ErrCancelled", cause)
	}
}
