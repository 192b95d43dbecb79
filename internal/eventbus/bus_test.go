package eventbus

import "testing"

func TestSubscribeFilter(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	only, unsubOnly := b.Subscribe(4, "birthday.announced")
	defer unsubOnly()

	b.Publish(Event{Type: "birthday.added"})
	b.Publish(Event{Type: "birthday.announced"})

	if got := len(all); got != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", got)
	}
	if got := len(only); got != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", got)
	}
	if e := <-only; e.Type != "birthday.announced" || e.Time.IsZero() {
		t.Fatalf("filtered event = %+v", e)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: "x"})
	}
	if len(ch) != 1 {
		t.Fatalf("buffer holds %d events, want 1", len(ch))
	}
	unsub()
	unsub()
	b.Publish(Event{Type: "x"})
}
