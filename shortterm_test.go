package recall

import "testing"

func TestShortTermBufferFIFO(t *testing.T) {
	b := NewShortTermBuffer(3)
	for _, text := range []string{"one", "two", "three", "four"} {
		b.Add("u1", text, []float32{1, 0, 0})
	}

	if got := b.Len("u1"); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}
	recent := b.Recent("u1", 0)
	want := []string{"two", "three", "four"}
	for i, w := range want {
		if recent[i].Text != w {
			t.Errorf("recent[%d] = %q, want %q", i, recent[i].Text, w)
		}
	}
}

func TestShortTermBufferRecentN(t *testing.T) {
	b := NewShortTermBuffer(10)
	for _, text := range []string{"a", "b", "c"} {
		b.Add("u1", text, nil)
	}

	recent := b.Recent("u1", 2)
	if len(recent) != 2 {
		t.Fatalf("got %d entries, want 2", len(recent))
	}
	if recent[0].Text != "b" || recent[1].Text != "c" {
		t.Errorf("recent = [%q %q], want [b c]", recent[0].Text, recent[1].Text)
	}

	// Asking for more than buffered returns everything.
	if got := len(b.Recent("u1", 99)); got != 3 {
		t.Errorf("Recent(99) returned %d entries, want 3", got)
	}
}

func TestShortTermBufferUserIsolation(t *testing.T) {
	b := NewShortTermBuffer(5)
	b.Add("alice", "alice says hi", nil)
	b.Add("bob", "bob says hi", nil)

	if got := b.Len("alice"); got != 1 {
		t.Fatalf("alice Len = %d, want 1", got)
	}
	if got := b.Recent("bob", 0)[0].Text; got != "bob says hi" {
		t.Errorf("bob entry = %q", got)
	}
}

func TestShortTermBufferUniqueIDs(t *testing.T) {
	b := NewShortTermBuffer(5)
	e1 := b.Add("u1", "x", nil)
	e2 := b.Add("u2", "y", nil)
	if e1.ID == e2.ID {
		t.Errorf("entries share id %q", e1.ID)
	}
}

func TestShortTermBufferClear(t *testing.T) {
	b := NewShortTermBuffer(5)
	b.Add("u1", "a", nil)
	b.Add("u2", "b", nil)

	b.Clear("u1")
	if b.Len("u1") != 0 || b.Len("u2") != 1 {
		t.Fatalf("Clear(u1) left u1=%d u2=%d", b.Len("u1"), b.Len("u2"))
	}

	b.Clear("")
	if b.Len("u2") != 0 {
		t.Errorf("Clear(\"\") left u2=%d", b.Len("u2"))
	}
}

func TestShortTermBufferDefaultCapacity(t *testing.T) {
	b := NewShortTermBuffer(0)
	for i := 0; i < DefaultSTMItems+5; i++ {
		b.Add("u1", "msg", nil)
	}
	if got := b.Len("u1"); got != DefaultSTMItems {
		t.Errorf("Len = %d, want %d", got, DefaultSTMItems)
	}
}
