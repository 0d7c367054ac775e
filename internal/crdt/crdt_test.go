package crdt

import (
	"testing"
)

func TestInsertLocal(t *testing.T) {
	t.Parallel()

	d := New()
	d.Insert(1, 0, "hello")

	if got := d.ToText(); got != "hello" {
		t.Fatalf("ToText() = %q, want %q", got, "hello")
	}
}

func TestDeleteLocal(t *testing.T) {
	t.Parallel()

	d := New()
	d.Insert(1, 0, "hello")
	d.Delete(1, 1, 3)

	if got := d.ToText(); got != "ho" {
		t.Fatalf("ToText() = %q, want %q", got, "ho")
	}
}

func TestConvergesAcrossReplicas(t *testing.T) {
	t.Parallel()

	a := New()
	b := New()

	// Both replicas start from the same seeded state.
	seedUpdate := a.Insert(SeedClient, 0, "abc")
	b.Apply(seedUpdate)

	// Concurrent, independent edits at different replicas.
	uA := a.Insert(1, 3, "-fromA")
	uB := b.Insert(2, 0, "fromB-")

	// Cross-apply so both replicas see the full causal history.
	a.Apply(uB)
	b.Apply(uA)

	textA := a.ToText()
	textB := b.ToText()
	if textA != textB {
		t.Fatalf("replicas diverged: a=%q b=%q", textA, textB)
	}
}

func TestConvergesRegardlessOfApplyOrder(t *testing.T) {
	t.Parallel()

	seed := New().Insert(SeedClient, 0, "xy")

	a := New()
	a.Apply(seed)
	u1 := a.Insert(10, 1, "A")
	u2 := a.Insert(20, 1, "B")

	// Replica b applies the same two updates in reverse order.
	b := New()
	b.Apply(seed)
	b.Apply(u2)
	b.Apply(u1)

	if a.ToText() != b.ToText() {
		t.Fatalf("order-dependent divergence: a=%q b=%q", a.ToText(), b.ToText())
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	t.Parallel()

	d := New()
	u := d.Insert(1, 0, "hi")

	before := d.ToText()
	d.Apply(u) // re-applying an already-known update must be a no-op
	if got := d.ToText(); got != before {
		t.Fatalf("re-applying update changed text: got %q, want %q", got, before)
	}
}

func TestApplyBuffersOutOfOrderOps(t *testing.T) {
	t.Parallel()

	src := New()
	u := src.Insert(1, 0, "abc")

	dst := New()
	// Apply only the second and third ops first; dst has no node for the
	// first op's origin yet, so these must be buffered rather than lost.
	dst.Apply(Update{u[1], u[2]})
	if got := dst.ToText(); got != "" {
		t.Fatalf("premature text before origin arrives: %q", got)
	}

	dst.Apply(Update{u[0]})
	if got := dst.ToText(); got != "abc" {
		t.Fatalf("ToText() after origin arrives = %q, want %q", got, "abc")
	}
}

func TestEncodeDiffSendsOnlyMissingOps(t *testing.T) {
	t.Parallel()

	a := New()
	a.Insert(1, 0, "hello")

	b := New()
	sv1, err := sv(b)
	if err != nil {
		t.Fatalf("state vector: %v", err)
	}

	diff, err := a.EncodeDiff(sv1)
	if err != nil {
		t.Fatalf("EncodeDiff() error: %v", err)
	}

	update, err := DecodeUpdate(diff)
	if err != nil {
		t.Fatalf("DecodeUpdate() error: %v", err)
	}
	if len(update) != 5 {
		t.Fatalf("len(update) = %d, want 5", len(update))
	}

	b.Apply(update)
	if got := b.ToText(); got != "hello" {
		t.Fatalf("ToText() after diff sync = %q, want %q", got, "hello")
	}

	// A second diff request, now that b is caught up, should be empty.
	sv2, err := sv(b)
	if err != nil {
		t.Fatalf("state vector: %v", err)
	}
	diff2, err := a.EncodeDiff(sv2)
	if err != nil {
		t.Fatalf("EncodeDiff() error: %v", err)
	}
	update2, err := DecodeUpdate(diff2)
	if err != nil {
		t.Fatalf("DecodeUpdate() error: %v", err)
	}
	if len(update2) != 0 {
		t.Fatalf("len(update2) = %d, want 0", len(update2))
	}
}

func sv(d *Doc) ([]byte, error) {
	return d.StateVector(), nil
}

func TestStateVectorRoundTrip(t *testing.T) {
	t.Parallel()

	d := New()
	d.Insert(7, 0, "xyz")

	encoded := d.StateVector()
	decoded, err := DecodeStateVector(encoded)
	if err != nil {
		t.Fatalf("DecodeStateVector() error: %v", err)
	}
	if decoded[7] != 3 {
		t.Fatalf("decoded[7] = %d, want 3", decoded[7])
	}
}

func TestSeedIsDeterministicAndOnlyAppliesOnce(t *testing.T) {
	t.Parallel()

	a := New()
	a.Seed("initial content")
	b := New()
	b.Seed("initial content")

	if a.ToText() != b.ToText() {
		t.Fatalf("seeded replicas diverged: a=%q b=%q", a.ToText(), b.ToText())
	}
	if a.StateVector() == nil {
		t.Fatal("expected non-nil state vector after seeding")
	}

	a.Seed("should not apply, doc not empty")
	if got := a.ToText(); got != "initial content" {
		t.Fatalf("Seed() re-applied on non-empty document: %q", got)
	}
}

func TestObserveReportsInsertAndDelete(t *testing.T) {
	t.Parallel()

	d := New()
	var events []Event
	d.Observe(func(ev Event) { events = append(events, ev) })

	d.Insert(1, 0, "ab")
	d.Delete(1, 0, 1)

	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	if events[0].InsertedText != "a" || events[0].Position != 0 {
		t.Errorf("events[0] = %+v, want insert 'a' at 0", events[0])
	}
	if events[1].InsertedText != "b" || events[1].Position != 1 {
		t.Errorf("events[1] = %+v, want insert 'b' at 1", events[1])
	}
	if events[2].DeletedLength != 1 || events[2].Position != 0 {
		t.Errorf("events[2] = %+v, want delete of length 1 at 0", events[2])
	}
}

func TestDeleteRangeSpanningMultipleInserts(t *testing.T) {
	t.Parallel()

	d := New()
	d.Insert(1, 0, "hello")
	d.Insert(1, 5, " world")

	d.Delete(1, 4, 3)
	if got := d.ToText(); got != "hellorld" {
		t.Fatalf("ToText() = %q, want %q", got, "hellorld")
	}
}
