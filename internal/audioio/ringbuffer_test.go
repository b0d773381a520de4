package audioio

import "testing"

func TestRingBufferWriteRead(t *testing.T) {
	rb := NewRingBuffer(16)

	rb.Write([]float32{1, 2, 3, 4})
	out := make([]float32, 4)
	n := rb.Read(out)
	if n != 4 {
		t.Fatalf("Read returned %d, want 4", n)
	}
	for i, want := range []float32{1, 2, 3, 4} {
		if out[i] != want {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want)
		}
	}
	if rb.Available() != 0 {
		t.Errorf("Available() = %d, want 0", rb.Available())
	}
}

func TestRingBufferPartialRead(t *testing.T) {
	rb := NewRingBuffer(16)
	rb.Write([]float32{1, 2, 3, 4, 5})

	out := make([]float32, 2)
	n := rb.Read(out)
	if n != 2 || out[0] != 1 || out[1] != 2 {
		t.Fatalf("first Read = %v (n=%d), want [1 2] (n=2)", out, n)
	}

	if rb.Available() != 3 {
		t.Fatalf("Available() = %d, want 3", rb.Available())
	}
}

func TestRingBufferOverrunDropsNewest(t *testing.T) {
	rb := NewRingBuffer(4) // rounds up, capacity 4

	// Fill beyond capacity without reading: producer must never block, and
	// must drop the newest samples rather than evict unread data.
	rb.Write([]float32{1, 2, 3})
	rb.Write([]float32{4, 5, 6})

	if rb.Overruns() == 0 {
		t.Fatalf("expected at least one overrun to be recorded")
	}

	out := make([]float32, 4)
	n := rb.Read(out)
	if n != 4 {
		t.Fatalf("Read returned %d, want 4", n)
	}
	for i, want := range []float32{1, 2, 3, 4} {
		if out[i] != want {
			t.Errorf("out[%d] = %v, want %v (oldest unread data must survive an overrun)", i, out[i], want)
		}
	}
}

func TestRingBufferWrapsAround(t *testing.T) {
	rb := NewRingBuffer(4)

	for i := 0; i < 100; i++ {
		rb.Write([]float32{float32(i)})
		out := make([]float32, 1)
		if n := rb.Read(out); n != 1 || out[0] != float32(i) {
			t.Fatalf("iteration %d: Read = %v (n=%d), want [%d] (n=1)", i, out, n, i)
		}
	}
}
