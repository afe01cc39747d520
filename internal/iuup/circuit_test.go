package iuup

import "testing"

func TestConversationCanonical(t *testing.T) {
	a := testConversation("10.1.1.1", "10.1.1.2", 2000, 3000)
	b := testConversation("10.1.1.2", "10.1.1.1", 3000, 2000)
	if ConversationKey(a) != ConversationKey(b) {
		t.Fatalf("keys differ for the two directions")
	}
	c := testConversation("10.1.1.1", "10.1.1.2", 2000, 3002)
	if ConversationKey(a) == ConversationKey(c) {
		t.Fatalf("different ports share a key")
	}

	// same host on both sides: order by port
	d := testConversation("10.1.1.1", "10.1.1.1", 4000, 2000)
	e := testConversation("10.1.1.1", "10.1.1.1", 2000, 4000)
	if ConversationKey(d) != ConversationKey(e) {
		t.Fatalf("loopback keys differ")
	}
}

func TestCircuitRFCILookup(t *testing.T) {
	c := newCircuit(1, 1)
	c.appendRFCI(RFCI{ID: 4, SubflowLengths: []int{8}, TotalBits: 8})
	c.appendRFCI(RFCI{ID: 4, SubflowLengths: []int{16}, TotalBits: 16})
	c.appendRFCI(RFCI{ID: 9, SubflowLengths: []int{1}, TotalBits: 1})
	r, ok := c.RFCI(4)
	if !ok || r.TotalBits != 8 {
		t.Fatalf("RFCI(4) = %+v, %v, want first record", r, ok)
	}
	if len(c.RFCIs) != 3 {
		t.Fatalf("records = %d, want 3 in negotiation order", len(c.RFCIs))
	}
	if _, ok := c.RFCI(5); ok {
		t.Fatalf("RFCI(5) found")
	}

	// circuits decoded from JSON have no index
	plain := &Circuit{RFCIs: []RFCI{{ID: 2}}}
	if _, ok := plain.RFCI(2); !ok {
		t.Fatalf("RFCI(2) not found without index")
	}
}

func TestMemoryRegistry(t *testing.T) {
	r := NewMemoryRegistry()
	k1, k2 := CircuitKey(1), CircuitKey(2)
	r.Put(k2, &Circuit{ID: 2})
	r.Put(k1, &Circuit{ID: 1})
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
	snap := r.Snapshot()
	if snap[0].Key != "circuit 1" || snap[1].Key != "circuit 2" {
		t.Fatalf("snapshot keys = %q, %q", snap[0].Key, snap[1].Key)
	}
	r.Remove(k1)
	if _, ok := r.Lookup(k1); ok {
		t.Fatalf("removed key still present")
	}
	r.Reset()
	if r.Len() != 0 {
		t.Fatalf("Len after reset = %d", r.Len())
	}
}

func TestCircuitKeyMasksDirection(t *testing.T) {
	if CircuitKey(0x8005) != CircuitKey(5) {
		t.Fatalf("direction bit leaked into key")
	}
	if s := (Conversation{}).String(); s != "default" {
		t.Fatalf("zero conversation = %q", s)
	}
}
