package iuup

import (
	"fmt"
	"sort"

	"github.com/google/gopacket"
)

// RFCI is one negotiated subflow combination.
type RFCI struct {
	ID             uint8 `json:"id"`
	SubflowLengths []int `json:"subflowLengths"`
	TotalBits      int   `json:"totalBits"`
	// IPTI is set when the Init carried timing information.
	IPTI *uint8 `json:"ipti,omitempty"`
	// LengthOctets is 1 or 2 depending on the LI flag of the record.
	LengthOctets int `json:"lengthOctets"`
}

// Circuit is the configuration negotiated by one Initialization procedure.
type Circuit struct {
	ID           uint32 `json:"id"`
	SubflowCount int    `json:"subflowCount"`
	Chained      bool   `json:"chained"`
	TimingInfo   bool   `json:"timingInfo"`
	// ModeVersions is the supported-version bitmap, bit 0 = version 1.
	ModeVersions uint16 `json:"modeVersions"`
	DataPDUType  uint8  `json:"dataPduType"`
	RFCIs        []RFCI `json:"rfcis"`

	index map[uint8]int
}

func newCircuit(id uint32, subflows int) *Circuit {
	return &Circuit{ID: id, SubflowCount: subflows, index: make(map[uint8]int)}
}

func (c *Circuit) appendRFCI(r RFCI) {
	if _, dup := c.index[r.ID]; !dup {
		c.index[r.ID] = len(c.RFCIs)
	}
	c.RFCIs = append(c.RFCIs, r)
}

// RFCI finds an RFCI by id. The first record with the id wins.
func (c *Circuit) RFCI(id uint8) (*RFCI, bool) {
	if c == nil {
		return nil, false
	}
	if c.index == nil {
		for i := range c.RFCIs {
			if c.RFCIs[i].ID == id {
				return &c.RFCIs[i], true
			}
		}
		return nil, false
	}
	i, ok := c.index[id]
	if !ok {
		return nil, false
	}
	return &c.RFCIs[i], true
}

// SupportsMode reports whether mode version v (1..16) was offered.
func (c *Circuit) SupportsMode(v int) bool {
	if v < 1 || v > 16 {
		return false
	}
	return c.ModeVersions&(1<<uint(v-1)) != 0
}

// Conversation identifies a bidirectional transport association.
type Conversation struct {
	Network   gopacket.Flow
	Transport gopacket.Flow
}

// Canonical orders the endpoints so both directions map to the same value.
func (c Conversation) Canonical() Conversation {
	ns, nd := c.Network.Endpoints()
	ts, td := c.Transport.Endpoints()
	swap := nd.LessThan(ns)
	if ns == nd {
		swap = td.LessThan(ts)
	}
	if swap {
		return Conversation{Network: c.Network.Reverse(), Transport: c.Transport.Reverse()}
	}
	return c
}

func (c Conversation) String() string {
	if c == (Conversation{}) {
		return "default"
	}
	ns, nd := c.Network.Endpoints()
	ts, td := c.Transport.Endpoints()
	return fmt.Sprintf("%v:%v <-> %v:%v", ns, ts, nd, td)
}

// Key selects a circuit in a registry: either a pseudoheader circuit id or
// a canonical conversation.
type Key struct {
	Explicit     bool
	CircuitID    uint16
	Conversation Conversation
}

// CircuitKey builds the key of an explicitly numbered circuit.
func CircuitKey(id uint16) Key {
	return Key{Explicit: true, CircuitID: id & pseudoCircuitMask}
}

// ConversationKey builds the key of the circuit implied by a conversation.
func ConversationKey(c Conversation) Key {
	return Key{Conversation: c.Canonical()}
}

func (k Key) String() string {
	if k.Explicit {
		return fmt.Sprintf("circuit %d", k.CircuitID)
	}
	return k.Conversation.String()
}

func (k Key) circuitID() uint32 {
	if k.Explicit {
		return uint32(k.CircuitID)
	}
	h := k.Conversation.Network.FastHash() ^ k.Conversation.Transport.FastHash()
	return uint32(h) ^ uint32(h>>32)
}

// Registry stores the active circuit per key. Implementations need not be
// safe for concurrent use.
type Registry interface {
	Lookup(key Key) (*Circuit, bool)
	Put(key Key, c *Circuit)
	Remove(key Key)
	Reset()
	Len() int
	Snapshot() []CircuitEntry
}

// CircuitEntry is one row of a registry snapshot.
type CircuitEntry struct {
	Key     string   `json:"key"`
	Circuit *Circuit `json:"circuit"`
}

// MemoryRegistry is a map-backed Registry.
type MemoryRegistry struct {
	circuits map[Key]*Circuit
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{circuits: make(map[Key]*Circuit)}
}

func (r *MemoryRegistry) Lookup(key Key) (*Circuit, bool) {
	c, ok := r.circuits[key]
	return c, ok
}

func (r *MemoryRegistry) Put(key Key, c *Circuit) {
	r.circuits[key] = c
}

func (r *MemoryRegistry) Remove(key Key) {
	delete(r.circuits, key)
}

func (r *MemoryRegistry) Reset() {
	r.circuits = make(map[Key]*Circuit)
}

func (r *MemoryRegistry) Len() int {
	return len(r.circuits)
}

func (r *MemoryRegistry) Snapshot() []CircuitEntry {
	out := make([]CircuitEntry, 0, len(r.circuits))
	for k, c := range r.circuits {
		out = append(out, CircuitEntry{Key: k.String(), Circuit: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
