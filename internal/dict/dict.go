// Package dict maps RFCI subflows to display names.
package dict

import (
	"fmt"
	"strings"
)

type SubflowEntry struct {
	// RFCI is nil for entries that apply to every RFCI.
	RFCI    *uint8
	Subflow int
	Name    string
}

type Store struct {
	exact map[subflowKey]SubflowEntry
	any   map[int]SubflowEntry
}

type subflowKey struct {
	rfci    uint8
	subflow int
}

type File struct {
	Codec    string      `json:"codec,omitempty" yaml:"codec,omitempty"`
	Subflows []FileEntry `json:"subflows" yaml:"subflows"`
}

type FileEntry struct {
	RFCI    *int   `json:"rfci,omitempty" yaml:"rfci,omitempty"`
	Subflow int    `json:"subflow" yaml:"subflow"`
	Name    string `json:"name" yaml:"name"`
}

func FromFile(file File) (*Store, error) {
	store := &Store{
		exact: make(map[subflowKey]SubflowEntry),
		any:   make(map[int]SubflowEntry),
	}
	for i, entry := range file.Subflows {
		if entry.Subflow < 0 || entry.Subflow > 7 {
			return nil, fmt.Errorf("subflows[%d]: subflow out of range", i)
		}
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return nil, fmt.Errorf("subflows[%d]: empty name", i)
		}
		if entry.RFCI == nil {
			if _, exists := store.any[entry.Subflow]; exists {
				return nil, fmt.Errorf("subflows[%d]: duplicate subflow %d", i, entry.Subflow)
			}
			store.any[entry.Subflow] = SubflowEntry{Subflow: entry.Subflow, Name: name}
			continue
		}
		if *entry.RFCI < 0 || *entry.RFCI > 0x3F {
			return nil, fmt.Errorf("subflows[%d]: rfci out of range", i)
		}
		id := uint8(*entry.RFCI)
		key := subflowKey{rfci: id, subflow: entry.Subflow}
		if _, exists := store.exact[key]; exists {
			return nil, fmt.Errorf("subflows[%d]: duplicate rfci/subflow", i)
		}
		store.exact[key] = SubflowEntry{RFCI: &id, Subflow: entry.Subflow, Name: name}
	}
	return store, nil
}

// Lookup prefers an entry for the exact RFCI over one for any RFCI.
func (s *Store) Lookup(rfci uint8, subflow int) (SubflowEntry, bool) {
	if s == nil {
		return SubflowEntry{}, false
	}
	if e, ok := s.exact[subflowKey{rfci: rfci, subflow: subflow}]; ok {
		return e, true
	}
	e, ok := s.any[subflow]
	return e, ok
}

// SubflowName satisfies iuup.SubflowNamer.
func (s *Store) SubflowName(rfci uint8, subflow int) (string, bool) {
	e, ok := s.Lookup(rfci, subflow)
	return e.Name, ok
}

func (s *Store) IsEmpty() bool {
	if s == nil {
		return true
	}
	return len(s.exact) == 0 && len(s.any) == 0
}

// AMR returns the usual AMR class A/B/C naming for three-subflow circuits.
func AMR() *Store {
	s, _ := FromFile(File{Codec: "amr", Subflows: []FileEntry{
		{Subflow: 0, Name: "AMR Class A"},
		{Subflow: 1, Name: "AMR Class B"},
		{Subflow: 2, Name: "AMR Class C"},
	}})
	return s
}
