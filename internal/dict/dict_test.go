package dict

import (
	"os"
	"path/filepath"
	"testing"
)

func intPtr(v int) *int { return &v }

func TestLookupPrefersExactRFCI(t *testing.T) {
	s, err := FromFile(File{Subflows: []FileEntry{
		{Subflow: 0, Name: "Class A"},
		{RFCI: intPtr(7), Subflow: 0, Name: "SID"},
	}})
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	if name, ok := s.SubflowName(7, 0); !ok || name != "SID" {
		t.Fatalf("SubflowName(7, 0) = %q, %v", name, ok)
	}
	if name, ok := s.SubflowName(1, 0); !ok || name != "Class A" {
		t.Fatalf("SubflowName(1, 0) = %q, %v", name, ok)
	}
	if _, ok := s.SubflowName(1, 1); ok {
		t.Fatalf("SubflowName(1, 1) found")
	}
}

func TestFromFileRejects(t *testing.T) {
	tests := []struct {
		name string
		file File
	}{
		{name: "subflow range", file: File{Subflows: []FileEntry{{Subflow: 8, Name: "x"}}}},
		{name: "rfci range", file: File{Subflows: []FileEntry{{RFCI: intPtr(64), Name: "x"}}}},
		{name: "empty name", file: File{Subflows: []FileEntry{{Subflow: 1, Name: " "}}}},
		{name: "duplicate", file: File{Subflows: []FileEntry{{Subflow: 1, Name: "a"}, {Subflow: 1, Name: "b"}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := FromFile(tc.file); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadYAMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "amr.yaml")
	if err := os.WriteFile(yamlPath, []byte("codec: amr\nsubflows:\n  - subflow: 0\n    name: Class A\n  - rfci: 1\n    subflow: 1\n    name: Class B\n"), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	jsonPath := filepath.Join(dir, "amr.json")
	if err := os.WriteFile(jsonPath, []byte(`{"subflows":[{"rfci":1,"subflow":1,"name":"Class B"}]}`), 0o644); err != nil {
		t.Fatalf("write json: %v", err)
	}
	for _, path := range []string{yamlPath, jsonPath} {
		s, err := Load(path)
		if err != nil {
			t.Fatalf("Load(%s): %v", path, err)
		}
		if name, ok := s.SubflowName(1, 1); !ok || name != "Class B" {
			t.Fatalf("%s: SubflowName(1, 1) = %q, %v", path, name, ok)
		}
	}
	if _, err := EnsureLoaded(dir); err == nil {
		t.Fatalf("EnsureLoaded(dir) succeeded")
	}
}

func TestResolve(t *testing.T) {
	s, err := Resolve("")
	if err != nil || s != nil {
		t.Fatalf("Resolve(\"\") = %v, %v", s, err)
	}
	s, err = Resolve("amr")
	if err != nil {
		t.Fatalf("Resolve(amr): %v", err)
	}
	if name, _ := s.SubflowName(3, 2); name != "AMR Class C" {
		t.Fatalf("AMR subflow 2 = %q", name)
	}
	if !(*Store)(nil).IsEmpty() {
		t.Fatalf("nil store not empty")
	}
}
