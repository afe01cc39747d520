// Package manifest records the files produced by a decode run together with
// their SHA-256 digests.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example.com/iuupgate/internal/common"
)

type Item struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Sha256 string `json:"sha256"`
	Type   string `json:"type"`
}

type Manifest struct {
	CreatedAt time.Time `json:"createdAt"`
	ShaAlgo   string    `json:"shaAlgo"`
	Tool      string    `json:"tool,omitempty"`
	Items     []Item    `json:"items"`
}

// Build hashes every path. Missing files are an error.
func Build(tool string, paths []string) (Manifest, error) {
	m := Manifest{CreatedAt: time.Now().UTC(), ShaAlgo: "sha256", Tool: tool}
	for _, p := range paths {
		sum, sz, err := common.Sha256OfFile(p)
		if err != nil {
			return m, err
		}
		m.Items = append(m.Items, Item{Path: p, Size: sz, Sha256: sum, Type: fileType(p)})
	}
	return m, nil
}

func fileType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pcap", ".pcapng", ".cap":
		return "capture"
	case ".jsonl", ".ndjson":
		return "findings"
	case ".json":
		return "json"
	case ".pdf":
		return "pdf"
	default:
		return "other"
	}
}

func Save(m Manifest, out string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0o644)
}

// Verify recomputes every digest and returns the items that no longer match.
func Verify(m Manifest) ([]Item, error) {
	var changed []Item
	for _, it := range m.Items {
		sum, sz, err := common.Sha256OfFile(it.Path)
		if err != nil {
			return nil, err
		}
		if sum != it.Sha256 || sz != it.Size {
			changed = append(changed, it)
		}
	}
	return changed, nil
}

func Load(path string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}
