package report

import (
	"encoding/json"
	"os"

	"example.com/iuupgate/internal/findings"
)

func SaveJSON(rep findings.Report, out string) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadJSON(path string) (findings.Report, error) {
	var rep findings.Report
	b, err := os.ReadFile(path)
	if err != nil {
		return rep, err
	}
	err = json.Unmarshal(b, &rep)
	return rep, err
}
