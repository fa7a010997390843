package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Export is the JSON document written after every cycle. Downstream
// consumers (dashboards) read only this file; the pipeline knows nothing
// about them.
type Export struct {
	GeneratedAt string   `json:"generated_at"`
	Sources     []string `json:"sources"`
	CycleStatus string   `json:"cycle_status"`
	Items       []Scored `json:"items"`
}

// export writes the top-N best-by-key entries atomically: temp file in the
// same directory, then rename, so a reader never observes a half-written
// document.
func (p *Pipeline) export(result CycleResult) error {
	if p.cfg.ExportPath == "" {
		return nil
	}

	items := result.Merged
	if p.cfg.ExportTopN > 0 && len(items) > p.cfg.ExportTopN {
		items = items[:p.cfg.ExportTopN]
	}

	doc := Export{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Sources:     p.ActiveSourceNames(),
		CycleStatus: fmtCycleStatus(result),
		Items:       items,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}

	dir := filepath.Dir(p.cfg.ExportPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".newsstack-export-*")
	if err != nil {
		return fmt.Errorf("create temp export: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close export: %w", err)
	}

	if err := os.Rename(tmpPath, p.cfg.ExportPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename export: %w", err)
	}
	return nil
}
