package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Manifest describes the content of a packaged backup.
type Manifest struct {
	Type        string           `json:"type"` // compose
	RunID       string           `json:"runId"`
	RunTag      string           `json:"runTag"`
	Project     string           `json:"project"`
	Host        string           `json:"host"`
	ComposeFile string           `json:"composeFile"`
	CreatedAt   time.Time        `json:"createdAt"`
	Targets     []ManifestTarget `json:"targets"`
}

type ManifestTarget struct {
	Kind    string `json:"kind"`
	ID      string `json:"id"`
	Service string `json:"service,omitempty"`
	RelPath string `json:"relPath,omitempty"`
	Archive string `json:"archive"` // path inside the packaged artifact
	Size    int64  `json:"size"`
	SHA256  string `json:"sha256"`
}

// WriteManifest writes manifest.json and checksums.txt to the workspace
// root, listing every staged archive.
func WriteManifest(ws Workspace, m Manifest, staged []Staged) error {
	m.Type = "compose"
	m.Targets = m.Targets[:0]
	var sums []string
	for _, s := range staged {
		rel, err := filepath.Rel(ws.Root, s.Path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		sum, err := sha256File(s.Path)
		if err != nil {
			return err
		}
		m.Targets = append(m.Targets, ManifestTarget{
			Kind:    string(s.Target.Kind),
			ID:      s.Target.ID,
			Service: s.Target.Service,
			RelPath: s.Target.RelPath,
			Archive: rel,
			Size:    s.Size,
			SHA256:  sum,
		})
		sums = append(sums, fmt.Sprintf("%s  %s\n", sum, rel))
	}
	if err := writeJSON(ws.ManifestPath(), m); err != nil {
		return err
	}
	out, err := os.Create(ws.ChecksumsPath())
	if err != nil {
		return err
	}
	defer out.Close()
	for _, line := range sums {
		if _, err := io.WriteString(out, line); err != nil {
			return err
		}
	}
	return out.Close()
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	return f.Close()
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
