// Package artifact owns the on-disk workspace a processing run writes
// into. Each document gets its own directory under the configured work
// dir; everything in it is produced by the pipeline and safe to delete.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tenderlens/tenderlens/office"
)

// Subdirectory and file names inside a document workspace.
const (
	OutlineFile  = "outline.md"
	SectionsDir  = "split_sections"
	ImagesDir    = "images"
	ManifestFile = "manifest.json"
	FindingsFile = "findings.json"
)

// Workspace is the artifact directory for one document.
type Workspace struct {
	root string
}

// OpenWorkspace creates (or reuses) the artifact directory for a document.
func OpenWorkspace(workDir, documentID string) (*Workspace, error) {
	if documentID == "" {
		return nil, fmt.Errorf("artifact: empty document id")
	}
	root := filepath.Join(workDir, documentID)
	for _, dir := range []string{root, filepath.Join(root, SectionsDir), filepath.Join(root, ImagesDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating workspace: %w", err)
		}
	}
	return &Workspace{root: root}, nil
}

// Root returns the workspace directory.
func (w *Workspace) Root() string { return w.root }

// SectionsPath returns the directory split section files are written to.
func (w *Workspace) SectionsPath() string { return filepath.Join(w.root, SectionsDir) }

// ImagesPath returns the directory extracted images are written to.
func (w *Workspace) ImagesPath() string { return filepath.Join(w.root, ImagesDir) }

// OutlinePath returns the outline markdown path.
func (w *Workspace) OutlinePath() string { return filepath.Join(w.root, OutlineFile) }

// FindingsPath returns the findings report path.
func (w *Workspace) FindingsPath() string { return filepath.Join(w.root, FindingsFile) }

// ManifestPath returns the image manifest path.
func (w *Workspace) ManifestPath() string { return filepath.Join(w.root, ImagesDir, ManifestFile) }

// Remove deletes the whole workspace.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.root)
}

// WriteImage stores one deduplicated image under images/ with its final
// name and returns the written path.
func (w *Workspace) WriteImage(name string, img office.Image) (string, error) {
	path := filepath.Join(w.ImagesPath(), name+"."+img.Ext)
	if err := os.WriteFile(path, img.Data, 0o644); err != nil {
		return "", fmt.Errorf("writing image: %w", err)
	}
	return path, nil
}

// List returns relative paths of every artifact file in the workspace.
func (w *Workspace) List() ([]string, error) {
	var files []string
	err := filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing workspace: %w", err)
	}
	return files, nil
}
