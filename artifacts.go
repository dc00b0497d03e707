package surveygen

import (
	"fmt"
	"os"
	"path/filepath"
)

// Output subdirectories, one artifact per input basename in each.
const (
	dirQuestions = "questions"
	dirSurveys   = "surveys"
	dirResponses = "responses"
	dirHTML      = "html"
)

// ArtifactSet holds the four outputs produced for one input file.
type ArtifactSet struct {
	Questions []byte // normalized question list JSON
	Survey    []byte // SurveyJS definition JSON
	Response  []byte // raw generation response, kept for diagnosis
	HTML      []byte // self-contained rendered survey page
}

// ArtifactWriter persists artifact sets under an output root. Every file is
// written to a temporary path in its target directory and renamed into
// place, so a crash mid-write never leaves a half-complete artifact visible
// under its final name.
type ArtifactWriter struct {
	root string
}

// NewArtifactWriter creates the four output trees under root.
func NewArtifactWriter(root string) (*ArtifactWriter, error) {
	for _, d := range []string{dirQuestions, dirSurveys, dirResponses, dirHTML} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	return &ArtifactWriter{root: root}, nil
}

// Paths returns the final artifact paths for an input basename.
func (w *ArtifactWriter) Paths(base string) []string {
	return []string{
		filepath.Join(w.root, dirQuestions, base+".json"),
		filepath.Join(w.root, dirSurveys, base+".json"),
		filepath.Join(w.root, dirResponses, base+".txt"),
		filepath.Join(w.root, dirHTML, base+".html"),
	}
}

// Write persists the full artifact set for one input basename.
func (w *ArtifactWriter) Write(base string, set ArtifactSet) error {
	paths := w.Paths(base)
	for i, data := range [][]byte{set.Questions, set.Survey, set.Response, set.HTML} {
		if err := writeFileAtomic(paths[i], data, 0o644); err != nil {
			return fmt.Errorf("write artifact %s: %w", paths[i], err)
		}
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path. Rename is atomic on POSIX filesystems.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(tmpName)
		if werr != nil {
			return werr
		}
		return cerr
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
