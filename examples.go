package surveygen

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ExampleFile is one example survey used to prime the generation prompt.
type ExampleFile struct {
	Name    string // path relative to the examples dir
	Content string
}

// ExampleSet is an ordered collection of example surveys. Ordering is
// stable (sorted by name) so the fingerprint is deterministic for a given
// selection regardless of filesystem iteration order.
type ExampleSet struct {
	Files []ExampleFile
}

// LoadExampleSet reads example surveys from dir. With names nil or empty
// every *.json file under dir is included (recursively); otherwise only the
// named files are, and a missing name is an error.
func LoadExampleSet(dir string, names []string) (*ExampleSet, error) {
	set := &ExampleSet{}
	if dir == "" {
		return set, nil
	}

	available := map[string]string{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read example %s: %w", path, err)
		}
		available[rel] = string(content)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return set, nil
		}
		return nil, err
	}

	if len(names) == 0 {
		for name := range available {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		content, ok := available[name]
		if !ok {
			return nil, fmt.Errorf("example %q not found in %s", name, dir)
		}
		set.Files = append(set.Files, ExampleFile{Name: name, Content: content})
	}
	return set, nil
}

// Empty reports whether the set holds no examples.
func (s *ExampleSet) Empty() bool {
	return s == nil || len(s.Files) == 0
}

// Fingerprint digests the example contents in order. Two selections with
// identical contents share one remote context cache.
func (s *ExampleSet) Fingerprint() string {
	inputs := make([]any, 0, len(s.Files))
	for _, f := range s.Files {
		inputs = append(inputs, f.Content)
	}
	return Fingerprint("example-set", inputs...)
}

// FormatForPrompt renders the set as numbered fenced-JSON blocks, the form
// the generation prompt and the remote context cache both consume.
func (s *ExampleSet) FormatForPrompt() string {
	if s.Empty() {
		return ""
	}
	var b strings.Builder
	for i, f := range s.Files {
		fmt.Fprintf(&b, "Example %d: ```json\n%s\n```\n\n", i+1, f.Content)
	}
	return b.String()
}

// EstimateTokens approximates the token cost of the formatted set using the
// ~4 chars per token heuristic.
func (s *ExampleSet) EstimateTokens() int {
	return EstimateTokens(s.FormatForPrompt())
}

// EstimateTokens approximates token count as len/4.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// LogExampleSet emits one line per selected example, mirroring what the
// interactive picker of early versions printed.
func LogExampleSet(log *slog.Logger, s *ExampleSet) {
	for _, f := range s.Files {
		log.Info("using example", "name", f.Name, "tokens", EstimateTokens(f.Content))
	}
}
