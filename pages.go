package surveygen

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// SurveyPage is one default page template (introduction, consent, ...)
// prepended to generated surveys.
type SurveyPage map[string]any

// validPageStructure checks the minimal SurveyJS page shape: a name and an
// elements list.
func validPageStructure(p SurveyPage) bool {
	if _, ok := p["name"]; !ok {
		return false
	}
	elements, ok := p["elements"].([]any)
	return ok && elements != nil
}

// LoadDefaultPages loads the named page templates from dir. Missing files
// and structurally invalid pages are skipped with a warning rather than
// failing the run; default pages are a convenience, not a requirement.
func LoadDefaultPages(names []string, dir string, log *slog.Logger) []SurveyPage {
	if log == nil {
		log = slog.Default()
	}

	var pages []SurveyPage
	for _, name := range names {
		path := filepath.Join(dir, name+".json")
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("default page file not found", "path", path)
			continue
		}

		var page SurveyPage
		if err := json.Unmarshal(data, &page); err != nil {
			log.Warn("could not parse default page", "path", path, "error", err)
			continue
		}
		if !validPageStructure(page) {
			log.Warn("invalid page structure", "path", path)
			continue
		}
		pages = append(pages, page)
		log.Info("loaded default page", "name", name)
	}
	return pages
}

// FormatPagesForPrompt renders the pages as an indented JSON array for
// prompt injection, renaming each page to page{i} so the sequence stays
// consistent regardless of the templates' own names.
func FormatPagesForPrompt(pages []SurveyPage) (string, error) {
	if len(pages) == 0 {
		return "", nil
	}

	formatted := make([]SurveyPage, 0, len(pages))
	for i, page := range pages {
		copied := make(SurveyPage, len(page))
		for k, v := range page {
			copied[k] = v
		}
		copied["name"] = fmt.Sprintf("page%d", i)
		formatted = append(formatted, copied)
	}

	data, err := json.MarshalIndent(formatted, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format default pages: %w", err)
	}
	return string(data), nil
}
