package surveygen

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/tyler-sommer/stick"
)

//go:embed templates/*.twig
var builtinTemplates embed.FS

// Template tags for the two prompt stages and the HTML artifact.
const (
	tplExtractQuestions = "extract_questions"
	tplRenderSurvey     = "render_survey"
	tplSurveyPage       = "survey_page"
)

// System instructions for the two model calls. Inert data, but part of the
// invocation cache key, so edits invalidate cached responses.
const (
	extractionSystemInstruction = "You are an expert analyst transcribing questionnaires into machine readable formats"
	generationSystemInstruction = "You are an expert SurveyJS JSON generator that learns from examples and applies " +
		"consistent patterns. Only add personal data if it exists in the questionnaire. Do not use buttons or dropdowns."
)

// StickPromptProvider renders prompt and HTML templates with the stick
// (Twig) engine. It is fs-agnostic: templates come from the embedded
// defaults, any fs.FS, or an in-memory map.
type StickPromptProvider struct {
	env       *stick.Env
	templates map[string]string
	vars      map[string]interface{}
}

// Option configures a StickPromptProvider.
type Option func(*StickPromptProvider) error

// WithFS loads every *.twig file found under dir in the supplied FS.
func WithFS[F fs.FS](fsys F, dir string) Option {
	return func(p *StickPromptProvider) error {
		return fs.WalkDir(fsys, dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".twig") {
				return nil
			}
			content, readErr := fs.ReadFile(fsys, path)
			if readErr != nil {
				return fmt.Errorf("read %s: %w", path, readErr)
			}
			tag := strings.TrimSuffix(filepath.Base(path), ".twig")
			p.templates[tag] = string(content)
			return nil
		})
	}
}

// WithTemplates lets you inject an in-memory map.
func WithTemplates(m map[string]string) Option {
	return func(p *StickPromptProvider) error {
		for k, v := range m {
			p.templates[k] = v
		}
		return nil
	}
}

// WithVar adds a variable available in all templates.
func WithVar(key string, value interface{}) Option {
	return func(p *StickPromptProvider) error {
		p.vars[key] = value
		return nil
	}
}

// NewStickPromptProvider builds a provider from any combination of options.
func NewStickPromptProvider(opts ...Option) (*StickPromptProvider, error) {
	p := &StickPromptProvider{
		env:       stick.New(nil),
		templates: make(map[string]string),
		vars:      make(map[string]interface{}),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// DefaultPromptProvider returns a provider preloaded with the embedded
// templates.
func DefaultPromptProvider(opts ...Option) (*StickPromptProvider, error) {
	return NewStickPromptProvider(append([]Option{WithFS(builtinTemplates, "templates")}, opts...)...)
}

// AddTemplate updates or inserts one template.
func (p *StickPromptProvider) AddTemplate(tag, tpl string) { p.templates[tag] = tpl }

// Render executes the template for tag with the given variables, merged
// over the provider-wide ones.
func (p *StickPromptProvider) Render(tag string, vars map[string]stick.Value) (string, error) {
	tpl, ok := p.templates[tag]
	if !ok {
		return "", fmt.Errorf("template %q not found", tag)
	}

	templateCtx := make(map[string]stick.Value, len(p.vars)+len(vars))
	for k, v := range p.vars {
		templateCtx[k] = v
	}
	for k, v := range vars {
		templateCtx[k] = v
	}

	var out strings.Builder
	if err := p.env.Execute(tpl, &out, templateCtx); err != nil {
		return "", fmt.Errorf("execute %q: %w", tag, err)
	}
	return out.String(), nil
}
