package surveygen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/tyler-sommer/stick"
)

// JobResult is the immutable outcome of one pipeline run. Exactly one is
// produced per input file; Kind == "" means success.
type JobResult struct {
	Input      string
	Kind       ErrorKind
	Diagnostic string
	Err        error
	Usage      Usage
	Elapsed    time.Duration
	Artifacts  []string
}

// Succeeded reports whether the job produced its full artifact set.
func (r JobResult) Succeeded() bool { return r.Kind == "" }

// PipelineConfig carries the per-batch settings shared by all jobs.
type PipelineConfig struct {
	Model        string
	Examples     *ExampleSet
	DefaultPages string // preformatted JSON for prompt injection, may be empty
	Stats        *StatsCollector
	Log          *slog.Logger
}

// Pipeline runs the per-input state machine: upload, question extraction,
// survey generation, artifact writing. Stages execute in strict sequence;
// any retry policy lives with the caller, except the single stale-handle
// re-upload owned by the gateway contract.
type Pipeline struct {
	gw            *Gateway
	prompts       *StickPromptProvider
	writer        *ArtifactWriter
	stats         *StatsCollector
	log           *slog.Logger
	model         string
	examples      *ExampleSet
	defaultPages  string
	extractPrompt string
}

// NewPipeline builds a Pipeline. The extraction prompt is rendered eagerly
// so a broken template set fails at startup, not per job.
func NewPipeline(gw *Gateway, prompts *StickPromptProvider, writer *ArtifactWriter, cfg PipelineConfig) (*Pipeline, error) {
	extractPrompt, err := prompts.Render(tplExtractQuestions, nil)
	if err != nil {
		return nil, fmt.Errorf("render extraction prompt: %w", err)
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	stats := cfg.Stats
	if stats == nil {
		stats = NewStatsCollector()
	}
	return &Pipeline{
		gw:            gw,
		prompts:       prompts,
		writer:        writer,
		stats:         stats,
		log:           log,
		model:         cfg.Model,
		examples:      cfg.Examples,
		defaultPages:  cfg.DefaultPages,
		extractPrompt: extractPrompt,
	}, nil
}

// Run processes one input file and always returns a JobResult; errors are
// folded into it, never propagated, so sibling jobs stay isolated.
func (p *Pipeline) Run(ctx context.Context, path string) JobResult {
	start := time.Now()
	res := JobResult{Input: path}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	fail := func(err error) JobResult {
		res.Kind = KindOf(err)
		res.Diagnostic = DiagnosticOf(err)
		res.Err = err
		res.Elapsed = time.Since(start)
		p.log.Warn("job failed", "input", path, "kind", res.Kind, "error", err)
		return res
	}

	p.log.Info("processing input", "input", path)

	// Uploading
	if err := ctx.Err(); err != nil {
		return fail(pipelineErr(KindRemoteTimeout, "canceled before upload", err))
	}
	handle, err := p.gw.EnsureUploaded(ctx, path)
	if err != nil {
		return fail(pipelineErr(remoteKind(err, KindUpload), "", err))
	}

	// ExtractingQuestions
	extractRes, err := p.invokeWithRefresh(ctx, CallSpec{
		Stage:             StageExtraction,
		Model:             p.model,
		SystemInstruction: extractionSystemInstruction,
		Prompt:            p.extractPrompt,
		ResponseMIMEType:  "application/json",
		File:              &handle,
	}, path)
	if err != nil {
		return fail(pipelineErr(remoteKind(err, KindGeneration), "", err))
	}
	p.stats.Record(StageExtraction, extractRes.Usage)
	res.Usage = res.Usage.Add(extractRes.Usage)

	questions, err := ParseQuestions([]byte(extractRes.Text))
	if err != nil {
		// The raw response rides along in the diagnostic for debugging.
		return fail(pipelineErr(KindExtractionParse, extractRes.Text, err))
	}

	// GeneratingSurvey
	if err := ctx.Err(); err != nil {
		return fail(pipelineErr(KindRemoteTimeout, "canceled before generation", err))
	}
	systemInstruction := generationSystemInstruction
	var cachedContent string
	if !p.examples.Empty() {
		ch, err := p.gw.EnsureContextCache(ctx, p.model, generationSystemInstruction, p.examples)
		if err != nil {
			return fail(pipelineErr(remoteKind(err, KindGeneration), "", err))
		}
		// The system instruction lives inside the cached content.
		cachedContent = ch.Name
		systemInstruction = ""
	}

	genPrompt, err := p.prompts.Render(tplRenderSurvey, map[string]stick.Value{
		"questions":     string(questions),
		"default_pages": p.defaultPages,
	})
	if err != nil {
		return fail(pipelineErr(KindGeneration, "", err))
	}

	genRes, err := p.gw.Invoke(ctx, CallSpec{
		Stage:             StageGeneration,
		Model:             p.model,
		SystemInstruction: systemInstruction,
		Prompt:            genPrompt,
		ResponseMIMEType:  "text/plain",
		CachedContent:     cachedContent,
	})
	if err != nil {
		return fail(pipelineErr(remoteKind(err, KindGeneration), "", err))
	}
	p.stats.Record(StageGeneration, genRes.Usage)
	res.Usage = res.Usage.Add(genRes.Usage)

	surveyJSON, err := ParseSurvey(genRes.Text)
	if err != nil {
		return fail(pipelineErr(KindSurveyParse, genRes.Text, err))
	}

	// WritingArtifacts
	if err := ctx.Err(); err != nil {
		return fail(pipelineErr(KindRemoteTimeout, "canceled before writing artifacts", err))
	}
	html, err := p.prompts.Render(tplSurveyPage, map[string]stick.Value{
		"survey_json": surveyJSON,
	})
	if err != nil {
		return fail(pipelineErr(KindArtifactWrite, "", err))
	}
	if err := p.writer.Write(base, ArtifactSet{
		Questions: questions,
		Survey:    []byte(surveyJSON),
		Response:  []byte(genRes.Text),
		HTML:      []byte(html),
	}); err != nil {
		return fail(pipelineErr(KindArtifactWrite, "", err))
	}

	res.Artifacts = p.writer.Paths(base)
	res.Elapsed = time.Since(start)
	p.log.Info("job completed", "input", path, "artifacts", len(res.Artifacts))
	return res
}

// invokeWithRefresh performs an invocation that attaches an upload handle,
// recovering once from a remote stale-handle rejection by forcing a
// re-upload and retrying the call.
func (p *Pipeline) invokeWithRefresh(ctx context.Context, spec CallSpec, path string) (*GenerateResult, error) {
	res, err := p.gw.Invoke(ctx, spec)
	if err == nil || !errors.Is(err, ErrStaleHandle) {
		return res, err
	}

	handle, uerr := p.gw.RefreshUpload(ctx, path)
	if uerr != nil {
		return nil, uerr
	}
	spec.File = &handle
	return p.gw.Invoke(ctx, spec)
}

// remoteKind maps a remote-call error onto the failure taxonomy: timeouts
// and transient-looking failures report as RemoteTimeout, everything else
// keeps the stage's own kind.
func remoteKind(err error, fallback ErrorKind) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || isTransientErr(err) {
		return KindRemoteTimeout
	}
	return fallback
}
