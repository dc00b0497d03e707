package surveygen

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipelineFixture struct {
	svc    *FakeService
	gw     *Gateway
	stats  *StatsCollector
	outDir string
}

func newPipelineFixture(t *testing.T, cfg PipelineConfig) (*Pipeline, *pipelineFixture) {
	t.Helper()
	svc := NewFakeService()
	gw, _ := newTestGateway(t, svc)

	prompts, err := DefaultPromptProvider()
	require.NoError(t, err)

	outDir := t.TempDir()
	writer, err := NewArtifactWriter(outDir)
	require.NoError(t, err)

	if cfg.Model == "" {
		cfg.Model = "test-model"
	}
	if cfg.Examples == nil {
		cfg.Examples = &ExampleSet{}
	}
	if cfg.Stats == nil {
		cfg.Stats = NewStatsCollector()
	}

	p, err := NewPipeline(gw, prompts, writer, cfg)
	require.NoError(t, err)
	return p, &pipelineFixture{svc: svc, gw: gw, stats: cfg.Stats, outDir: outDir}
}

func TestPipeline_Run_SuccessWritesAllArtifacts(t *testing.T) {
	p, fx := newPipelineFixture(t, PipelineConfig{})
	input := writeInput(t, "survey_doc.txt", "1. How satisfied are you?")

	res := p.Run(context.Background(), input)
	require.True(t, res.Succeeded(), "unexpected failure: %v", res.Err)
	require.Len(t, res.Artifacts, 4)

	for _, path := range res.Artifacts {
		info, err := os.Stat(path)
		require.NoError(t, err, "missing artifact %s", path)
		assert.Greater(t, info.Size(), int64(0))
	}

	assert.Equal(t, filepath.Join(fx.outDir, "questions", "survey_doc.json"), res.Artifacts[0])
	assert.Equal(t, filepath.Join(fx.outDir, "surveys", "survey_doc.json"), res.Artifacts[1])
	assert.Equal(t, filepath.Join(fx.outDir, "responses", "survey_doc.txt"), res.Artifacts[2])
	assert.Equal(t, filepath.Join(fx.outDir, "html", "survey_doc.html"), res.Artifacts[3])

	assert.Equal(t, 1, fx.svc.Uploads())
	assert.Equal(t, 2, fx.svc.Generates(), "one extraction and one generation call")
	assert.Equal(t, Usage{InputTokens: 200, OutputTokens: 100}, res.Usage)
	assert.GreaterOrEqual(t, res.Elapsed, time.Duration(0))
}

func TestPipeline_Run_HTMLEmbedsSurvey(t *testing.T) {
	p, _ := newPipelineFixture(t, PipelineConfig{})
	input := writeInput(t, "doc.txt", "content")

	res := p.Run(context.Background(), input)
	require.True(t, res.Succeeded())

	html, err := os.ReadFile(res.Artifacts[3])
	require.NoError(t, err)
	assert.Contains(t, string(html), `"pages"`)
	assert.Contains(t, string(html), "Survey.Model")
}

func TestPipeline_Run_UploadFailure(t *testing.T) {
	p, fx := newPipelineFixture(t, PipelineConfig{})
	fx.svc.UploadFn = func(ctx context.Context, path, mimeType string) (UploadHandle, error) {
		return UploadHandle{}, errors.New("quota exceeded for project")
	}
	input := writeInput(t, "doc.txt", "content")

	res := p.Run(context.Background(), input)
	assert.False(t, res.Succeeded())
	assert.Equal(t, KindUpload, res.Kind)
	assert.Equal(t, 0, fx.svc.Generates())
}

func TestPipeline_Run_MissingInputFile(t *testing.T) {
	p, fx := newPipelineFixture(t, PipelineConfig{})

	res := p.Run(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	assert.False(t, res.Succeeded())
	assert.Equal(t, KindUpload, res.Kind)
	assert.Equal(t, 0, fx.svc.Uploads())
}

func TestPipeline_Run_TransientUploadReportsTimeout(t *testing.T) {
	p, fx := newPipelineFixture(t, PipelineConfig{})
	fx.svc.UploadFn = func(ctx context.Context, path, mimeType string) (UploadHandle, error) {
		return UploadHandle{}, errors.New("503 service unavailable")
	}
	input := writeInput(t, "doc.txt", "content")

	res := p.Run(context.Background(), input)
	assert.Equal(t, KindRemoteTimeout, res.Kind)
}

func TestPipeline_Run_ExtractionParseFailureKeepsRawResponse(t *testing.T) {
	p, fx := newPipelineFixture(t, PipelineConfig{})
	const garbled = "I could not find any questions in this document."
	fx.svc.GenerateFn = func(ctx context.Context, spec CallSpec) (*GenerateResult, error) {
		return &GenerateResult{Text: garbled, Usage: Usage{InputTokens: 10}}, nil
	}
	input := writeInput(t, "doc.txt", "content")

	res := p.Run(context.Background(), input)
	assert.False(t, res.Succeeded())
	assert.Equal(t, KindExtractionParse, res.Kind)
	assert.Equal(t, garbled, res.Diagnostic)
	// The failed call still counts toward the usage totals.
	assert.Equal(t, Usage{InputTokens: 10}, fx.stats.Totals())
}

func TestPipeline_Run_SurveyParseFailure(t *testing.T) {
	p, fx := newPipelineFixture(t, PipelineConfig{})
	fx.svc.GenerateFn = func(ctx context.Context, spec CallSpec) (*GenerateResult, error) {
		if spec.Stage == StageExtraction {
			return &GenerateResult{Text: ValidExtractionResponse, Usage: Usage{InputTokens: 10}}, nil
		}
		return &GenerateResult{Text: "no fenced block here", Usage: Usage{InputTokens: 10}}, nil
	}
	input := writeInput(t, "doc.txt", "content")

	res := p.Run(context.Background(), input)
	assert.Equal(t, KindSurveyParse, res.Kind)
	assert.Equal(t, "no fenced block here", res.Diagnostic)
}

func TestPipeline_Run_StaleHandleRetriesOnce(t *testing.T) {
	p, fx := newPipelineFixture(t, PipelineConfig{})
	fx.svc.GenerateFn = func(ctx context.Context, spec CallSpec) (*GenerateResult, error) {
		// The first handle is rejected as expired; its replacement works.
		if spec.File != nil && spec.File.URI == "files/fake-1" {
			return nil, errors.New("file files/fake-1 does not exist")
		}
		text := ValidExtractionResponse
		if spec.Stage == StageGeneration {
			text = ValidGenerationResponse
		}
		return &GenerateResult{Text: text, Usage: Usage{InputTokens: 100, OutputTokens: 50}}, nil
	}
	input := writeInput(t, "doc.txt", "content")

	res := p.Run(context.Background(), input)
	require.True(t, res.Succeeded(), "expected recovery after re-upload: %v", res.Err)
	assert.Equal(t, 2, fx.svc.Uploads(), "one original upload plus one refresh")
}

func TestPipeline_Run_StaleHandlePersistingFails(t *testing.T) {
	p, fx := newPipelineFixture(t, PipelineConfig{})
	fx.svc.GenerateFn = func(ctx context.Context, spec CallSpec) (*GenerateResult, error) {
		return nil, errors.New("file not found: it expired")
	}
	input := writeInput(t, "doc.txt", "content")

	res := p.Run(context.Background(), input)
	assert.False(t, res.Succeeded())
	assert.Equal(t, 2, fx.svc.Uploads(), "exactly one retry, not a loop")
}

func TestPipeline_Run_ExamplesUseContextCache(t *testing.T) {
	set := &ExampleSet{Files: []ExampleFile{{Name: "ex.json", Content: `{"pages":[]}`}}}
	var genSpecs []CallSpec

	p, fx := newPipelineFixture(t, PipelineConfig{Examples: set})
	fx.svc.GenerateFn = func(ctx context.Context, spec CallSpec) (*GenerateResult, error) {
		if spec.Stage == StageGeneration {
			genSpecs = append(genSpecs, spec)
			return &GenerateResult{Text: ValidGenerationResponse, Usage: Usage{InputTokens: 1}}, nil
		}
		return &GenerateResult{Text: ValidExtractionResponse, Usage: Usage{InputTokens: 1}}, nil
	}
	input := writeInput(t, "doc.txt", "content")

	res := p.Run(context.Background(), input)
	require.True(t, res.Succeeded(), "unexpected failure: %v", res.Err)
	assert.Equal(t, 1, fx.svc.Contexts())
	require.Len(t, genSpecs, 1)
	assert.Equal(t, "cachedContents/fake-1", genSpecs[0].CachedContent)
	assert.Empty(t, genSpecs[0].SystemInstruction, "instruction lives inside the cached content")
}

func TestPipeline_Run_NoExamplesInlineInstruction(t *testing.T) {
	var genSpecs []CallSpec
	p, fx := newPipelineFixture(t, PipelineConfig{})
	fx.svc.GenerateFn = func(ctx context.Context, spec CallSpec) (*GenerateResult, error) {
		if spec.Stage == StageGeneration {
			genSpecs = append(genSpecs, spec)
			return &GenerateResult{Text: ValidGenerationResponse}, nil
		}
		return &GenerateResult{Text: ValidExtractionResponse}, nil
	}
	input := writeInput(t, "doc.txt", "content")

	res := p.Run(context.Background(), input)
	require.True(t, res.Succeeded())
	assert.Equal(t, 0, fx.svc.Contexts())
	require.Len(t, genSpecs, 1)
	assert.Empty(t, genSpecs[0].CachedContent)
	assert.NotEmpty(t, genSpecs[0].SystemInstruction)
}

func TestPipeline_Run_CanceledContext(t *testing.T) {
	p, fx := newPipelineFixture(t, PipelineConfig{})
	input := writeInput(t, "doc.txt", "content")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := p.Run(ctx, input)
	assert.False(t, res.Succeeded())
	assert.Equal(t, KindRemoteTimeout, res.Kind)
	assert.Equal(t, 0, fx.svc.Uploads())
}

func TestNewPipeline_BrokenTemplateFailsEagerly(t *testing.T) {
	svc := NewFakeService()
	gw, _ := newTestGateway(t, svc)
	prompts, err := NewStickPromptProvider() // no templates loaded at all
	require.NoError(t, err)
	writer, err := NewArtifactWriter(t.TempDir())
	require.NoError(t, err)

	_, err = NewPipeline(gw, prompts, writer, PipelineConfig{Model: "m", Examples: &ExampleSet{}})
	require.Error(t, err)
}
