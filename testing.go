package surveygen

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeService is a scriptable Service for tests. The zero value succeeds
// on every call with canned responses; individual operations are overridden
// through the Fn fields. It also observes concurrency so tests can assert
// the batch ceiling.
type FakeService struct {
	UploadFn        func(ctx context.Context, path, mimeType string) (UploadHandle, error)
	CreateContextFn func(ctx context.Context, model, systemInstruction, content string) (ContextHandle, error)
	GenerateFn      func(ctx context.Context, spec CallSpec) (*GenerateResult, error)

	// Delay stretches every Generate call, making overlap observable.
	Delay time.Duration

	mu        sync.Mutex
	uploads   int
	contexts  int
	generates int
	active    int
	maxActive int
}

// ValidExtractionResponse is the canned extraction payload.
const ValidExtractionResponse = `[{"number":"1","text":"How satisfied are you?","type":"rating","required":true}]`

// ValidGenerationResponse is the canned generation payload with a fenced
// survey definition.
const ValidGenerationResponse = "Here is the survey.\n```json\n" +
	`{"pages":[{"name":"page1","elements":[{"type":"rating","name":"q1","title":"How satisfied are you?","isRequired":true}]}]}` +
	"\n```\n"

// NewFakeService returns a FakeService whose canned responses satisfy the
// full pipeline.
func NewFakeService() *FakeService {
	return &FakeService{}
}

func (f *FakeService) Upload(ctx context.Context, path, mimeType string) (UploadHandle, error) {
	f.mu.Lock()
	f.uploads++
	n := f.uploads
	f.mu.Unlock()

	if f.UploadFn != nil {
		return f.UploadFn(ctx, path, mimeType)
	}
	return UploadHandle{
		URI:      fmt.Sprintf("files/fake-%d", n),
		Name:     fmt.Sprintf("fake-%d", n),
		MIMEType: mimeType,
		IssuedAt: time.Now(),
	}, nil
}

func (f *FakeService) CreateContext(ctx context.Context, model, systemInstruction, content string) (ContextHandle, error) {
	f.mu.Lock()
	f.contexts++
	n := f.contexts
	f.mu.Unlock()

	if f.CreateContextFn != nil {
		return f.CreateContextFn(ctx, model, systemInstruction, content)
	}
	return ContextHandle{
		Name:      fmt.Sprintf("cachedContents/fake-%d", n),
		CreatedAt: time.Now(),
	}, nil
}

func (f *FakeService) Generate(ctx context.Context, spec CallSpec) (*GenerateResult, error) {
	f.mu.Lock()
	f.generates++
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.GenerateFn != nil {
		return f.GenerateFn(ctx, spec)
	}

	text := ValidExtractionResponse
	if spec.Stage == StageGeneration {
		text = ValidGenerationResponse
	}
	return &GenerateResult{
		Text:  text,
		Usage: Usage{InputTokens: 100, OutputTokens: 50},
	}, nil
}

// Uploads returns how many Upload calls reached the service.
func (f *FakeService) Uploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

// Contexts returns how many CreateContext calls reached the service.
func (f *FakeService) Contexts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contexts
}

// Generates returns how many Generate calls reached the service.
func (f *FakeService) Generates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generates
}

// MaxActive reports the peak number of simultaneously running Generate
// calls.
func (f *FakeService) MaxActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}
