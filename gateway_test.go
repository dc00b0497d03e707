package surveygen

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, svc Service) (*Gateway, *testClock) {
	t.Helper()
	clock := newTestClock()
	store, err := NewStore(t.TempDir(), WithClock(clock.Now))
	require.NoError(t, err)
	return NewGateway(svc, store), clock
}

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestGateway_EnsureUploaded_CachesHandle(t *testing.T) {
	svc := NewFakeService()
	gw, _ := newTestGateway(t, svc)
	path := writeInput(t, "doc.txt", "questionnaire text")

	first, err := gw.EnsureUploaded(context.Background(), path)
	require.NoError(t, err)

	second, err := gw.EnsureUploaded(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, first.URI, second.URI)
	assert.Equal(t, 1, svc.Uploads(), "second call must come from cache")
}

func TestGateway_EnsureUploaded_SameContentSharesUpload(t *testing.T) {
	svc := NewFakeService()
	gw, _ := newTestGateway(t, svc)

	dir := t.TempDir()
	one := filepath.Join(dir, "a.txt")
	two := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(one, []byte("identical"), 0o644))
	require.NoError(t, os.WriteFile(two, []byte("identical"), 0o644))

	_, err := gw.EnsureUploaded(context.Background(), one)
	require.NoError(t, err)
	_, err = gw.EnsureUploaded(context.Background(), two)
	require.NoError(t, err)

	assert.Equal(t, 1, svc.Uploads())
}

func TestGateway_EnsureUploaded_ReuploadsAfter48h(t *testing.T) {
	svc := NewFakeService()
	gw, clock := newTestGateway(t, svc)
	path := writeInput(t, "doc.txt", "content")

	_, err := gw.EnsureUploaded(context.Background(), path)
	require.NoError(t, err)

	clock.Advance(49 * time.Hour)
	_, err = gw.EnsureUploaded(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 2, svc.Uploads())
}

func TestGateway_RefreshUpload_EvictsAndReuploads(t *testing.T) {
	svc := NewFakeService()
	gw, _ := newTestGateway(t, svc)
	path := writeInput(t, "doc.txt", "content")

	first, err := gw.EnsureUploaded(context.Background(), path)
	require.NoError(t, err)

	refreshed, err := gw.RefreshUpload(context.Background(), path)
	require.NoError(t, err)

	assert.NotEqual(t, first.URI, refreshed.URI)
	assert.Equal(t, 2, svc.Uploads())

	// The refreshed handle is what subsequent lookups see.
	again, err := gw.EnsureUploaded(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, refreshed.URI, again.URI)
	assert.Equal(t, 2, svc.Uploads())
}

func TestGateway_Invoke_PermanentCacheHitHasZeroUsage(t *testing.T) {
	svc := NewFakeService()
	gw, clock := newTestGateway(t, svc)
	spec := CallSpec{Stage: StageExtraction, Model: "m", Prompt: "p", ResponseMIMEType: "application/json"}

	first, err := gw.Invoke(context.Background(), spec)
	require.NoError(t, err)
	assert.False(t, first.Usage.IsZero())

	// Far beyond any handle TTL; responses never expire.
	clock.Advance(1000 * time.Hour)

	second, err := gw.Invoke(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, first.Text, second.Text)
	assert.True(t, second.Usage.IsZero(), "cache hit must not re-bill")
	assert.Equal(t, 1, svc.Generates())
}

func TestGateway_Invoke_DistinctSpecsDistinctEntries(t *testing.T) {
	svc := NewFakeService()
	gw, _ := newTestGateway(t, svc)

	_, err := gw.Invoke(context.Background(), CallSpec{Stage: StageExtraction, Model: "m", Prompt: "p1"})
	require.NoError(t, err)
	_, err = gw.Invoke(context.Background(), CallSpec{Stage: StageExtraction, Model: "m", Prompt: "p2"})
	require.NoError(t, err)

	assert.Equal(t, 2, svc.Generates())
}

func TestGateway_Invoke_StaleHandleSignal(t *testing.T) {
	svc := NewFakeService()
	svc.GenerateFn = func(ctx context.Context, spec CallSpec) (*GenerateResult, error) {
		return nil, errors.New("file files/fake-1 not found")
	}
	gw, _ := newTestGateway(t, svc)

	handle := UploadHandle{URI: "files/fake-1", MIMEType: "text/plain"}
	_, err := gw.Invoke(context.Background(), CallSpec{Stage: StageExtraction, Model: "m", Prompt: "p", File: &handle})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStaleHandle))
}

func TestGateway_Invoke_NoFileNoStaleClassification(t *testing.T) {
	svc := NewFakeService()
	svc.GenerateFn = func(ctx context.Context, spec CallSpec) (*GenerateResult, error) {
		return nil, errors.New("something not found")
	}
	gw, _ := newTestGateway(t, svc)

	_, err := gw.Invoke(context.Background(), CallSpec{Stage: StageGeneration, Model: "m", Prompt: "p"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrStaleHandle))
}

func TestGateway_EnsureContextCache_SingleCreationUnderRace(t *testing.T) {
	svc := NewFakeService()
	gw, _ := newTestGateway(t, svc)
	set := &ExampleSet{Files: []ExampleFile{{Name: "a.json", Content: `{"pages":[]}`}}}

	var wg sync.WaitGroup
	names := make([]string, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := gw.EnsureContextCache(context.Background(), "m", "sys", set)
			names[i], errs[i] = h.Name, err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, svc.Contexts(), "losers must reuse the winner's entry")
	for _, name := range names {
		assert.Equal(t, names[0], name)
	}
}

func TestGateway_EnsureContextCache_RecreatedAfterExpiry(t *testing.T) {
	svc := NewFakeService()
	gw, clock := newTestGateway(t, svc)
	set := &ExampleSet{Files: []ExampleFile{{Name: "a.json", Content: `{"pages":[]}`}}}

	first, err := gw.EnsureContextCache(context.Background(), "m", "sys", set)
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	same, err := gw.EnsureContextCache(context.Background(), "m", "sys", set)
	require.NoError(t, err)
	assert.Equal(t, first.Name, same.Name)

	// A long batch crosses the 60-minute window mid-run and re-creates.
	clock.Advance(2 * time.Minute)
	fresh, err := gw.EnsureContextCache(context.Background(), "m", "sys", set)
	require.NoError(t, err)
	assert.NotEqual(t, first.Name, fresh.Name)
	assert.Equal(t, 2, svc.Contexts())
}

func TestGateway_EnsureContextCache_EmptySetNoRemoteCall(t *testing.T) {
	svc := NewFakeService()
	gw, _ := newTestGateway(t, svc)

	h, err := gw.EnsureContextCache(context.Background(), "m", "sys", &ExampleSet{})
	require.NoError(t, err)
	assert.Empty(t, h.Name)
	assert.Equal(t, 0, svc.Contexts())
}

func TestGateway_CallTimeout(t *testing.T) {
	svc := NewFakeService()
	svc.Delay = 200 * time.Millisecond

	clock := newTestClock()
	store, err := NewStore(t.TempDir(), WithClock(clock.Now))
	require.NoError(t, err)
	gw := NewGateway(svc, store, WithCallTimeout(20*time.Millisecond))

	_, err = gw.Invoke(context.Background(), CallSpec{Stage: StageExtraction, Model: "m", Prompt: "p"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
