package surveygen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// Cache key operation names. Changing one invalidates every entry of that
// operation, so treat them as part of the on-disk format.
const (
	opUpload       = "upload"
	opContextCache = "context-cache"
	opGenerate     = "generate"
)

// Gateway layers cache-checked accessors over the remote Service. Each of
// the three remote operations gets its own TTL class mirroring the remote
// side's lifetime: uploads 48h, context caches 60m, model responses forever.
type Gateway struct {
	svc         Service
	store       *Store
	log         *slog.Logger
	callTimeout time.Duration
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithCallTimeout bounds each remote call individually so a stuck call
// cannot pin a worker slot indefinitely.
func WithCallTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.callTimeout = d }
}

// WithGatewayLogger sets the gateway logger.
func WithGatewayLogger(log *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.log = log }
}

// NewGateway builds a Gateway over svc and store.
func NewGateway(svc Service, store *Store, opts ...GatewayOption) *Gateway {
	g := &Gateway{svc: svc, store: store, log: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.callTimeout > 0 {
		return context.WithTimeout(ctx, g.callTimeout)
	}
	return context.WithCancel(ctx)
}

// EnsureUploaded returns an upload handle for the file at path, reusing a
// cached handle while the remote 48-hour validity window holds. The key is
// the file's content fingerprint, so identical files share one upload.
func (g *Gateway) EnsureUploaded(ctx context.Context, path string) (UploadHandle, error) {
	fp, err := FileFingerprint(path)
	if err != nil {
		return UploadHandle{}, err
	}
	key := Fingerprint(opUpload, fp)

	unlock := g.store.Lock(key)
	defer unlock()

	if data, ok := g.store.Get(key); ok {
		var h UploadHandle
		if err := json.Unmarshal(data, &h); err == nil {
			g.log.Debug("reusing cached upload", "path", path, "uri", h.URI)
			return h, nil
		}
		g.store.Evict(key)
	}

	return g.upload(ctx, path, key)
}

// RefreshUpload forces a re-upload after the remote side rejected a cached
// handle before its local TTL lapsed. Called at most once per invocation.
func (g *Gateway) RefreshUpload(ctx context.Context, path string) (UploadHandle, error) {
	fp, err := FileFingerprint(path)
	if err != nil {
		return UploadHandle{}, err
	}
	key := Fingerprint(opUpload, fp)

	unlock := g.store.Lock(key)
	defer unlock()

	g.store.Evict(key)
	g.log.Info("re-uploading file after stale handle", "path", path)
	return g.upload(ctx, path, key)
}

func (g *Gateway) upload(ctx context.Context, path, key string) (UploadHandle, error) {
	mimeType := detectMIMEType(path)

	cctx, cancel := g.callCtx(ctx)
	defer cancel()

	handle, err := g.svc.Upload(cctx, path, mimeType)
	if err != nil {
		return UploadHandle{}, err
	}

	data, err := json.Marshal(handle)
	if err != nil {
		return UploadHandle{}, fmt.Errorf("encode upload handle: %w", err)
	}
	if err := g.store.Put(key, data, Class48Hours); err != nil {
		// The upload itself succeeded; losing the cache entry only costs a
		// future re-upload.
		g.log.Warn("failed to cache upload handle", "path", path, "error", err)
	}
	return handle, nil
}

// EnsureContextCache returns a remote context-cache handle for the example
// set, creating one when none is cached or the 60-minute window lapsed.
// A long batch run re-creates it mid-run through the same path. The per-key
// lock guarantees a single remote creation even when many workers share the
// example-set fingerprint.
func (g *Gateway) EnsureContextCache(ctx context.Context, model, systemInstruction string, set *ExampleSet) (ContextHandle, error) {
	content := set.FormatForPrompt()
	if content == "" {
		return ContextHandle{}, nil
	}

	fp := set.Fingerprint()
	key := Fingerprint(opContextCache, model, fp)

	unlock := g.store.Lock(key)
	defer unlock()

	if data, ok := g.store.Get(key); ok {
		var h ContextHandle
		if err := json.Unmarshal(data, &h); err == nil {
			g.log.Debug("reusing context cache", "name", h.Name)
			return h, nil
		}
		g.store.Evict(key)
	}

	cctx, cancel := g.callCtx(ctx)
	defer cancel()

	handle, err := g.svc.CreateContext(cctx, model, systemInstruction, content)
	if err != nil {
		return ContextHandle{}, err
	}
	handle.Fingerprint = fp

	data, err := json.Marshal(handle)
	if err != nil {
		return ContextHandle{}, fmt.Errorf("encode context handle: %w", err)
	}
	if err := g.store.Put(key, data, Class60Minutes); err != nil {
		g.log.Warn("failed to cache context handle", "error", err)
	}
	return handle, nil
}

// Invoke performs one model call through the permanent invocation cache.
// A hit returns the stored response with zero usage cost; identical calls
// across reruns never re-bill. On a miss the real call runs, its response
// is stored, and the real usage counters are returned.
//
// A remote rejection of an attached handle surfaces as ErrStaleHandle so
// the pipeline can refresh the upload and retry exactly once.
func (g *Gateway) Invoke(ctx context.Context, spec CallSpec) (*GenerateResult, error) {
	key := Fingerprint(opGenerate, spec)

	unlock := g.store.Lock(key)
	defer unlock()

	if data, ok := g.store.Get(key); ok {
		var res GenerateResult
		if err := json.Unmarshal(data, &res); err == nil {
			g.log.Debug("invocation cache hit", "stage", spec.Stage)
			res.Usage = Usage{}
			return &res, nil
		}
		g.store.Evict(key)
	}

	cctx, cancel := g.callCtx(ctx)
	defer cancel()

	res, err := g.svc.Generate(cctx, spec)
	if err != nil {
		if spec.File != nil && isInvalidHandleErr(err) {
			return nil, fmt.Errorf("%w: %w", ErrStaleHandle, err)
		}
		return nil, err
	}

	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode generate result: %w", err)
	}
	if err := g.store.Put(key, data, ClassPermanent); err != nil {
		g.log.Warn("failed to cache generate result", "error", err)
	}
	return res, nil
}

// detectMIMEType sniffs the file content, falling back to a generic type.
func detectMIMEType(path string) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mtype.String()
}
