package surveygen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/genai"
)

// UploadHandle is the remote-side reference to an uploaded document.
// Gemini expires uploaded files 48 hours after upload.
type UploadHandle struct {
	URI      string    `json:"uri"`
	Name     string    `json:"name"`
	MIMEType string    `json:"mime_type"`
	IssuedAt time.Time `json:"issued_at"`
}

// ContextHandle is the remote-side reference to a cached context bundle
// (the formatted example surveys). Gemini expires these after the TTL set
// at creation, 60 minutes here.
type ContextHandle struct {
	Name        string    `json:"name"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

// CallSpec is the full specification of one model invocation. All fields
// participate in the invocation cache key, so identical calls across reruns
// resolve to the same entry.
type CallSpec struct {
	Stage             string        `json:"stage"`
	Model             string        `json:"model"`
	SystemInstruction string        `json:"system_instruction"`
	Prompt            string        `json:"prompt"`
	ResponseMIMEType  string        `json:"response_mime_type"`
	File              *UploadHandle `json:"file,omitempty"`
	CachedContent     string        `json:"cached_content,omitempty"`
}

// GenerateResult is the text of a model response plus its usage counters.
type GenerateResult struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// Service is the opaque remote AI boundary. The production implementation
// talks to the Gemini API; tests substitute a fake.
type Service interface {
	Upload(ctx context.Context, path, mimeType string) (UploadHandle, error)
	CreateContext(ctx context.Context, model, systemInstruction, content string) (ContextHandle, error)
	Generate(ctx context.Context, spec CallSpec) (*GenerateResult, error)
}

// genaiService implements Service against the Gemini API.
type genaiService struct {
	client *genai.Client
	log    *slog.Logger
}

// NewGenaiService wraps a genai client as a Service.
func NewGenaiService(client *genai.Client, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &genaiService{client: client, log: log}
}

func (s *genaiService) Upload(ctx context.Context, path, mimeType string) (UploadHandle, error) {
	s.log.Debug("uploading file", "path", path, "mime_type", mimeType)

	file, err := s.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: filepath.Base(path),
	})
	if err != nil {
		return UploadHandle{}, fmt.Errorf("upload %s: %w", path, err)
	}

	if file.State != "ACTIVE" {
		s.log.Warn("uploaded file is not active yet", "state", file.State, "uri", file.URI)
	}

	return UploadHandle{
		URI:      file.URI,
		Name:     file.Name,
		MIMEType: file.MIMEType,
		IssuedAt: time.Now(),
	}, nil
}

func (s *genaiService) CreateContext(ctx context.Context, model, systemInstruction, content string) (ContextHandle, error) {
	s.log.Debug("creating context cache", "model", model, "content_length", len(content))

	cfg := &genai.CreateCachedContentConfig{
		DisplayName: "Survey Examples Cache",
		Contents: []*genai.Content{
			genai.NewContentFromText(content, genai.RoleUser),
		},
		TTL: 60 * time.Minute,
	}
	// The system instruction must live inside the cached content; generate
	// calls that reference a cache may not set their own.
	if systemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemInstruction, "")
	}

	cache, err := s.client.Caches.Create(ctx, model, cfg)
	if err != nil {
		return ContextHandle{}, fmt.Errorf("create context cache: %w", err)
	}

	s.log.Info("created context cache", "name", cache.Name)
	return ContextHandle{Name: cache.Name, CreatedAt: time.Now()}, nil
}

func (s *genaiService) Generate(ctx context.Context, spec CallSpec) (*GenerateResult, error) {
	parts := []*genai.Part{genai.NewPartFromText(spec.Prompt)}
	if spec.File != nil {
		parts = append(parts, genai.NewPartFromFile(genai.File{
			URI:      spec.File.URI,
			MIMEType: spec.File.MIMEType,
		}))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	temperature := float32(0)
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: spec.ResponseMIMEType,
		Temperature:      &temperature,
	}
	if spec.CachedContent != "" {
		cfg.CachedContent = spec.CachedContent
	} else if spec.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(spec.SystemInstruction, "")
	}

	s.log.Debug("generating content", "stage", spec.Stage, "model", spec.Model, "prompt_length", len(spec.Prompt))

	resp, err := s.client.Models.GenerateContent(ctx, spec.Model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("no candidates in response")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		return nil, errors.New("no text in response candidate")
	}

	usage := usageFromMetadata(resp.UsageMetadata)
	s.log.Info("model call completed",
		"stage", spec.Stage,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"cached_tokens", usage.CachedTokens)

	return &GenerateResult{Text: text.String(), Usage: usage}, nil
}

// isInvalidHandleErr reports whether err indicates a server-side rejection
// of a cached handle (expired upload or vanished context cache). The API
// does not expose a dedicated code for this, so classification is by
// message pattern and deliberately conservative: anything ambiguous is left
// to the transient/permanent split below.
func isInvalidHandleErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pat := range []string{"not found", "does not exist", "expired", "permission_denied", "permission denied"} {
		if strings.Contains(msg, pat) {
			return true
		}
	}
	return false
}

// isTransientErr reports whether err looks retryable (overload, timeout).
func isTransientErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pat := range []string{"503", "unavailable", "429", "resource_exhausted", "deadline exceeded"} {
		if strings.Contains(msg, pat) {
			return true
		}
	}
	return false
}
