package surveygen

import (
	"errors"
	"fmt"
)

// ErrMissingAPIKey is returned when no Gemini API key is configured.
var ErrMissingAPIKey = errors.New("GEMINI_API_KEY is not set")

// ErrStaleHandle signals that the remote service rejected a previously
// uploaded file handle. The gateway evicts the cached handle and the
// pipeline re-uploads exactly once before giving up.
var ErrStaleHandle = errors.New("uploaded file handle is no longer valid")

// ErrorKind classifies a pipeline failure for reporting.
type ErrorKind string

const (
	KindUpload          ErrorKind = "upload_error"
	KindRemoteTimeout   ErrorKind = "remote_timeout"
	KindExtractionParse ErrorKind = "extraction_parse_error"
	KindGeneration      ErrorKind = "generation_error"
	KindSurveyParse     ErrorKind = "survey_parse_error"
	KindArtifactWrite   ErrorKind = "artifact_write_error"
)

// PipelineError carries the failure kind plus a diagnostic payload
// (typically the raw model response) for post-hoc debugging.
type PipelineError struct {
	Kind       ErrorKind
	Diagnostic string
	Err        error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func pipelineErr(kind ErrorKind, diagnostic string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Diagnostic: diagnostic, Err: err}
}

// KindOf extracts the ErrorKind from err, or "" if err carries none.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// DiagnosticOf extracts the diagnostic payload from err, if any.
func DiagnosticOf(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Diagnostic
	}
	return ""
}
