package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/language"

	"ramp/internal/queue"
	"ramp/internal/services"
)

// ContentRequest is one submission for accessibility processing.
type ContentRequest struct {
	Kind      string `json:"kind"`
	SourceURL string `json:"source_url"`
	Language  string `json:"language,omitempty"`
}

// ParseContentRequest decodes and validates a single-item submission body.
func ParseContentRequest(data []byte) (*ContentRequest, error) {
	var req ContentRequest
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "ingest", "malformed request body", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// Validate checks the request fields and canonicalizes the language tag in
// place.
func (r *ContentRequest) Validate() error {
	if _, ok := queue.ParseKind(r.Kind); !ok {
		return services.Wrap(services.ErrValidation, "", "ingest",
			fmt.Sprintf("unknown content kind %q", r.Kind), nil)
	}
	if err := validateSourceURL(r.SourceURL); err != nil {
		return err
	}
	normalized, err := NormalizeLanguage(r.Language)
	if err != nil {
		return err
	}
	r.Language = normalized
	return nil
}

// NormalizeLanguage canonicalizes a BCP 47 language tag. The empty tag passes
// through so callers can substitute their configured default.
func NormalizeLanguage(tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", nil
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "", "ingest",
			fmt.Sprintf("invalid language tag %q", tag), err)
	}
	return parsed.String(), nil
}

func validateSourceURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return services.Wrap(services.ErrValidation, "", "ingest", "source url is required", nil)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return services.Wrap(services.ErrValidation, "", "ingest",
			fmt.Sprintf("invalid source url %q", raw), err)
	}
	switch parsed.Scheme {
	case "http", "https", "s3", "file":
		return nil
	default:
		return services.Wrap(services.ErrValidation, "", "ingest",
			fmt.Sprintf("unsupported source url scheme %q", parsed.Scheme), nil)
	}
}
