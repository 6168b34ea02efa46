package ingest

import (
	"encoding/json"
	"fmt"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"ramp/internal/batch"
	"ramp/internal/queue"
	"ramp/internal/services"
)

//go:embed manifest_schema.json
var manifestSchemaJSON string

var manifestSchema = jsonschema.MustCompileString("manifest_schema.json", manifestSchemaJSON)

// Manifest is a bulk ingest request: the items to process plus the
// accessibility standards the whole batch is verified against.
type Manifest struct {
	Items     []ContentRequest `json:"items"`
	Standards []string         `json:"standards,omitempty"`
}

// ParseManifest decodes and validates a batch manifest body. Structural
// checks run through the JSON schema first so error messages point at the
// offending field; semantic checks (URL schemes, language tags) follow per
// item.
func ParseManifest(data []byte) (*Manifest, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "ingest", "malformed manifest body", err)
	}
	if err := manifestSchema.Validate(raw); err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "ingest", "manifest rejected by schema", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "ingest", "malformed manifest body", err)
	}
	for i := range manifest.Items {
		if err := manifest.Items[i].Validate(); err != nil {
			return nil, services.Wrap(services.ErrValidation, "", "ingest",
				fmt.Sprintf("manifest item %d", i), err)
		}
	}
	return &manifest, nil
}

// Requests converts the manifest items into coordinator requests, filling in
// the default language where an item did not declare one.
func (m *Manifest) Requests(defaultLanguage string) []batch.ItemRequest {
	requests := make([]batch.ItemRequest, 0, len(m.Items))
	for _, item := range m.Items {
		lang := item.Language
		if lang == "" {
			lang = defaultLanguage
		}
		kind, _ := queue.ParseKind(item.Kind)
		requests = append(requests, batch.ItemRequest{
			Kind:      kind,
			SourceURL: item.SourceURL,
			Language:  lang,
		})
	}
	return requests
}
