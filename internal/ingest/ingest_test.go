package ingest

import (
	"errors"
	"testing"

	"ramp/internal/queue"
	"ramp/internal/services"
)

func TestParseContentRequest(t *testing.T) {
	body := []byte(`{"kind":"video","source_url":"https://cdn.example.com/lecture.mp4","language":"EN-us"}`)
	req, err := ParseContentRequest(body)
	if err != nil {
		t.Fatalf("ParseContentRequest: %v", err)
	}
	if req.Kind != "video" {
		t.Fatalf("kind = %q", req.Kind)
	}
	if req.Language != "en-US" {
		t.Fatalf("language = %q, want canonical en-US", req.Language)
	}
}

func TestParseContentRequestRejections(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"unknown kind", `{"kind":"hologram","source_url":"https://a.example.com/x"}`},
		{"missing url", `{"kind":"image"}`},
		{"bad scheme", `{"kind":"image","source_url":"ftp://a.example.com/x.png"}`},
		{"bad language", `{"kind":"image","source_url":"https://a.example.com/x.png","language":"not a tag"}`},
		{"unknown field", `{"kind":"image","source_url":"https://a.example.com/x.png","priority":9}`},
		{"not json", `kind=image`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseContentRequest([]byte(tc.body)); !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestNormalizeLanguage(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"en", "en"},
		{"EN-US", "en-US"},
		{"pt-br", "pt-BR"},
		{" fr ", "fr"},
	}
	for _, tc := range cases {
		got, err := NormalizeLanguage(tc.in)
		if err != nil {
			t.Fatalf("NormalizeLanguage(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizeLanguage(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseManifest(t *testing.T) {
	body := []byte(`{
        "items": [
            {"kind": "image", "source_url": "https://a.example.com/1.png"},
            {"kind": "audio", "source_url": "https://a.example.com/talk.mp3", "language": "de"}
        ],
        "standards": ["WCAG2.2-AA"]
    }`)
	manifest, err := ParseManifest(body)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if len(manifest.Items) != 2 {
		t.Fatalf("items = %d", len(manifest.Items))
	}
	if len(manifest.Standards) != 1 || manifest.Standards[0] != "WCAG2.2-AA" {
		t.Fatalf("standards = %v", manifest.Standards)
	}

	requests := manifest.Requests("en")
	if requests[0].Language != "en" {
		t.Fatalf("default language not applied: %q", requests[0].Language)
	}
	if requests[1].Language != "de" {
		t.Fatalf("declared language overridden: %q", requests[1].Language)
	}
	if requests[0].Kind != queue.KindImage || requests[1].Kind != queue.KindAudio {
		t.Fatalf("kinds = %v, %v", requests[0].Kind, requests[1].Kind)
	}
}

func TestParseManifestSchemaRejections(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing items", `{"standards": ["WCAG2.2-AA"]}`},
		{"item missing kind", `{"items": [{"source_url": "https://a.example.com/1.png"}]}`},
		{"item unknown kind", `{"items": [{"kind": "hologram", "source_url": "https://a.example.com/1.png"}]}`},
		{"item extra field", `{"items": [{"kind": "image", "source_url": "https://a.example.com/1.png", "priority": 1}]}`},
		{"items not array", `{"items": {"kind": "image"}}`},
		{"not json", `---`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseManifest([]byte(tc.body)); !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestParseManifestEmptyItems(t *testing.T) {
	manifest, err := ParseManifest([]byte(`{"items": []}`))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if len(manifest.Items) != 0 {
		t.Fatalf("items = %d", len(manifest.Items))
	}
	if len(manifest.Requests("en")) != 0 {
		t.Fatal("expected no requests")
	}
}
