package enhance

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"ramp/internal/queue"
	"ramp/internal/services"
	"ramp/internal/stage"
)

// Options configures the built-in stage handlers.
type Options struct {
	// DefaultLanguage is the BCP 47 tag assumed when an item carries none.
	DefaultLanguage string
}

// Register installs the built-in handler for every pipeline stage. The
// handlers derive deterministic artifact locations from the item's source
// URL, which keeps stage output stable across retries.
func Register(registry *stage.Registry, opts Options) error {
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "en"
	}

	handlers := map[string]stage.Handler{
		stage.Analysis:         analyzer(opts),
		stage.Captioning:       artifactWriter("captions", ".captions.vtt"),
		stage.AudioDescription: artifactWriter("audio description", ".described.mp3"),
		stage.SignLanguage:     artifactWriter("sign language track", ".sign.mp4"),
		stage.Transcription:    artifactWriter("transcript", ".transcript.txt"),
		stage.SpeechSynthesis:  artifactWriter("synthesized narration", ".speech.mp3"),
		stage.Conversion:       artifactWriter("accessible rendition", ".accessible.html"),
		stage.AltText:          altTextWriter(),
		stage.Compliance:       complianceChecker(),
	}
	for id, handler := range handlers {
		if err := registry.Register(id, handler); err != nil {
			return fmt.Errorf("register %s handler: %w", id, err)
		}
	}
	return nil
}

// analyzer inspects the source and records the language every later stage
// should produce output in.
func analyzer(opts Options) stage.Handler {
	return stage.HandlerFunc(func(ctx context.Context, req stage.Request) (stage.Result, error) {
		if _, err := parseSource(req.Item); err != nil {
			return stage.Result{}, err
		}
		lang := req.Item.Language
		if lang == "" {
			lang = opts.DefaultLanguage
		}
		return stage.Result{
			PayloadText: fmt.Sprintf("kind=%s language=%s", req.Item.Kind, lang),
		}, nil
	})
}

// artifactWriter produces the artifact location for a transformation stage.
func artifactWriter(label, suffix string) stage.Handler {
	return stage.HandlerFunc(func(ctx context.Context, req stage.Request) (stage.Result, error) {
		source, err := parseSource(req.Item)
		if err != nil {
			return stage.Result{}, err
		}
		return stage.Result{
			PayloadURI:  deriveArtifact(source, suffix),
			PayloadText: label,
		}, nil
	})
}

func altTextWriter() stage.Handler {
	return stage.HandlerFunc(func(ctx context.Context, req stage.Request) (stage.Result, error) {
		source, err := parseSource(req.Item)
		if err != nil {
			return stage.Result{}, err
		}
		name := source.Path
		if idx := strings.LastIndex(name, "/"); idx >= 0 {
			name = name[idx+1:]
		}
		if name == "" {
			name = source.Host
		}
		return stage.Result{
			PayloadText: fmt.Sprintf("Image sourced from %s, file %s.", source.Host, name),
		}, nil
	})
}

// complianceChecker verifies that every earlier stage of the item's plan left
// a successful result behind. A gap means the trail of artifacts cannot be
// certified against the requested standards.
func complianceChecker() stage.Handler {
	return stage.HandlerFunc(func(ctx context.Context, req stage.Request) (stage.Result, error) {
		plan, err := stage.PlanFor(req.Item.Kind)
		if err != nil {
			return stage.Result{}, err
		}
		for _, id := range plan {
			if id == stage.Compliance {
				continue
			}
			prior, ok := req.Prior[id]
			if !ok || prior.Outcome != queue.OutcomeSuccess {
				return stage.Result{}, services.Wrap(services.ErrPermanent, stage.Compliance, "verify",
					fmt.Sprintf("missing successful %s result", id), nil)
			}
		}
		standards := req.Standards
		if len(standards) == 0 {
			standards = []string{"WCAG2.2-AA"}
		}
		return stage.Result{
			PayloadText: "verified against " + strings.Join(standards, ", "),
		}, nil
	})
}

func parseSource(item *queue.Item) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(item.SourceURL))
	if err != nil || parsed.Scheme == "" {
		return nil, services.Wrap(services.ErrValidation, item.Stage, "parse", "unusable source url "+item.SourceURL, err)
	}
	return parsed, nil
}

func deriveArtifact(source *url.URL, suffix string) string {
	derived := *source
	derived.Path = derived.Path + suffix
	derived.RawQuery = ""
	derived.Fragment = ""
	return derived.String()
}
