package transcribe

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/listenupapp/listenup-captions/internal/ratelimit"
)

// openAILimiterKey is the limiter bucket shared by every OpenAI request.
const openAILimiterKey = "openai"

// OpenAIOptions configures the OpenAI speech-to-text backend.
type OpenAIOptions struct {
	APIKey  string
	Model   string                      // default: whisper-1
	BaseURL string                      // overrides the API endpoint
	Limiter *ratelimit.KeyedRateLimiter // optional outbound throttle
}

// OpenAIBackend transcribes through the OpenAI audio transcription API.
type OpenAIBackend struct {
	client  *openai.Client
	model   string
	limiter *ratelimit.KeyedRateLimiter
}

// NewOpenAIBackend creates an OpenAI backend.
func NewOpenAIBackend(opts OpenAIOptions) *OpenAIBackend {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	model := opts.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAIBackend{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		limiter: opts.Limiter,
	}
}

// Name implements Backend.
func (o *OpenAIBackend) Name() string { return "openai" }

// Transcribe implements Backend. It requests verbose JSON to get segment timings.
func (o *OpenAIBackend) Transcribe(ctx context.Context, audioPath, lang string) ([]Segment, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx, openAILimiterKey); err != nil {
			return nil, fmt.Errorf("wait for openai rate limit: %w", err)
		}
	}

	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.model,
		FilePath: audioPath,
		Language: languageCode(lang),
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("openai transcription: %w", err)
	}

	segments := make([]Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segments = append(segments, Segment{Start: s.Start, End: s.End, Text: s.Text})
	}

	// Some models answer without segments; keep the text as one span.
	if len(segments) == 0 && resp.Text != "" {
		segments = append(segments, Segment{Start: 0, End: resp.Duration, Text: resp.Text})
	}
	return segments, nil
}
