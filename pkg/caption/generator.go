package caption

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/webmemo-code/flickr-to-instagram-automation/internal/blog"
	"github.com/webmemo-code/flickr-to-instagram-automation/internal/config"
	"github.com/webmemo-code/flickr-to-instagram-automation/internal/domain"
	"github.com/webmemo-code/flickr-to-instagram-automation/internal/logger"
	"github.com/webmemo-code/flickr-to-instagram-automation/pkg/httpclient"
)

const DefaultModel = "gemini-2.5-flash"

// contentCaller is the slice of the genai client the generator needs; tests
// substitute a fake.
type contentCaller interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Generator produces Instagram captions with Gemini, feeding it the photo
// image plus the metadata and blog context collected upstream.
type Generator struct {
	models contentCaller
	http   httpclient.Client
	model  string
	log    logger.Logger
}

// NewGenerator dials the Gemini API.
func NewGenerator(ctx context.Context, apiKey, model string, httpClient httpclient.Client, log logger.Logger) (*Generator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	if httpClient == nil {
		httpClient = httpclient.NewRestyClient(60 * time.Second)
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Generator{models: client.Models, http: httpClient, model: model, log: log}, nil
}

// Generate produces the model-written caption body for one photo. The image
// itself is downloaded and sent inline so the model describes what is
// actually in the frame, not just the metadata.
func (g *Generator) Generate(ctx context.Context, acct config.Account, photo domain.Photo, match *blog.ContextMatch) (string, error) {
	prompt := BuildPrompt(acct, photo, match)

	parts := []*genai.Part{{Text: prompt}}
	if blob := g.fetchImage(ctx, photo.SourceURL); blob != nil {
		parts = append([]*genai.Part{{InlineData: blob}}, parts...)
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.4),
		MaxOutputTokens: 600,
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("generate caption: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("model returned an empty caption")
	}

	g.log.InfoObj("caption generated", "caption", map[string]any{
		"photo":        photo.ID,
		"account":      acct.ID,
		"with_context": match != nil,
		"length":       len(text),
	})
	return text, nil
}

// GenerateWithFallback never fails the run over captioning: if the model is
// unavailable it falls back to the photo's own title and description.
func (g *Generator) GenerateWithFallback(ctx context.Context, acct config.Account, photo domain.Photo, match *blog.ContextMatch) string {
	text, err := g.Generate(ctx, acct, photo, match)
	if err != nil {
		g.log.WarnObj("caption generation failed, using fallback", "caption", map[string]any{
			"photo": photo.ID,
			"error": err.Error(),
		})
		return FallbackCaption(photo)
	}
	return text
}

// fetchImage downloads the photo for inline submission. Best-effort: a miss
// just means the model works from metadata alone.
func (g *Generator) fetchImage(ctx context.Context, url string) *genai.Blob {
	if url == "" {
		return nil
	}
	resp, err := g.http.Get(ctx, url, nil)
	if err != nil || resp.StatusCode() != 200 {
		g.log.DebugObj("image fetch for captioning failed", "caption", map[string]any{"url": url})
		return nil
	}
	mime := resp.Header("Content-Type")
	if mime == "" {
		mime = "image/jpeg"
	}
	return &genai.Blob{MIMEType: mime, Data: resp.Body()}
}
