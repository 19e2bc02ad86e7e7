package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/creatorstudio/entitlements/internal/catalog"
)

const (
	DefaultModel   = "gemini-1.5-flash"
	DefaultTimeout = 30 * time.Second
)

var instructions = map[catalog.Feature]string{
	catalog.FeatureTitles:        "Write catchy video titles, one per line.",
	catalog.FeatureDescriptions:  "Write a video description suitable for the platform.",
	catalog.FeatureHashtags:      "Suggest relevant hashtags, one per line.",
	catalog.FeatureIdeas:         "Suggest content ideas, one per line.",
	catalog.FeatureScripts:       "Write a short video script.",
	catalog.FeatureTweets:        "Write tweets under 280 characters, one per line.",
	catalog.FeatureYouTubePosts:  "Write a YouTube community post.",
	catalog.FeatureRedditPosts:   "Write a Reddit post with a title on the first line.",
	catalog.FeatureLinkedInPosts: "Write a professional LinkedIn post.",
}

// Replies for these features are lists, one item per line.
var listFeatures = map[catalog.Feature]bool{
	catalog.FeatureTitles:   true,
	catalog.FeatureHashtags: true,
	catalog.FeatureIdeas:    true,
	catalog.FeatureTweets:   true,
}

// GeminiGenerator generates content with Google Gemini.
type GeminiGenerator struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiGenerator initializes the Gemini client.
func NewGeminiGenerator(ctx context.Context, apiKey, model string, timeout time.Duration) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &GeminiGenerator{client: client, model: model, timeout: timeout}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, feature catalog.Feature, prompt string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	model := g.client.GenerativeModel(g.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(instructionFor(feature))},
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return Result{}, fmt.Errorf("generating %s: %w", feature, err)
	}
	return resultFromResponse(feature, resp)
}

// Close releases the client connection.
func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}

func instructionFor(feature catalog.Feature) string {
	if s, ok := instructions[feature]; ok {
		return s
	}
	return "Write content for a social media creator."
}

func resultFromResponse(feature catalog.Feature, resp *genai.GenerateContentResponse) (Result, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Result{}, ErrEmptyResponse
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	var content []string
	if listFeatures[feature] {
		content = splitContent(text.String())
	} else if body := strings.TrimSpace(text.String()); body != "" {
		content = []string{body}
	}
	if len(content) == 0 {
		return Result{}, ErrEmptyResponse
	}

	res := Result{Content: content}
	if resp.UsageMetadata != nil {
		res.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	return res, nil
}

// splitContent turns a model reply into items, one per non-empty line, with
// list markers removed.
func splitContent(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• ")
		if i := strings.Index(line, ". "); i > 0 && i <= 3 && isDigits(line[:i]) {
			line = line[i+2:]
		}
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
