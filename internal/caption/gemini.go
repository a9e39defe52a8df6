// Package caption suggests short captions for grid cells with Gemini on
// Vertex AI.
package caption

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"google.golang.org/genai"

	"github.com/bodul/wafflegram/internal/cell"
)

const (
	defaultRegion = "europe-west1"
	defaultModel  = "gemini-2.5-flash"

	// MaxLength is the longest caption, in runes, a suggestion may have.
	MaxLength = 60
)

const suggestPrompt = `You caption the tiles of a collaborative picture grid.

Write one caption for the tile below, as JSON: {"caption": "<text>"}

Rules:
- At most 8 words, no trailing punctuation.
- Describe what is shown, not the image format.
- For a plain color tile, name the color evocatively.
- Reply ONLY with the JSON, no commentary or markdown.`

// ErrEmptyResponse reports a model reply without a usable caption.
var ErrEmptyResponse = errors.New("empty caption response")

// GeminiClient wraps the Google GenAI client for Vertex AI.
type GeminiClient struct {
	client    *genai.Client
	modelName string
}

// NewGeminiClient creates a client using Application Default Credentials.
// Set GOOGLE_APPLICATION_CREDENTIALS to the service account key file path.
func NewGeminiClient(ctx context.Context, projectID, region string) (*GeminiClient, error) {
	if projectID == "" {
		return nil, errors.New("caption: project ID is required")
	}
	if region == "" {
		region = defaultRegion
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: region,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GeminiClient{
		client:    client,
		modelName: defaultModel,
	}, nil
}

// Model returns the model name captions are requested from.
func (g *GeminiClient) Model() string { return g.modelName }

// Close releases resources held by the client.
func (g *GeminiClient) Close() error {
	return nil
}

// Suggest asks Gemini for a caption describing c.
func (g *GeminiClient) Suggest(ctx context.Context, c cell.Cell) (string, error) {
	parts, err := Parts(c)
	if err != nil {
		return "", err
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.modelName,
		[]*genai.Content{{Role: "user", Parts: parts}},
		&genai.GenerateContentConfig{
			Temperature:      genai.Ptr(float32(0.4)),
			TopP:             genai.Ptr(float32(1)),
			ResponseMIMEType: "application/json",
		},
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return ParseResponse(resp.Text())
}

// Parts builds the request parts for c: the prompt followed by the tile.
func Parts(c cell.Cell) ([]*genai.Part, error) {
	parts := []*genai.Part{{Text: suggestPrompt}}
	switch c.Kind {
	case cell.KindColor:
		if c.Content == "" {
			return nil, errors.New("caption: blank tile")
		}
		parts = append(parts, &genai.Part{Text: "Tile color: " + c.Content})
	case cell.KindImageURL:
		if c.Content == "" {
			return nil, errors.New("caption: image URL is empty")
		}
		parts = append(parts, &genai.Part{FileData: &genai.FileData{FileURI: c.Content, MIMEType: "image/jpeg"}})
	case cell.KindImageB64:
		data, err := base64.StdEncoding.DecodeString(c.Content)
		if err != nil {
			return nil, fmt.Errorf("caption: decode image: %w", err)
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: "image/jpeg", Data: data}})
	default:
		return nil, fmt.Errorf("caption: unknown cell kind %q", c.Kind)
	}
	return parts, nil
}

// ParseResponse extracts and normalizes the caption from a model reply.
func ParseResponse(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	var out struct {
		Caption string `json:"caption"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return "", fmt.Errorf("parse caption JSON: %w\nraw response: %s", err, text)
	}
	caption := Normalize(out.Caption)
	if caption == "" {
		return "", ErrEmptyResponse
	}
	return caption, nil
}

// Normalize collapses whitespace, drops trailing punctuation and truncates
// to MaxLength runes.
func Normalize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRight(s, ".!?,;: ")
	if utf8.RuneCountInString(s) > MaxLength {
		s = strings.TrimSpace(string([]rune(s)[:MaxLength]))
	}
	return s
}
