package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Generator is a synchronous text-generation service.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiConfig selects the Gemini API (APIKey) or Vertex AI (Project and Location).
type GeminiConfig struct {
	APIKey   string
	Project  string
	Location string
	Model    string
}

// Gemini generates text with deterministic decoding and safety filtering disabled.
type Gemini struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// NewGemini creates a client. Vertex AI credentials are taken from the environment.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.Model == "" {
		return nil, errors.New("gemini model is required")
	}

	cc := &genai.ClientConfig{}
	switch {
	case cfg.APIKey != "":
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	case cfg.Project != "" && cfg.Location != "":
		cc.Project = cfg.Project
		cc.Location = cfg.Location
		cc.Backend = genai.BackendVertexAI
	default:
		return nil, errors.New("gemini requires an API key or a project and location")
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  cfg.Model,
		config: &genai.GenerateContentConfig{
			Temperature:    genai.Ptr[float32](0),
			TopP:           genai.Ptr[float32](1),
			TopK:           genai.Ptr[float32](32),
			SafetySettings: safetySettings(),
		},
	}, nil
}

// Structured returns a copy constrained to reply with the enrichment array schema.
func (g *Gemini) Structured() *Gemini {
	cfg := *g.config
	cfg.ResponseMIMEType = "application/json"
	cfg.ResponseSchema = ResponseSchema()
	return &Gemini{client: g.client, model: g.model, config: &cfg}
}

func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		g.config,
	)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("generate content: prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return "", errors.New("generate content: empty response")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func safetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryDangerousContent,
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
	}
	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, c := range categories {
		settings = append(settings, &genai.SafetySetting{Category: c, Threshold: genai.HarmBlockThresholdBlockNone})
	}
	return settings
}

// ResponseSchema describes the enrichment array the model must return.
func ResponseSchema() *genai.Schema {
	str := func(enum []string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Enum: enum}
	}
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"id":                   str(nil),
				"topic_classification": str(Topics),
				"urgency_level": {
					Type:    genai.TypeInteger,
					Minimum: genai.Ptr[float64](0),
					Maximum: genai.Ptr[float64](100),
				},
				"sentiment":          str(Sentiments),
				"target_audience":    {Type: genai.TypeArray, Items: str(Audiences)},
				"affected_region":    str(Regions),
				"contextual_summary": str(nil),
				"contextual_keywords": {
					Type:     genai.TypeArray,
					Items:    str(nil),
					MaxItems: genai.Ptr[int64](MaxKeywords),
				},
			},
			Required: []string{
				"id", "topic_classification", "urgency_level", "sentiment",
				"target_audience", "affected_region", "contextual_summary", "contextual_keywords",
			},
		},
	}
}
