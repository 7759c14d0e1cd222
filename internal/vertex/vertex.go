// Package vertex writes image prompts with a Gemini model on Vertex AI.
package vertex

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/cognicore/dailyintel/pkg/dailyintel/enrich"
	"github.com/cognicore/dailyintel/pkg/dailyintel/story"
)

const systemInstruction = `You write prompts for an image generation model that illustrates technology news.
Describe one realistic scene: subjects, setting, lighting and mood.
Never ask for text, logos or captions in the image. Reply with the prompt only.`

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i can't help",
	"as a large language model",
}

// generator is the part of *genai.GenerativeModel the writer uses.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// PromptWriter implements enrich.PromptWriter on Vertex AI.
type PromptWriter struct {
	model  generator
	client *genai.Client
}

var _ enrich.PromptWriter = (*PromptWriter)(nil)

// NewPromptWriter connects to Vertex AI and configures the model.
func NewPromptWriter(ctx context.Context, projectID, region, modelName string) (*PromptWriter, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("vertex: projectID and region cannot be empty")
	}
	client, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0.7),
		MaxOutputTokens: genai.Ptr[int32](200),
	}
	return &PromptWriter{model: model, client: client}, nil
}

// Close releases the client.
func (w *PromptWriter) Close() error {
	if w.client != nil {
		return w.client.Close()
	}
	return nil
}

// WritePrompt asks Gemini for an image prompt describing rec.
func (w *PromptWriter) WritePrompt(ctx context.Context, rec story.Record) (string, error) {
	resp, err := w.model.GenerateContent(ctx, genai.Text(enrich.MetaPrompt(rec)))
	if err != nil {
		return "", fmt.Errorf("failed to generate prompt from gemini: %w", err)
	}

	prompt := responseText(resp)
	lower := strings.ToLower(prompt)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return "", fmt.Errorf("gemini refused to write a prompt for %s", rec.ID)
		}
	}
	if prompt = enrich.ClampPrompt(prompt); prompt == "" {
		return "", fmt.Errorf("gemini returned an empty prompt for %s", rec.ID)
	}
	return prompt, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	s := strings.TrimSpace(b.String())
	s = strings.TrimPrefix(s, "```text")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
