package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cognicore/dailyintel/pkg/dailyintel/story"
)

// MaxPromptRunes bounds generated image prompts.
const MaxPromptRunes = 300

// PromptWriter turns a record's title and summary into an image prompt.
type PromptWriter interface {
	WritePrompt(ctx context.Context, rec story.Record) (string, error)
}

// MetaPrompt is the instruction given to a language model that writes image
// prompts.
func MetaPrompt(rec story.Record) string {
	return fmt.Sprintf(`Create a detailed and vivid image generation prompt for a news article.

Title: %s
Summary: %s

The prompt should describe a realistic, high-quality image suitable for a news website.
Focus on the visual elements, mood, and key subjects.
Do not include text in the image.
Keep the prompt under %d characters.
Output only the prompt text.`, rec.Title, rec.Summary, MaxPromptRunes)
}

// TemplatePrompt builds prompts without a language model.
type TemplatePrompt struct{}

// WritePrompt implements PromptWriter.
func (TemplatePrompt) WritePrompt(_ context.Context, rec story.Record) (string, error) {
	subject := strings.TrimSpace(rec.Title)
	if subject == "" {
		return "", fmt.Errorf("record %s has no title", rec.ID)
	}
	p := "Realistic, high-quality editorial photo for a technology news story: " + subject
	if s := strings.TrimSpace(rec.Summary); s != "" && s != subject {
		p += ". " + s
	}
	return ClampPrompt(p + ". No text in the image."), nil
}

// ClampPrompt trims whitespace and quotes a model may wrap around a prompt
// and cuts it to MaxPromptRunes on a word boundary.
func ClampPrompt(p string) string {
	p = strings.Join(strings.Fields(p), " ")
	p = strings.Trim(p, "\"'`")
	runes := []rune(p)
	if len(runes) <= MaxPromptRunes {
		return p
	}
	cut := MaxPromptRunes
	for i := cut; i > MaxPromptRunes/2; i-- {
		if runes[i] == ' ' {
			cut = i
			break
		}
	}
	return strings.TrimRight(string(runes[:cut]), " ,.;:")
}

// fallbackPrompts tries each writer in order and uses the template when all
// of them fail or return nothing. Each writer gets at most timeout.
type fallbackPrompts struct {
	writers []PromptWriter
	timeout time.Duration
}

func (f fallbackPrompts) WritePrompt(ctx context.Context, rec story.Record) (string, error) {
	for _, w := range f.writers {
		if w == nil {
			continue
		}
		p, err := f.write(ctx, w, rec)
		if err == nil {
			if p = ClampPrompt(p); p != "" {
				return p, nil
			}
		}
	}
	return TemplatePrompt{}.WritePrompt(ctx, rec)
}

func (f fallbackPrompts) write(ctx context.Context, w PromptWriter, rec story.Record) (string, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	return w.WritePrompt(ctx, rec)
}
