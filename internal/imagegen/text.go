package imagegen

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cognicore/dailyintel/pkg/dailyintel/enrich"
	"github.com/cognicore/dailyintel/pkg/dailyintel/story"
)

// TextPromptWriter asks a plain-text generation endpoint (GET
// <endpoint>/<escaped instruction>) for an image prompt.
type TextPromptWriter struct {
	Endpoint   string // e.g. https://text.pollinations.ai
	HTTPClient *http.Client
}

var _ enrich.PromptWriter = (*TextPromptWriter)(nil)

// WritePrompt implements enrich.PromptWriter.
func (w *TextPromptWriter) WritePrompt(ctx context.Context, rec story.Record) (string, error) {
	if w.Endpoint == "" {
		return "", fmt.Errorf("imagegen: text endpoint required")
	}
	u := strings.TrimRight(w.Endpoint, "/") + "/" + url.PathEscape(enrich.MetaPrompt(rec))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	client := w.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("imagegen: prompt status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", err
	}
	prompt := enrich.ClampPrompt(string(body))
	if prompt == "" {
		return "", fmt.Errorf("imagegen: empty prompt for %s", rec.ID)
	}
	return prompt, nil
}
