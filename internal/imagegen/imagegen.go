// Package imagegen talks to a Pollinations-style HTTP image service: the
// prompt goes in the URL path and the response body is the image.
package imagegen

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cognicore/dailyintel/pkg/dailyintel/enrich"
)

// maxImageBytes bounds a downloaded image.
const maxImageBytes = 20 << 20

// HTTPGenerator implements enrich.Generator.
type HTTPGenerator struct {
	Endpoint string // e.g. https://image.pollinations.ai
	Width    int
	Height   int
	Model    string

	HTTPClient *http.Client
}

var _ enrich.Generator = (*HTTPGenerator)(nil)

// Seed derives a stable generation seed from a record id so a retried or
// repeated request asks for the same picture.
func Seed(id string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(id))
	return h.Sum32() % 1_000_000
}

// URL returns the request URL for prompt and seed.
func (g *HTTPGenerator) URL(prompt, seed string) string {
	q := url.Values{}
	q.Set("seed", strconv.FormatUint(uint64(Seed(seed)), 10))
	q.Set("width", strconv.Itoa(orDefault(g.Width, 1024)))
	q.Set("height", strconv.Itoa(orDefault(g.Height, 1024)))
	q.Set("nologo", "true")
	if g.Model != "" {
		q.Set("model", g.Model)
	}
	return strings.TrimRight(g.Endpoint, "/") + "/prompt/" + url.PathEscape(prompt) + "?" + q.Encode()
}

// Generate downloads one image. Client errors other than throttling are
// marked permanent so the coordinator does not retry them.
func (g *HTTPGenerator) Generate(ctx context.Context, prompt, seed string) (enrich.Image, error) {
	if g.Endpoint == "" {
		return enrich.Image{}, enrich.Permanent(fmt.Errorf("imagegen: endpoint required"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.URL(prompt, seed), nil)
	if err != nil {
		return enrich.Image{}, enrich.Permanent(err)
	}
	resp, err := g.httpClient().Do(req)
	if err != nil {
		return enrich.Image{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("imagegen: status %d", resp.StatusCode)
		if retryable(resp.StatusCode) {
			return enrich.Image{}, err
		}
		return enrich.Image{}, enrich.Permanent(err)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return enrich.Image{}, fmt.Errorf("imagegen: read body: %w", err)
	}
	if len(data) > maxImageBytes {
		return enrich.Image{}, enrich.Permanent(fmt.Errorf("imagegen: image larger than %d bytes", maxImageBytes))
	}
	ext, err := enrich.ExtFor(data)
	if err != nil {
		// Services sometimes answer 200 with an HTML error page.
		return enrich.Image{}, fmt.Errorf("imagegen: %w", err)
	}
	return enrich.Image{Data: data, Ext: ext, Prompt: prompt}, nil
}

func retryable(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout
}

func (g *HTTPGenerator) httpClient() *http.Client {
	if g.HTTPClient != nil {
		return g.HTTPClient
	}
	// The coordinator bounds each attempt through the context.
	return &http.Client{Timeout: 2 * time.Minute}
}

func orDefault(v, d int) int {
	if v > 0 {
		return v
	}
	return d
}
