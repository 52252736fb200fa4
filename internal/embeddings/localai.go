package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/auditgraph/vulnalign-go/internal/metrics"
)

// localAIProvider targets any OpenAI-compatible /embeddings endpoint served
// locally (LocalAI, llama.cpp server). Unlike the hosted OpenAI provider it
// cannot request a dimensionality in-band, so its native size must match the
// store or be coerced explicitly via EMBEDDINGS_ADAPT_MODE.
type localAIProvider struct {
	baseURL string
	model   string
	dims    int
	http    *http.Client
	apiKey  string
}

func newLocalAIFromEnv() Provider {
	baseURL := strings.TrimRight(os.Getenv("LOCALAI_BASE_URL"), "/")
	if baseURL == "" {
		baseURL = "http://localhost:8080/v1"
	}
	model := strings.TrimSpace(os.Getenv("LOCALAI_EMBEDDINGS_MODEL"))
	if model == "" {
		model = "text-embedding-ada-002"
	}
	// ada-002-compatible deployments produce 1536 dims; "large" model names
	// signal the 3072-dim variants.
	dims := 1536
	if strings.Contains(model, "large") {
		dims = 3072
	}
	return &localAIProvider{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		http:    &http.Client{Timeout: 15 * time.Second},
		apiKey:  os.Getenv("LOCALAI_API_KEY"),
	}
}

func (p *localAIProvider) Name() string    { return "localai" }
func (p *localAIProvider) Dimensions() int { return p.dims }

func (p *localAIProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	done := metrics.TimeEmbed(p.Name())
	success := false
	defer func() { done(success) }()

	payload := map[string]any{
		"model": p.model,
		"input": inputs,
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var b struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&b)
		if b.Error.Message != "" {
			return nil, fmt.Errorf("localai embeddings error: %s", b.Error.Message)
		}
		return nil, fmt.Errorf("localai embeddings http status: %s", resp.Status)
	}
	var out struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(inputs) {
		return nil, fmt.Errorf("localai returned %d embeddings for %d inputs", len(out.Data), len(inputs))
	}
	res := make([][]float32, 0, len(out.Data))
	for _, d := range out.Data {
		res = append(res, f64to32(d.Embedding))
	}
	success = true
	return res, nil
}
