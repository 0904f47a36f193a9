package recommend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPProvider calls an external recommendation endpoint with a JSON body
// and expects `{action, confidence, alternatives}` back.
type HTTPProvider struct {
	ProviderName string
	URL          string
	APIKey       string
	Model        string
	Client       *http.Client
}

// NewHTTPProvider constructs a provider with sane client defaults.
func NewHTTPProvider(name, url, apiKey, model string) *HTTPProvider {
	return &HTTPProvider{
		ProviderName: name,
		URL:          url,
		APIKey:       apiKey,
		Model:        model,
		Client:       &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *HTTPProvider) Name() string {
	if p.ProviderName != "" {
		return p.ProviderName
	}
	return "http"
}

type httpRequestBody struct {
	Model    string  `json:"model,omitempty"`
	Decision Request `json:"decision"`
}

type httpResponseBody struct {
	Action       string   `json:"action"`
	Confidence   float64  `json:"confidence"`
	Alternatives []string `json:"alternatives"`
}

func (p *HTTPProvider) Recommend(ctx context.Context, req Request) (Recommendation, error) {
	if strings.TrimSpace(p.URL) == "" {
		return Recommendation{}, errors.New("recommend: provider URL is empty")
	}

	payload, err := json.Marshal(httpRequestBody{Model: p.Model, Decision: req})
	if err != nil {
		return Recommendation{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(payload))
	if err != nil {
		return Recommendation{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return Recommendation{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Recommendation{}, fmt.Errorf("recommend: %s returned %d: %s", p.Name(), resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out httpResponseBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Recommendation{}, fmt.Errorf("recommend: decode %s response: %w", p.Name(), err)
	}
	if strings.TrimSpace(out.Action) == "" {
		return Recommendation{}, errors.New("recommend: provider returned empty action")
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return Recommendation{}, fmt.Errorf("recommend: confidence %v out of range", out.Confidence)
	}
	return Recommendation{
		Action:       out.Action,
		Confidence:   out.Confidence,
		Alternatives: out.Alternatives,
	}, nil
}
