// Package gemini is a thin HTTP client for the Google generative-language
// REST API, narrowed to the single generateContent call the workers need.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mohamad-damaj/shoptimizer/internal/domain"
)

// DefaultModel matches the model the backend was tuned against.
const DefaultModel = "gemini-3-flash-preview"

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Request is the input bundle for one generation call.
type Request struct {
	SystemInstruction string
	Prompt            string
	// ImageMIME/ImageData attach an inline image part when non-empty.
	ImageMIME   string
	ImageData   []byte
	MaxTokens   int
	Temperature float64
}

// Response is the normalized model output.
type Response struct {
	Text  string
	Usage domain.Usage
}

// Generator is the narrow collaborator contract the task handlers depend on,
// so tests can substitute a recording stub.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Model() string
}

// Options configures a Client.
type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// Client calls the generativelanguage REST API.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	httpc   *http.Client
}

// NewClient builds a Client, applying defaults for model, base URL and
// HTTP client.
func NewClient(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		// Generation calls run for tens of seconds; the per-job context is
		// the real deadline, this is only a backstop.
		httpc = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{apiKey: opts.APIKey, model: model, baseURL: baseURL, httpc: httpc}, nil
}

func (c *Client) Model() string { return c.model }

// wire types for the generateContent call

type apiPart struct {
	Text       string         `json:"text,omitempty"`
	InlineData *apiInlineData `json:"inline_data,omitempty"`
}

type apiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"` // base64
}

type apiContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []apiPart `json:"parts"`
}

type apiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type apiRequest struct {
	SystemInstruction *apiContent         `json:"system_instruction,omitempty"`
	Contents          []apiContent        `json:"contents"`
	GenerationConfig  apiGenerationConfig `json:"generationConfig"`
}

type apiResponse struct {
	Candidates []struct {
		Content apiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Generate performs exactly one generateContent call. It is the caller's only
// suspension point; cancellation and deadlines arrive through ctx.
func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	parts := []apiPart{{Text: req.Prompt}}
	if len(req.ImageData) > 0 {
		mime := req.ImageMIME
		if mime == "" {
			mime = "image/png"
		}
		parts = append(parts, apiPart{InlineData: &apiInlineData{
			MIMEType: mime,
			Data:     base64.StdEncoding.EncodeToString(req.ImageData),
		}})
	}

	payload := apiRequest{
		Contents: []apiContent{{Role: "user", Parts: parts}},
		GenerationConfig: apiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if req.SystemInstruction != "" {
		payload.SystemInstruction = &apiContent{Parts: []apiPart{{Text: req.SystemInstruction}}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, &domain.GenerationError{Reason: "model call", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, &domain.GenerationError{Reason: "read model response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.GenerationError{
			Reason: fmt.Sprintf("model returned status %d: %s", resp.StatusCode, truncate(raw, 512)),
		}
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &domain.GenerationError{Reason: "decode model response", Err: err}
	}
	if len(parsed.Candidates) == 0 {
		return nil, &domain.GenerationError{Reason: "model returned no candidates"}
	}

	var sb strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}

	// Token counts absent upstream stay zero; usage is accounting, never a
	// reason to fail the job.
	return &Response{
		Text: sb.String(),
		Usage: domain.Usage{
			InputTokens:  parsed.UsageMetadata.PromptTokenCount,
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  parsed.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
