package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Ollama executes agent turns against a local Ollama server. This is the
// recommended backend for self-hosted deployments: inference stays
// on-premises and data never leaves the operator's network.
type Ollama struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllama creates a runner that calls Ollama's generate API. Model should
// be an instruction-tuned model like "llama3.1" or "qwen2.5".
func NewOllama(baseURL, model string, timeout time.Duration) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Ollama{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name identifies the backend.
func (*Ollama) Name() string { return "ollama" }

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Run sends the agent goal and input to Ollama and parses the response.
// The agent's own model field, when set, overrides the configured default.
func (o *Ollama) Run(ctx context.Context, req Request) (Result, error) {
	mdl := o.model
	if req.Agent.Model != "" {
		mdl = req.Agent.Model
	}

	inputJSON, err := json.Marshal(req.Input)
	if err != nil {
		return Result{}, fmt.Errorf("runner: marshal input: %w", err)
	}

	var prompt strings.Builder
	prompt.WriteString("Input:\n")
	prompt.Write(inputJSON)
	if len(req.Tools) > 0 {
		prompt.WriteString("\n\nAvailable tools:\n")
		for _, t := range req.Tools {
			fmt.Fprintf(&prompt, "- %s: %s\n", t.Name, t.Description)
		}
	}
	prompt.WriteString("\nRespond with a single JSON object.")

	reqBody, err := json.Marshal(ollamaGenerateRequest{
		Model:  mdl,
		Prompt: prompt.String(),
		System: req.Agent.Goal,
		Stream: false,
		Format: "json",
	})
	if err != nil {
		return Result{}, fmt.Errorf("runner: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return Result{}, fmt.Errorf("runner: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("runner: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Result{}, fmt.Errorf("runner: ollama status %d: %s", resp.StatusCode, string(body))
	}

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("runner: decode response: %w", err)
	}
	if result.Response == "" {
		return Result{}, fmt.Errorf("runner: empty response from ollama")
	}

	output := ParseModelOutput(result.Response)
	return Result{Output: output, Raw: json.RawMessage(result.Response)}, nil
}

// Healthy pings the Ollama server.
func (o *Ollama) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("runner: create health request: %w", err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("runner: ollama unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("runner: ollama health status %d", resp.StatusCode)
	}
	return nil
}
