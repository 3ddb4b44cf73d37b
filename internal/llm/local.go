package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// localProvider speaks the Ollama-style local inference API.
type localProvider struct {
	name    string
	baseURL string
	model   string
	client  *http.Client
}

func newLocalProvider(name, baseURL, model string, client *http.Client) *localProvider {
	return &localProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  client,
	}
}

func (p *localProvider) Name() string { return p.name }

type localGenerateRequest struct {
	Model   string             `json:"model"`
	Prompt  string             `json:"prompt"`
	Stream  bool               `json:"stream"`
	Options map[string]float64 `json:"options,omitempty"`
}

type localGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (p *localProvider) Generate(ctx context.Context, prompt string, prof Profile) (string, error) {
	body, err := json.Marshal(localGenerateRequest{
		Model:   p.model,
		Prompt:  prompt,
		Stream:  false,
		Options: map[string]float64{"temperature": prof.Temperature, "top_p": prof.TopP},
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: %s request failed: %w", p.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("llm: %s returned %d: %s", p.name, resp.StatusCode, string(msg))
	}
	var out localGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("llm: decode %s response: %w", p.name, err)
	}
	return out.Response, nil
}

// Stream issues a streaming generate and forwards chunks until done.
func (p *localProvider) Stream(ctx context.Context, prompt string, prof Profile) (<-chan string, error) {
	body, err := json.Marshal(localGenerateRequest{
		Model:   p.model,
		Prompt:  prompt,
		Stream:  true,
		Options: map[string]float64{"temperature": prof.Temperature, "top_p": prof.TopP},
	})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: %s request failed: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("llm: %s returned %d: %s", p.name, resp.StatusCode, string(msg))
	}

	ch := make(chan string)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var out localGenerateResponse
			if err := json.Unmarshal(scanner.Bytes(), &out); err != nil {
				continue
			}
			if out.Response != "" {
				select {
				case ch <- out.Response:
				case <-ctx.Done():
					return
				}
			}
			if out.Done {
				return
			}
		}
	}()
	return ch, nil
}

// Probe lists local models; any 200 counts as alive.
func (p *localProvider) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llm: %s probe returned %d", p.name, resp.StatusCode)
	}
	return nil
}
