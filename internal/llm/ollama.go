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

// DefaultOllamaBaseURL is the local Ollama endpoint.
const DefaultOllamaBaseURL = "http://localhost:11434"

// OllamaProvider speaks the Ollama /api/chat wire format. Streaming responses
// arrive as newline-delimited JSON objects.
type OllamaProvider struct {
	baseURL string
	client  *http.Client
}

// NewOllamaProvider creates an Ollama provider for baseURL.
func NewOllamaProvider(baseURL string) *OllamaProvider {
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	return &OllamaProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
	}
}

// Name returns the registry identifier.
func (p *OllamaProvider) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatChunk struct {
	Message struct {
		Content  string `json:"content"`
		Thinking string `json:"thinking"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// Chat performs a complete chat call.
func (p *OllamaProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	resp, err := p.send(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var parsed ollamaChatChunk
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("provider error: %s", parsed.Error)
	}
	return &Response{
		Text:      parsed.Message.Content,
		Reasoning: parsed.Message.Thinking,
	}, nil
}

// ChatStream performs a streaming chat call over NDJSON chunks.
func (p *OllamaProvider) ChatStream(ctx context.Context, req Request) (<-chan Fragment, error) {
	resp, err := p.send(ctx, req, true)
	if err != nil {
		return nil, err
	}

	out := make(chan Fragment)
	go func() {
		defer close(out)
		defer func() { _ = resp.Body.Close() }()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var chunk ollamaChatChunk
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				emitFragment(ctx, out, Fragment{Err: fmt.Sprintf("decode stream chunk: %v", err)})
				return
			}
			if chunk.Error != "" {
				emitFragment(ctx, out, Fragment{Err: chunk.Error})
				return
			}
			if chunk.Message.Content != "" || chunk.Message.Thinking != "" {
				if !emitFragment(ctx, out, Fragment{Text: chunk.Message.Content, Reasoning: chunk.Message.Thinking}) {
					return
				}
			}
			if chunk.Done {
				emitFragment(ctx, out, Fragment{Done: true})
				return
			}
		}
		if err := scanner.Err(); err != nil {
			emitFragment(ctx, out, Fragment{Err: fmt.Sprintf("read stream: %v", err)})
			return
		}
		emitFragment(ctx, out, Fragment{Done: true})
	}()
	return out, nil
}

func (p *OllamaProvider) send(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   stream,
	})
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("chat request failed with status %d: %s", resp.StatusCode, string(msg))
	}
	return resp, nil
}

var _ Provider = (*OllamaProvider)(nil)
