package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/appfoundry/publisher/pkg/task"
)

const defaultOpenAIBase = "https://api.openai.com"

const systemPrompt = "You are a code generator. Given a brief and attachments, produce a JSON object mapping filenames to file contents. " +
	"Only return the JSON object and nothing else. Files should be small and safe (no secrets)."

// OpenAIClient asks the chat completions API to produce a filename-to-content
// map for a brief.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAIClient creates a client with sane defaults. Returns nil when no
// API key is configured so callers can treat the LLM as absent.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if apiKey == "" {
		return nil
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClient{
		baseURL: defaultOpenAIBase,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// GenerateFiles returns the generated file map for the brief.
func (c *OpenAIClient) GenerateFiles(ctx context.Context, brief string, attachments []task.Attachment) (map[string]string, error) {
	userPayload, err := json.Marshal(map[string]any{
		"brief":       brief,
		"attachments": attachments,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generation input: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(userPayload)},
		},
		Temperature: 0.2,
		MaxTokens:   1500,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/chat/completions", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("chat completion failed: %s", strings.TrimSpace(string(payload)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	return parseFileMap(out.Choices[0].Message.Content)
}

// parseFileMap expects pure JSON, tolerating code fences or surrounding prose
// by extracting the outermost object.
func parseFileMap(text string) (map[string]string, error) {
	var files map[string]string
	if err := json.Unmarshal([]byte(text), &files); err == nil {
		return files, nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in model output")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &files); err != nil {
		return nil, fmt.Errorf("decode model file map: %w", err)
	}
	return files, nil
}
