package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/AltairaLabs/IntakeKit/logger"
	"github.com/AltairaLabs/IntakeKit/metrics/prometheus"
	"github.com/AltairaLabs/IntakeKit/types"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o"
	openAITimeout        = 60 * time.Second
)

// OpenAIProvider implements the Provider interface against the OpenAI chat
// completions API, with single-tool function calling.
type OpenAIProvider struct {
	id       string
	model    string
	baseURL  string
	apiKey   string
	defaults ProviderDefaults
	client   *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider. The API key is read from
// OPENAI_API_KEY (or OPENAI_TOKEN as a fallback).
func NewOpenAIProvider(id, model, baseURL string, defaults ProviderDefaults) *OpenAIProvider {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_TOKEN")
	}

	if model == "" {
		model = defaultOpenAIModel
	}
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	return &OpenAIProvider{
		id:       id,
		model:    model,
		baseURL:  baseURL,
		apiKey:   apiKey,
		defaults: defaults,
		client:   &http.Client{Timeout: openAITimeout},
	}
}

// WithAPIKey overrides the environment-sourced API key. An empty key is
// ignored.
func (p *OpenAIProvider) WithAPIKey(key string) *OpenAIProvider {
	if key != "" {
		p.apiKey = key
	}
	return p
}

// ID returns the provider ID.
func (p *OpenAIProvider) ID() string {
	return p.id
}

// Close closes the HTTP client and cleans up idle connections.
func (p *OpenAIProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// OpenAI API request/response structures
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float32         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
	Tools       []openAITool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Index        int               `json:"index"`
	Message      openAIRespMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type openAIRespMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Chat sends a chat request to OpenAI. When req.Tool is set, the tool is
// offered to the model and any returned tool call is surfaced in
// ChatResponse.ToolCalls.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	start := time.Now()
	defer func() {
		prometheus.ObserveProviderRequest(p.id, "llm", time.Since(start))
	}()

	openAIReq := p.buildRequest(req)

	reqBody, err := json.Marshal(openAIReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		logger.Error("openai request failed",
			"status", resp.StatusCode,
			"body", logger.RedactSensitiveData(string(respBody)))
		return ChatResponse{Raw: respBody}, fmt.Errorf("API request failed with status %d", resp.StatusCode)
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		return ChatResponse{Raw: respBody}, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if openAIResp.Error != nil {
		return ChatResponse{Raw: respBody}, fmt.Errorf("OpenAI API error: %s", openAIResp.Error.Message)
	}
	if len(openAIResp.Choices) == 0 {
		return ChatResponse{Raw: respBody}, fmt.Errorf("no choices in response")
	}

	choice := openAIResp.Choices[0]
	chatResp := ChatResponse{
		Content: choice.Message.Content,
		Latency: time.Since(start),
		Raw:     respBody,
	}

	for _, tc := range choice.Message.ToolCalls {
		chatResp.ToolCalls = append(chatResp.ToolCalls, types.MessageToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}

	return chatResp, nil
}

// buildRequest converts a ChatRequest into the OpenAI wire format.
func (p *OpenAIProvider) buildRequest(req ChatRequest) openAIRequest {
	messages := make([]openAIMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, openAIMessage{
			Role:    mapRole(msg.Role),
			Content: msg.Content,
		})
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.defaults.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.defaults.MaxTokens
	}

	openAIReq := openAIRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	if req.Tool != nil {
		openAIReq.Tools = []openAITool{{
			Type: "function",
			Function: openAIFunction{
				Name:        req.Tool.Name,
				Description: req.Tool.Description,
				Parameters:  req.Tool.InputSchema,
			},
		}}
		openAIReq.ToolChoice = "auto"
	}

	return openAIReq
}

// mapRole converts transcript roles to OpenAI chat roles.
func mapRole(role string) string {
	switch role {
	case types.RoleCaller:
		return "user"
	case types.RoleAgent:
		return "assistant"
	default:
		return "system"
	}
}
