package codegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"appforge/internal/domain"
	"appforge/internal/domain/model"
	"appforge/internal/domain/ports/adapter"
	"appforge/internal/infra/metrics"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.CodeGenAdapter = (*OpenAIAdapter)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIAdapter implements adapter.CodeGenAdapter using the Chat Completions
// API. It has no agent-session mode: Iterate reports ErrInvalidArgument and
// callers fall back to IterateMonolithic.
type OpenAIAdapter struct {
	apiKey string
	base   string // e.g., https://api.openai.com/v1
	model  string
	client *http.Client
}

func NewOpenAIAdapter(apiKey, baseURL, model string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIAdapter{
		apiKey: apiKey,
		base:   strings.TrimRight(baseURL, "/"),
		model:  model,
		client: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

func (o *OpenAIAdapter) ListModels(ctx context.Context) ([]string, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, o.base+"/models", nil)
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, &domain.RemoteError{Op: "openai.list_models", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, &domain.RemoteError{Op: "openai.list_models", Status: resp.StatusCode, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	var payload struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &domain.RemoteError{Op: "openai.list_models", Err: err}
	}
	out := make([]string, 0, len(payload.Data))
	for _, m := range payload.Data {
		out = append(out, m.ID)
	}
	if len(out) == 0 {
		out = []string{o.model}
	}
	return out, nil
}

func (o *OpenAIAdapter) Analyze(ctx context.Context, message, context_ string) (*model.Requirements, error) {
	reply, err := o.chat(ctx, []chatMessage{
		{Role: "system", Content: analyzeSystem},
		{Role: "user", Content: analyzeUserPrompt(message, context_)},
	})
	if err != nil {
		return nil, err
	}
	var req model.Requirements
	if err := decodeJSONReply(reply, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (o *OpenAIAdapter) Generate(ctx context.Context, req *model.Requirements, item model.PlanItem, context_ string) (adapter.GeneratedFile, error) {
	reply, err := o.chat(ctx, []chatMessage{
		{Role: "system", Content: generateSystem},
		{Role: "user", Content: generateUserPrompt(req, item, context_)},
	})
	if err != nil {
		return adapter.GeneratedFile{}, err
	}
	var f adapter.GeneratedFile
	if err := decodeJSONReply(reply, &f); err != nil {
		return adapter.GeneratedFile{}, err
	}
	if f.Path == "" {
		f.Path = item.Path
	}
	return f, nil
}

// Iterate is not supported in chat-completions mode.
func (o *OpenAIAdapter) Iterate(ctx context.Context, message string, files []model.ProjectFile, context_ string) (adapter.IterateResult, error) {
	return adapter.IterateResult{}, fmt.Errorf("openai: agent session mode: %w", domain.ErrInvalidArgument)
}

func (o *OpenAIAdapter) IterateMonolithic(ctx context.Context, message string, files []model.ProjectFile, context_ string) (adapter.IterateResult, error) {
	reply, err := o.chat(ctx, []chatMessage{
		{Role: "system", Content: iterateSystem},
		{Role: "user", Content: iterateUserPrompt(message, files, context_)},
	})
	if err != nil {
		return adapter.IterateResult{}, err
	}
	var res adapter.IterateResult
	if err := decodeJSONReply(reply, &res); err != nil {
		return adapter.IterateResult{}, err
	}
	return res, nil
}

func (o *OpenAIAdapter) Fix(ctx context.Context, errs []adapter.ValidationError, affected []model.ProjectFile, all []model.ProjectFile) (adapter.FixResult, error) {
	reply, err := o.chat(ctx, []chatMessage{
		{Role: "system", Content: fixSystem},
		{Role: "user", Content: fixUserPrompt(errs, affected, all)},
	})
	if err != nil {
		return adapter.FixResult{}, err
	}
	var res adapter.FixResult
	if err := decodeJSONReply(reply, &res); err != nil {
		return adapter.FixResult{}, err
	}
	return res, nil
}

func (o *OpenAIAdapter) chat(ctx context.Context, messages []chatMessage) (string, error) {
	o.recordPromptTokens(messages)

	reqBody := struct {
		Model    string        `json:"model"`
		Messages []chatMessage `json:"messages"`
	}{Model: o.model, Messages: messages}

	b, _ := json.Marshal(reqBody)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, o.base+"/chat/completions", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", &domain.RemoteError{Op: "openai.chat", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", &domain.RemoteError{Op: "openai.chat", Status: resp.StatusCode, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	var payload struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
		Usage struct {
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", &domain.RemoteError{Op: "openai.chat", Err: err}
	}
	metrics.AddCodegenTokens("openai", o.model, "completion", payload.Usage.CompletionTokens)
	for _, c := range payload.Choices {
		if c.Message.Content != "" {
			return c.Message.Content, nil
		}
	}
	return "", &domain.RemoteError{Op: "openai.chat", Err: errors.New("no choice content")}
}

// recordPromptTokens estimates the prompt size locally; the API reports usage
// only after the call, and a pre-call estimate is what capacity alerts key on.
func (o *OpenAIAdapter) recordPromptTokens(messages []chatMessage) {
	enc, err := tiktoken.EncodingForModel(o.model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return
		}
	}
	n := 0
	for _, m := range messages {
		n += len(enc.Encode(m.Content, nil, nil))
	}
	metrics.AddCodegenTokens("openai", o.model, "prompt", n)
}
