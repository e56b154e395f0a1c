package codegen

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"appforge/internal/domain"
	"appforge/internal/domain/model"
	"appforge/internal/domain/ports/adapter"
	"appforge/internal/infra/metrics"
)

var _ adapter.CodeGenAdapter = (*GeminiAdapter)(nil)

// GeminiAdapter implements adapter.CodeGenAdapter using the official SDK.
// Unlike the chat-completions adapter it supports the session-based Iterate
// path: the file dump goes in as history and the change request as the final
// user turn.
type GeminiAdapter struct {
	client       *genai.Client
	defaultModel string
}

func NewGeminiAdapter(ctx context.Context, apiKey, baseURL, defaultModel string) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{client: c, defaultModel: defaultModel}, nil
}

func (g *GeminiAdapter) ListModels(ctx context.Context) ([]string, error) {
	var out []string
	for m := range g.client.Models.All(ctx) {
		if m.Name != "" {
			out = append(out, m.Name)
		}
	}
	if len(out) == 0 {
		out = []string{g.defaultModel}
	}
	return out, nil
}

func (g *GeminiAdapter) Analyze(ctx context.Context, message, context_ string) (*model.Requirements, error) {
	reply, err := g.generate(ctx, analyzeSystem, analyzeUserPrompt(message, context_))
	if err != nil {
		return nil, err
	}
	var req model.Requirements
	if err := decodeJSONReply(reply, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (g *GeminiAdapter) Generate(ctx context.Context, req *model.Requirements, item model.PlanItem, context_ string) (adapter.GeneratedFile, error) {
	reply, err := g.generate(ctx, generateSystem, generateUserPrompt(req, item, context_))
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

// Iterate feeds each project file as one history turn, then sends the change
// request as the live message. Large projects get better results this way
// than with a single monolithic dump.
func (g *GeminiAdapter) Iterate(ctx context.Context, message string, files []model.ProjectFile, context_ string) (adapter.IterateResult, error) {
	history := make([]*genai.Content, 0, len(files)+1)
	if context_ != "" {
		history = append(history, &genai.Content{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: "Project context:\n" + context_}},
		})
	}
	for _, f := range files {
		history = append(history, &genai.Content{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: fmt.Sprintf("--- %s ---\n%s", f.Path, f.Content)}},
		})
	}

	chat, err := g.client.Chats.Create(
		ctx,
		g.defaultModel,
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: iterateSystem}}},
		},
		history,
	)
	if err != nil {
		return adapter.IterateResult{}, &domain.RemoteError{Op: "gemini.iterate", Err: err}
	}

	resp, err := chat.SendMessage(ctx, genai.Part{Text: "Change request:\n" + message})
	if err != nil {
		return adapter.IterateResult{}, &domain.RemoteError{Op: "gemini.iterate", Err: err}
	}
	g.recordUsage(resp)

	var res adapter.IterateResult
	if err := decodeJSONReply(firstText(resp), &res); err != nil {
		return adapter.IterateResult{}, err
	}
	return res, nil
}

func (g *GeminiAdapter) IterateMonolithic(ctx context.Context, message string, files []model.ProjectFile, context_ string) (adapter.IterateResult, error) {
	reply, err := g.generate(ctx, iterateSystem, iterateUserPrompt(message, files, context_))
	if err != nil {
		return adapter.IterateResult{}, err
	}
	var res adapter.IterateResult
	if err := decodeJSONReply(reply, &res); err != nil {
		return adapter.IterateResult{}, err
	}
	return res, nil
}

func (g *GeminiAdapter) Fix(ctx context.Context, errs []adapter.ValidationError, affected []model.ProjectFile, all []model.ProjectFile) (adapter.FixResult, error) {
	reply, err := g.generate(ctx, fixSystem, fixUserPrompt(errs, affected, all))
	if err != nil {
		return adapter.FixResult{}, err
	}
	var res adapter.FixResult
	if err := decodeJSONReply(reply, &res); err != nil {
		return adapter.FixResult{}, err
	}
	return res, nil
}

func (g *GeminiAdapter) generate(ctx context.Context, system, user string) (string, error) {
	resp, err := g.client.Models.GenerateContent(
		ctx,
		g.defaultModel,
		genai.Text(user),
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
		},
	)
	if err != nil {
		return "", &domain.RemoteError{Op: "gemini.generate", Err: err}
	}
	g.recordUsage(resp)

	text := firstText(resp)
	if text == "" {
		return "", &domain.RemoteError{Op: "gemini.generate", Err: errors.New("no candidate content")}
	}
	return text, nil
}

func (g *GeminiAdapter) recordUsage(resp *genai.GenerateContentResponse) {
	if resp == nil || resp.UsageMetadata == nil {
		return
	}
	metrics.AddCodegenTokens("gemini", g.defaultModel, "prompt", int(resp.UsageMetadata.PromptTokenCount))
	metrics.AddCodegenTokens("gemini", g.defaultModel, "completion", int(resp.UsageMetadata.CandidatesTokenCount))
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	c := resp.Candidates[0]
	if c.Content == nil || len(c.Content.Parts) == 0 {
		return ""
	}
	return c.Content.Parts[0].Text
}
