package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"appforge/internal/domain"
	"appforge/internal/domain/model"
	"appforge/internal/domain/ports/adapter"
	"appforge/internal/domain/ports/repository"
	"appforge/internal/infra/metrics"
	"appforge/internal/infra/progress"
	"appforge/internal/infra/resilience"
)

// Compile-time check
var _ GenerationUseCase = (*generationUC)(nil)

// GenerationUseCase drives a build job end to end: a project with no files
// gets a first build, everything else is an iteration on the existing set.
type GenerationUseCase interface {
	Run(ctx context.Context, p model.BuildPayload) error
}

type generationUC struct {
	projects  repository.ProjectRepository
	files     repository.ProjectFileRepository
	convs     repository.ConversationRepository
	codegen   adapter.CodeGenAdapter
	validator adapter.CodeValidator
	caller    *resilience.Caller
	bus       *progress.Broadcaster
	log       *zerolog.Logger

	maxFixRounds int
}

func NewGenerationUseCase(
	projects repository.ProjectRepository,
	files repository.ProjectFileRepository,
	convs repository.ConversationRepository,
	codegen adapter.CodeGenAdapter,
	validator adapter.CodeValidator,
	caller *resilience.Caller,
	bus *progress.Broadcaster,
	maxFixRounds int,
	log *zerolog.Logger,
) *generationUC {
	return &generationUC{
		projects:     projects,
		files:        files,
		convs:        convs,
		codegen:      codegen,
		validator:    validator,
		caller:       caller,
		bus:          bus,
		maxFixRounds: maxFixRounds,
		log:          log,
	}
}

func (g *generationUC) Run(ctx context.Context, p model.BuildPayload) error {
	project, err := g.projects.FindByID(ctx, nil, p.ProjectID)
	if err != nil {
		return fmt.Errorf("loading project: %w", err)
	}

	// Once the project row is known, every fatal exit goes through fail() so
	// the error is persisted and the sentinel event reaches subscribers.
	msg, err := g.convs.FindMessage(ctx, nil, p.MessageID)
	if err != nil {
		return g.fail(ctx, project.ID, p.ConversationID, fmt.Errorf("loading request message: %w", err))
	}

	count, err := g.files.CountByProject(ctx, nil, p.ProjectID)
	if err != nil {
		return g.fail(ctx, project.ID, p.ConversationID, fmt.Errorf("counting files: %w", err))
	}

	if err := g.projects.ClearError(ctx, nil, p.ProjectID); err != nil {
		g.log.Warn().Err(err).Str("project_id", p.ProjectID).Msg("clearing previous error")
	}

	if count == 0 {
		err = g.build(ctx, project, p, msg.Content)
	} else {
		err = g.iterate(ctx, project, p, msg.Content)
	}
	if err != nil {
		return g.fail(ctx, project.ID, p.ConversationID, err)
	}
	return nil
}

// tracker keeps emitted progress monotonic and mirrors it into the project row.
type tracker struct {
	uc        *generationUC
	projectID string
	cur       int
}

func (t *tracker) emit(ctx context.Context, target int, stage, message string) {
	if target < t.cur {
		target = t.cur
	}
	t.cur = target
	t.uc.bus.Emit(t.projectID, target, stage, message)
	if err := t.uc.projects.UpdateStatus(ctx, nil, t.projectID, model.ProjectStatusBuilding, target, stage); err != nil {
		t.uc.log.Warn().Err(err).Str("project_id", t.projectID).Msg("persisting progress")
	}
}

// --- first build ---

func (g *generationUC) build(ctx context.Context, project *model.Project, p model.BuildPayload, message string) error {
	t := &tracker{uc: g, projectID: project.ID}

	t.emit(ctx, 5, "understand", "Understanding your requirements")
	var req *model.Requirements
	err := g.caller.Fire(ctx, "codegen.analyze", func(ctx context.Context) error {
		var err error
		req, err = g.codegen.Analyze(ctx, message, "")
		return err
	})
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	settings := project.Settings
	settings.Requirements = req
	settings.AppendEnvVars(req.EnvVars)
	if err := g.projects.SaveSettings(ctx, nil, project.ID, settings); err != nil {
		return fmt.Errorf("saving requirements: %w", err)
	}
	project.Settings = settings
	t.emit(ctx, 10, "understand", fmt.Sprintf("Building %s", req.AppName))

	generated := make(map[string]model.ProjectFile)

	scaffold := scaffoldPlan(req.NormalizedFramework())
	t.emit(ctx, 15, "scaffold", "Setting up the project structure")
	for _, item := range scaffold {
		if err := g.generateOne(ctx, project.ID, req, item, generated); err != nil {
			return err
		}
	}
	t.emit(ctx, 25, "scaffold", "Project structure ready")

	// Core files: one per planned unit, progress spread across 25..70.
	plan := remainingPlan(req.Plan, generated)
	for i, item := range plan {
		t.emit(ctx, 25+(45*i)/max(len(plan), 1), "core", fmt.Sprintf("Writing %s", item.Path))
		if err := g.generateOne(ctx, project.ID, req, item, generated); err != nil {
			return err
		}
	}
	t.emit(ctx, 70, "core", "Application code written")

	if err := g.writeConfigFiles(ctx, project.ID, req, &project.Settings, generated); err != nil {
		return err
	}
	t.emit(ctx, 80, "config", "Configuration files written")

	all := sortedFiles(generated)
	if err := g.snapshot(ctx, project.ID, all, "initial build: "+firstLine(message)); err != nil {
		return err
	}
	t.emit(ctx, 90, "snapshot", "Version saved")

	summary := buildSummary(req, all)
	t.emit(ctx, 95, "context", "Preparing project context")

	g.appendAssistantMessage(ctx, p.ConversationID, summary)
	if err := g.projects.UpdateStatus(ctx, nil, project.ID, model.ProjectStatusReady, 100, "finalize"); err != nil {
		return fmt.Errorf("finalizing project: %w", err)
	}
	g.bus.Emit(project.ID, 100, "finalize", "Your app is ready")
	return nil
}

func (g *generationUC) generateOne(ctx context.Context, projectID string, req *model.Requirements, item model.PlanItem, generated map[string]model.ProjectFile) error {
	var gf adapter.GeneratedFile
	err := g.caller.Fire(ctx, "codegen.generate", func(ctx context.Context) error {
		var err error
		gf, err = g.codegen.Generate(ctx, req, item, fileListing(generated))
		return err
	})
	if err != nil {
		return fmt.Errorf("generating %s: %w", item.Path, err)
	}
	f := model.NewProjectFile(projectID, gf.Path, gf.Content, gf.Language)
	if err := g.files.Upsert(ctx, nil, &f); err != nil {
		return fmt.Errorf("storing %s: %w", gf.Path, err)
	}
	generated[f.Path] = f
	return nil
}

func (g *generationUC) writeConfigFiles(ctx context.Context, projectID string, req *model.Requirements, settings *model.ProjectSettings, generated map[string]model.ProjectFile) error {
	f := model.NewProjectFile(projectID, ".env.example", renderEnvExample(settings.EnvVarsNeeded), "dotenv")
	if err := g.files.Upsert(ctx, nil, &f); err != nil {
		return fmt.Errorf("storing .env.example: %w", err)
	}
	generated[f.Path] = f
	if _, ok := generated["README.md"]; !ok {
		item := model.PlanItem{Path: "README.md", Purpose: "project README: what the app does, setup and run instructions", Language: "markdown"}
		if err := g.generateOne(ctx, projectID, req, item, generated); err != nil {
			return err
		}
	}
	return nil
}

// --- iteration ---

func (g *generationUC) iterate(ctx context.Context, project *model.Project, p model.BuildPayload, message string) error {
	t := &tracker{uc: g, projectID: project.ID}

	t.emit(ctx, 10, "load", "Loading your project")
	files, err := g.files.ListByProject(ctx, nil, project.ID)
	if err != nil {
		return fmt.Errorf("loading files: %w", err)
	}
	projCtx := buildContextDoc(project.Settings.Requirements, files)

	t.emit(ctx, 20, "iterate", "Working on your changes")
	var res adapter.IterateResult
	err = g.caller.Fire(ctx, "codegen.iterate", func(ctx context.Context) error {
		var err error
		res, err = g.codegen.Iterate(ctx, message, files, projCtx)
		return err
	})
	if errors.Is(err, domain.ErrInvalidArgument) {
		g.log.Debug().Str("project_id", project.ID).Msg("agent session unsupported, falling back to monolithic iteration")
		err = g.caller.Fire(ctx, "codegen.iterate_monolithic", func(ctx context.Context) error {
			var err error
			res, err = g.codegen.IterateMonolithic(ctx, message, files, projCtx)
			return err
		})
	}
	if err != nil {
		return fmt.Errorf("iterate: %w", err)
	}
	t.emit(ctx, 40, "iterate", "Applying changes")

	current := make(map[string]model.ProjectFile, len(files))
	for _, f := range files {
		current[f.Path] = f
	}
	for _, ch := range res.Changes {
		switch ch.Action {
		case "delete":
			if err := g.files.Delete(ctx, nil, project.ID, ch.Path); err != nil {
				return fmt.Errorf("deleting %s: %w", ch.Path, err)
			}
			delete(current, ch.Path)
		default: // upsert
			f := model.NewProjectFile(project.ID, ch.Path, ch.Content, ch.Language)
			if err := g.files.Upsert(ctx, nil, &f); err != nil {
				return fmt.Errorf("storing %s: %w", ch.Path, err)
			}
			current[f.Path] = f
		}
	}
	t.emit(ctx, 50, "iterate", "Changes applied")

	if len(res.EnvVarsNeeded) > 0 {
		settings := project.Settings
		settings.AppendEnvVars(res.EnvVarsNeeded)
		if err := g.projects.SaveSettings(ctx, nil, project.ID, settings); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		project.Settings = settings
	}

	remaining, err := g.validateAndFix(ctx, t, project.ID, current)
	if err != nil {
		return err
	}

	all := sortedFiles(current)
	if err := g.snapshot(ctx, project.ID, all, "iteration: "+firstLine(message)); err != nil {
		return err
	}
	t.emit(ctx, 90, "snapshot", "Version saved")
	t.emit(ctx, 95, "context", "Updating project context")

	summary := res.Summary
	if summary == "" {
		summary = "Applied your requested changes."
	}
	if len(remaining) > 0 {
		summary += fmt.Sprintf("\n\nNote: %d validation issue(s) remain:\n%s", len(remaining), formatIssues(remaining))
	}
	g.appendAssistantMessage(ctx, p.ConversationID, summary)

	if err := g.projects.UpdateStatus(ctx, nil, project.ID, model.ProjectStatusReady, 100, "finalize"); err != nil {
		return fmt.Errorf("finalizing project: %w", err)
	}
	g.bus.Emit(project.ID, 100, "finalize", "Changes are live in your workspace")
	return nil
}

// validateAndFix runs the validator and up to maxFixRounds fix rounds. Each
// round targets exactly the files named in the current error set, then the
// whole set is re-validated so a regression in a previously clean file becomes
// eligible next round. A hard error from a fix call stops the loop; leftover
// findings are surfaced as diagnostics, not as a job failure.
func (g *generationUC) validateAndFix(ctx context.Context, t *tracker, projectID string, current map[string]model.ProjectFile) ([]adapter.ValidationError, error) {
	t.emit(ctx, 60, "validate", "Checking the generated code")
	errs, err := g.validator.Validate(ctx, sortedFiles(current))
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	rounds := 0
	for len(errs) > 0 && rounds < g.maxFixRounds {
		rounds++
		t.emit(ctx, 60+rounds*8, "fix", fmt.Sprintf("Fixing %d issue(s), round %d", len(errs), rounds))

		affected := affectedFiles(errs, current)
		var fix adapter.FixResult
		fireErr := g.caller.Fire(ctx, "codegen.fix", func(ctx context.Context) error {
			var err error
			fix, err = g.codegen.Fix(ctx, errs, affected, sortedFiles(current))
			return err
		})
		if fireErr != nil {
			g.log.Warn().Err(fireErr).Str("project_id", projectID).Int("round", rounds).
				Msg("auto-fix call failed, keeping remaining findings as diagnostics")
			break
		}

		for _, gf := range fix.Files {
			f := model.NewProjectFile(projectID, gf.Path, gf.Content, gf.Language)
			if err := g.files.Upsert(ctx, nil, &f); err != nil {
				return nil, fmt.Errorf("storing fixed %s: %w", gf.Path, err)
			}
			current[f.Path] = f
		}

		errs, err = g.validator.Validate(ctx, sortedFiles(current))
		if err != nil {
			return nil, fmt.Errorf("re-validate: %w", err)
		}
	}
	metrics.ObserveFixRounds(rounds)
	return errs, nil
}

// --- shared ---

func (g *generationUC) snapshot(ctx context.Context, projectID string, files []model.ProjectFile, promptSummary string) error {
	refs := make([]model.FileRef, 0, len(files))
	for _, f := range files {
		refs = append(refs, model.FileRef{Path: f.Path, Checksum: f.Checksum})
	}
	s := &model.VersionSnapshot{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		Files:         refs,
		PromptSummary: promptSummary,
	}
	if err := g.files.AppendSnapshot(ctx, nil, s); err != nil {
		return fmt.Errorf("appending snapshot: %w", err)
	}
	return nil
}

func (g *generationUC) appendAssistantMessage(ctx context.Context, conversationID, content string) {
	if conversationID == "" {
		return
	}
	m := &model.ConversationMessage{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           "assistant",
		Content:        content,
		CreatedAt:      time.Now(),
	}
	if err := g.convs.AppendMessage(ctx, nil, m); err != nil {
		g.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("appending assistant message")
	}
}

// fail records the terminal failure, emits the error sentinel, leaves a
// best-effort note in the conversation and rethrows for the queue policy.
func (g *generationUC) fail(ctx context.Context, projectID, conversationID string, cause error) error {
	if err := g.projects.UpdateStatus(ctx, nil, projectID, model.ProjectStatusFailed, model.ErrorProgress, "failed"); err != nil {
		g.log.Error().Err(err).Str("project_id", projectID).Msg("recording failed status")
	}
	if err := g.projects.SetError(ctx, nil, projectID, cause.Error()); err != nil {
		g.log.Error().Err(err).Str("project_id", projectID).Msg("recording error message")
	}
	g.bus.Emit(projectID, model.ErrorProgress, "failed", cause.Error())
	g.appendAssistantMessage(ctx, conversationID,
		"I ran into a problem while working on your app: "+cause.Error())
	return cause
}

func scaffoldPlan(framework string) []model.PlanItem {
	switch framework {
	case "node", "express":
		return []model.PlanItem{
			{Path: "package.json", Purpose: "project manifest with scripts and dependencies", Language: "json"},
			{Path: "server.js", Purpose: "application entry point", Language: "javascript"},
		}
	case "static":
		return []model.PlanItem{
			{Path: "index.html", Purpose: "application entry page", Language: "html"},
		}
	default: // react and react-like
		return []model.PlanItem{
			{Path: "package.json", Purpose: "project manifest with scripts and dependencies", Language: "json"},
			{Path: "index.html", Purpose: "root html document mounting the app", Language: "html"},
			{Path: "src/main.jsx", Purpose: "application entry point rendering the root component", Language: "javascript"},
		}
	}
}

func remainingPlan(plan []model.PlanItem, generated map[string]model.ProjectFile) []model.PlanItem {
	out := make([]model.PlanItem, 0, len(plan))
	for _, item := range plan {
		if _, ok := generated[item.Path]; ok {
			continue
		}
		out = append(out, item)
	}
	return out
}

func renderEnvExample(vars []model.EnvVar) string {
	if len(vars) == 0 {
		return "# No environment variables needed yet.\n"
	}
	var b strings.Builder
	for _, v := range vars {
		if v.Description != "" {
			fmt.Fprintf(&b, "# %s\n", v.Description)
		}
		fmt.Fprintf(&b, "%s=\n", v.Key)
	}
	return b.String()
}

func fileListing(files map[string]model.ProjectFile) string {
	if len(files) == 0 {
		return ""
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return strings.Join(paths, "\n")
}

func sortedFiles(m map[string]model.ProjectFile) []model.ProjectFile {
	out := make([]model.ProjectFile, 0, len(m))
	for _, f := range m {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func affectedFiles(errs []adapter.ValidationError, current map[string]model.ProjectFile) []model.ProjectFile {
	seen := make(map[string]struct{})
	var out []model.ProjectFile
	for _, e := range errs {
		if _, ok := seen[e.Path]; ok {
			continue
		}
		seen[e.Path] = struct{}{}
		if f, ok := current[e.Path]; ok {
			out = append(out, f)
		}
	}
	return out
}

func buildContextDoc(req *model.Requirements, files []model.ProjectFile) string {
	var b strings.Builder
	if req != nil {
		fmt.Fprintf(&b, "App: %s (framework: %s)\n", req.AppName, req.NormalizedFramework())
		if req.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", req.Description)
		}
		if len(req.Features) > 0 {
			fmt.Fprintf(&b, "Features: %s\n", strings.Join(req.Features, ", "))
		}
	}
	b.WriteString("Files:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- %s (%d bytes)\n", f.Path, f.Size)
	}
	return b.String()
}

func buildSummary(req *model.Requirements, files []model.ProjectFile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I built %s with %d files.", req.AppName, len(files))
	if len(req.Features) > 0 {
		fmt.Fprintf(&b, " Features: %s.", strings.Join(req.Features, ", "))
	}
	if len(req.EnvVars) > 0 {
		b.WriteString(" Check .env.example for the environment variables the app needs.")
	}
	return b.String()
}

func formatIssues(errs []adapter.ValidationError) string {
	var b strings.Builder
	for _, e := range errs {
		fmt.Fprintf(&b, "- %s: %s\n", e.Path, e.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}
