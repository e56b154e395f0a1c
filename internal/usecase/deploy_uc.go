package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
	"appforge/internal/infra/security"
)

// Compile-time check
var _ DeployUseCase = (*deployUC)(nil)

// DeployUseCase pushes a built project to the compute platform and wires up
// its public URL.
type DeployUseCase interface {
	Run(ctx context.Context, p model.DeployPayload) error
}

// DeployConfig is the slice of configuration the deploy pipeline needs.
type DeployConfig struct {
	PlatformDomain string // subdomains hang off this, e.g. appforge.app
	RepoBranch     string
	PollInterval   time.Duration
	PollTimeout    time.Duration
}

// Flat infra cost attributed to a deploy per second of pipeline time; real
// vendor billing is reconciled offline against these estimates.
const deployCostPerSecondMicros = 140

type deployUC struct {
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	mappings    repository.DomainMappingRepository
	usage       repository.UsageLogRepository
	secrets     repository.SecretRepository
	files       repository.ProjectFileRepository
	queue       repository.JobQueue

	compute adapter.ComputeAdapter
	edge    adapter.EdgeRoutingAdapter
	scm     adapter.SourceControlAdapter
	enc     *security.EncryptionService

	computeCall *resilience.Caller
	edgeCall    *resilience.Caller
	scmCall     *resilience.Caller

	bus *progress.Broadcaster
	cfg DeployConfig
	log *zerolog.Logger
}

func NewDeployUseCase(
	projects repository.ProjectRepository,
	deployments repository.DeploymentRepository,
	mappings repository.DomainMappingRepository,
	usage repository.UsageLogRepository,
	secrets repository.SecretRepository,
	files repository.ProjectFileRepository,
	queue repository.JobQueue,
	compute adapter.ComputeAdapter,
	edge adapter.EdgeRoutingAdapter,
	scm adapter.SourceControlAdapter,
	enc *security.EncryptionService,
	computeCall, edgeCall, scmCall *resilience.Caller,
	bus *progress.Broadcaster,
	cfg DeployConfig,
	log *zerolog.Logger,
) *deployUC {
	return &deployUC{
		projects: projects, deployments: deployments, mappings: mappings,
		usage: usage, secrets: secrets, files: files, queue: queue,
		compute: compute, edge: edge, scm: scm, enc: enc,
		computeCall: computeCall, edgeCall: edgeCall, scmCall: scmCall,
		bus: bus, cfg: cfg, log: log,
	}
}

// deployRun is the mutable state threaded through the stage list.
type deployRun struct {
	project    *model.Project
	payload    model.DeployPayload
	deployment *model.Deployment
	files      []model.ProjectFile
	serviceEnv     string // resolved compute environment id
	url            string // compute service URL, the mapping target
	slug           string // subdomain label once routing settles
	createdService bool   // this run provisioned the compute service

	// primary mapping once routing settles; freshMapping is set when this
	// run created it, so failure can roll it back
	mapping      *model.DomainMapping
	freshMapping *model.DomainMapping
	cur          int
}

type deployStage struct {
	name           string
	targetProgress int
	run            func(ctx context.Context, r *deployRun) error
}

func (d *deployUC) stages() []deployStage {
	return []deployStage{
		{"record", 5, d.stageRecord},
		{"infrastructure", 15, d.stageInfra},
		{"environment", 25, d.stageEnv},
		{"artifact", 35, d.stageArtifact},
		{"delivery", 55, d.stageDelivery},
		{"routing", 70, d.stageRouting},
		{"monitor", 95, d.stageMonitor},
		{"finalize", 100, d.stageFinalize},
	}
}

func (d *deployUC) Run(ctx context.Context, p model.DeployPayload) error {
	project, err := d.projects.FindByID(ctx, nil, p.ProjectID)
	if err != nil {
		return fmt.Errorf("loading project: %w", err)
	}

	r := &deployRun{project: project, payload: p}
	for _, st := range d.stages() {
		if err := st.run(ctx, r); err != nil {
			return d.fail(ctx, r, st.name, err)
		}
		d.emit(ctx, r, st.targetProgress, st.name, stageMessage(st.name))
	}
	return nil
}

func (d *deployUC) emit(ctx context.Context, r *deployRun, target int, stage, message string) {
	if target < r.cur {
		target = r.cur
	}
	r.cur = target
	status := model.ProjectStatusDeploying
	if target >= 100 {
		status = model.ProjectStatusDeployed
	}
	d.bus.Emit(r.project.ID, target, stage, message)
	if err := d.projects.UpdateStatus(ctx, nil, r.project.ID, status, target, stage); err != nil {
		d.log.Warn().Err(err).Str("project_id", r.project.ID).Msg("persisting deploy progress")
	}
}

func stageMessage(name string) string {
	switch name {
	case "record":
		return "Starting deployment"
	case "infrastructure":
		return "Provisioning infrastructure"
	case "environment":
		return "Configuring environment"
	case "artifact":
		return "Preparing build artifact"
	case "delivery":
		return "Shipping your code"
	case "routing":
		return "Setting up your URL"
	case "monitor":
		return "Waiting for the platform build"
	default:
		return "Deployment complete"
	}
}

// --- stages ---

func (d *deployUC) stageRecord(ctx context.Context, r *deployRun) error {
	fs, err := d.files.ListByProject(ctx, nil, r.project.ID)
	if err != nil {
		return fmt.Errorf("loading files: %w", err)
	}
	if len(fs) == 0 {
		return domain.ErrNoFilesToDeploy
	}
	r.files = fs

	dep := &model.Deployment{
		ID:        uuid.NewString(),
		ProjectID: r.project.ID,
		Status:    model.DeploymentStatusPending,
		StartedAt: time.Now(),
	}
	if err := d.deployments.Create(ctx, nil, dep); err != nil {
		return fmt.Errorf("creating deployment record: %w", err)
	}
	r.deployment = dep
	return nil
}

// stageInfra creates the compute project/service on first deploy and reuses
// the stored ids afterwards. The environment id is resolved every run; it is
// cheap and the platform may rotate it.
func (d *deployUC) stageInfra(ctx context.Context, r *deployRun) error {
	p := r.project
	if p.ComputeProjectID == "" {
		var id string
		err := d.computeCall.Fire(ctx, "compute.create_project", func(ctx context.Context) error {
			var err error
			id, err = d.compute.CreateProject(ctx, p.Name)
			return err
		})
		if err != nil {
			return err
		}
		p.ComputeProjectID = id
		// Persisted immediately: losing this id to a later failure would
		// make the retry provision an orphan compute project.
		if err := d.projects.SetComputeIDs(ctx, nil, p.ID, p.ComputeProjectID, p.ComputeServiceID); err != nil {
			return fmt.Errorf("storing compute project id: %w", err)
		}
	}
	if p.ComputeServiceID == "" {
		var svc adapter.Service
		err := d.computeCall.Fire(ctx, "compute.create_service", func(ctx context.Context) error {
			var err error
			svc, err = d.compute.CreateService(ctx, p.ComputeProjectID, p.Name)
			return err
		})
		if err != nil {
			return err
		}
		p.ComputeServiceID = svc.ID
		r.serviceEnv = svc.EnvironmentID
		r.createdService = true
		if err := d.projects.SetComputeIDs(ctx, nil, p.ID, p.ComputeProjectID, p.ComputeServiceID); err != nil {
			return fmt.Errorf("storing compute ids: %w", err)
		}
	}
	if r.serviceEnv == "" {
		return d.computeCall.Fire(ctx, "compute.resolve_environment", func(ctx context.Context) error {
			var err error
			r.serviceEnv, err = d.compute.ResolveEnvironment(ctx, p.ComputeProjectID)
			return err
		})
	}
	return nil
}

// stageEnv decrypts stored secrets and pushes them as env vars. A secret that
// fails to decrypt is skipped with a warning rather than blocking the deploy.
func (d *deployUC) stageEnv(ctx context.Context, r *deployRun) error {
	stored, err := d.secrets.ListByProject(ctx, nil, r.project.ID)
	if err != nil {
		return fmt.Errorf("loading secrets: %w", err)
	}
	if len(stored) == 0 {
		return nil
	}
	vars := make(map[string]string, len(stored))
	for _, s := range stored {
		plain, err := d.enc.Decrypt(s.CipherText)
		if err != nil {
			d.log.Warn().Err(err).Str("project_id", r.project.ID).Str("key", s.Key).
				Msg("secret cannot be decrypted, skipping")
			continue
		}
		vars[s.Key] = plain
	}
	if len(vars) == 0 {
		return nil
	}
	return d.computeCall.Fire(ctx, "compute.set_env_vars", func(ctx context.Context) error {
		return d.compute.SetEnvVars(ctx, r.project.ComputeProjectID, r.serviceEnv, r.project.ComputeServiceID, vars)
	})
}

func (d *deployUC) stageArtifact(ctx context.Context, r *deployRun) error {
	for _, f := range r.files {
		if f.Path == "Dockerfile" {
			return nil
		}
	}
	content := renderDockerfile(r.project.Settings.Requirements)
	f := model.NewProjectFile(r.project.ID, "Dockerfile", content, "dockerfile")
	if err := d.files.Upsert(ctx, nil, &f); err != nil {
		return fmt.Errorf("storing Dockerfile: %w", err)
	}
	r.files = append(r.files, f)
	return nil
}

// stageDelivery gets the code onto the platform. A linked repo receives a
// push (deploy-on-push takes over on later deploys); an unlinked project is
// deployed with a direct trigger.
func (d *deployUC) stageDelivery(ctx context.Context, r *deployRun) error {
	p := r.project
	if p.HasRepo() {
		repoFiles := make([]adapter.RepoFile, 0, len(r.files))
		for _, f := range r.files {
			repoFiles = append(repoFiles, adapter.RepoFile{Path: f.Path, Content: f.Content})
		}
		err := d.scmCall.Fire(ctx, "sourcecontrol.push", func(ctx context.Context) error {
			_, err := d.scm.Push(ctx, p.UserID, p.ID, "deploy "+r.deployment.ID, repoFiles)
			return err
		})
		if err != nil {
			return fmt.Errorf("pushing code: %w", err)
		}
		if r.createdService {
			return d.computeCall.Fire(ctx, "compute.connect_source_repo", func(ctx context.Context) error {
				return d.compute.ConnectSourceRepo(ctx, p.ComputeProjectID, p.ComputeServiceID, p.RepoFullName, d.branch(p))
			})
		}
		return nil
	}
	return d.computeCall.Fire(ctx, "compute.trigger_deploy", func(ctx context.Context) error {
		return d.compute.TriggerDeploy(ctx, p.ComputeProjectID, p.ComputeServiceID, r.serviceEnv)
	})
}

// stageRouting settles the compute URL and the subdomain mapping. First
// deploy allocates the compute domain and creates the mapping; later deploys
// reuse the mapping's stored target. The target itself is re-synced at
// finalize, once monitoring has reported the URL the platform actually serves.
func (d *deployUC) stageRouting(ctx context.Context, r *deployRun) error {
	p := r.project

	existing, err := d.mappings.FindPrimaryByProject(ctx, nil, p.ID)
	switch {
	case err == nil:
		r.mapping = existing
		r.slug = existing.Slug
		if existing.TargetURL != "" {
			r.url = existing.TargetURL
			return nil
		}
	case errors.Is(err, domain.ErrNotFound):
	default:
		return fmt.Errorf("loading domain mapping: %w", err)
	}

	err = d.computeCall.Fire(ctx, "compute.allocate_domain", func(ctx context.Context) error {
		var err error
		r.url, err = d.compute.AllocateDomain(ctx, p.ComputeServiceID, r.serviceEnv)
		return err
	})
	if err != nil {
		return err
	}
	if r.mapping == nil {
		return d.createPrimaryMapping(ctx, r, r.url)
	}
	return nil
}

func (d *deployUC) createPrimaryMapping(ctx context.Context, r *deployRun, url string) error {
	slug := model.Slugify(r.project.Name)
	taken, err := d.mappings.SlugExists(ctx, nil, slug)
	if err != nil {
		return fmt.Errorf("checking slug: %w", err)
	}
	if taken {
		slug = model.SuffixSlug(slug)
	}

	if err := d.edgeCall.Fire(ctx, "edge.put_mapping", func(ctx context.Context) error {
		return d.edge.PutMapping(ctx, slug, url)
	}); err != nil {
		return err
	}

	m := &model.DomainMapping{
		ID:         uuid.NewString(),
		ProjectID:  r.project.ID,
		DomainType: model.DomainTypeSubdomain,
		Slug:       slug,
		TargetURL:  url,
		SSLStatus:  model.SSLStatusActive, // platform wildcard cert covers subdomains
		IsPrimary:  true,
	}
	if err := d.mappings.Create(ctx, nil, m); err != nil {
		// Lost the slug race; undo the edge entry and retry once with a suffix.
		if errors.Is(err, domain.ErrAlreadyExists) {
			_ = d.edge.DeleteMapping(ctx, slug)
			m.ID = uuid.NewString()
			m.Slug = model.SuffixSlug(slug)
			if err := d.edgeCall.Fire(ctx, "edge.put_mapping", func(ctx context.Context) error {
				return d.edge.PutMapping(ctx, m.Slug, url)
			}); err != nil {
				return err
			}
			if err := d.mappings.Create(ctx, nil, m); err != nil {
				_ = d.edge.DeleteMapping(ctx, m.Slug)
				return fmt.Errorf("creating domain mapping: %w", err)
			}
		} else {
			_ = d.edge.DeleteMapping(ctx, slug)
			return fmt.Errorf("creating domain mapping: %w", err)
		}
	}
	r.mapping = m
	r.freshMapping = m
	r.slug = m.Slug
	return nil
}

// stageMonitor polls the platform until the deploy settles. FAILED and
// CRASHED are hard failures, as is running out the poll budget.
func (d *deployUC) stageMonitor(ctx context.Context, r *deployRun) error {
	deadline := time.Now().Add(d.cfg.PollTimeout)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		var report adapter.StatusReport
		err := d.computeCall.Fire(ctx, "compute.get_status", func(ctx context.Context) error {
			var err error
			report, err = d.compute.GetStatus(ctx, r.project.ComputeProjectID, r.project.ComputeServiceID)
			return err
		})
		if err != nil {
			return err
		}
		if report.DeploymentID != "" {
			r.deployment.RemoteDeploymentID = report.DeploymentID
		}
		if report.URL != "" {
			r.url = report.URL
		}

		switch report.Status {
		case adapter.DeployStatusSuccess:
			return nil
		case adapter.DeployStatusCrashed:
			return fmt.Errorf("platform build: %w", domain.ErrDeployCrashed)
		case adapter.DeployStatusFailed, adapter.DeployStatusTimeout:
			return fmt.Errorf("platform build reported %s", report.Status)
		case adapter.DeployStatusQueued:
			d.emit(ctx, r, 80, "monitor", "Build queued on the platform")
		case adapter.DeployStatusBuilding:
			d.emit(ctx, r, 90, "monitor", "Platform is building your app")
		}

		if time.Now().After(deadline) {
			return domain.ErrDeployTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *deployUC) stageFinalize(ctx context.Context, r *deployRun) error {
	if err := d.syncMappingTarget(ctx, r); err != nil {
		return err
	}

	now := time.Now()
	dep := r.deployment
	dep.Status = model.DeploymentStatusSuccess
	dep.URL = r.url
	dep.FinishedAt = &now
	dep.CostMicros = int64(now.Sub(dep.StartedAt).Seconds()) * deployCostPerSecondMicros
	if err := d.deployments.Finalize(ctx, nil, dep); err != nil {
		return fmt.Errorf("finalizing deployment: %w", err)
	}

	if err := d.projects.SetDeploymentURL(ctx, nil, r.project.ID, d.publicURL(r)); err != nil {
		return fmt.Errorf("storing deployment url: %w", err)
	}
	if err := d.projects.ClearError(ctx, nil, r.project.ID); err != nil {
		d.log.Warn().Err(err).Str("project_id", r.project.ID).Msg("clearing error")
	}
	if err := d.usage.RecordDeployCost(ctx, nil, r.project.ID, dep.ID, dep.CostMicros); err != nil {
		d.log.Warn().Err(err).Str("project_id", r.project.ID).Msg("recording deploy cost")
	}

	// Fire-and-forget follow-up; the deploy is already a success.
	payload := mustJSON(model.MarketingPayload{
		ProjectID:     r.project.ID,
		UserID:        r.payload.UserID,
		DeploymentURL: d.publicURL(r),
	})
	job := &model.Job{Type: model.JobTypeMarketing, Payload: payload, MaxAttempts: 3}
	if _, err := d.queue.Enqueue(ctx, nil, job); err != nil {
		d.log.Warn().Err(err).Str("project_id", r.project.ID).Msg("enqueueing marketing job")
	}

	d.log.Info().Str("project_id", r.project.ID).Str("url", d.publicURL(r)).Msg("deploy complete")
	metrics.IncDeploy("success")
	return nil
}

// syncMappingTarget points the subdomain at the URL the platform actually
// serves. The mapping written at routing time can go stale during the build:
// the platform may hand out a new compute URL, and monitoring picks it up.
func (d *deployUC) syncMappingTarget(ctx context.Context, r *deployRun) error {
	m := r.mapping
	if m == nil || m.TargetURL == r.url {
		return nil
	}
	if err := d.edgeCall.Fire(ctx, "edge.put_mapping", func(ctx context.Context) error {
		return d.edge.PutMapping(ctx, m.Slug, r.url)
	}); err != nil {
		return err
	}
	if err := d.mappings.UpdateTarget(ctx, nil, m.ID, r.url); err != nil {
		return fmt.Errorf("updating mapping target: %w", err)
	}
	m.TargetURL = r.url
	return nil
}

// publicURL is what users visit: the subdomain on the platform apex when a
// mapping exists, the raw compute URL otherwise.
func (d *deployUC) publicURL(r *deployRun) string {
	if r.slug != "" && d.cfg.PlatformDomain != "" {
		return "https://" + r.slug + "." + d.cfg.PlatformDomain
	}
	return r.url
}

// --- failure path ---

func (d *deployUC) fail(ctx context.Context, r *deployRun, stage string, cause error) error {
	outcome := "failed"
	if errors.Is(cause, domain.ErrDeployTimeout) {
		outcome = "timeout"
	}
	metrics.IncDeploy(outcome)

	// A mapping created by this very run is rolled back so a half-deployed
	// project doesn't squat on a slug.
	if m := r.freshMapping; m != nil {
		if err := d.edge.DeleteMapping(ctx, m.Slug); err != nil {
			d.log.Warn().Err(err).Str("slug", m.Slug).Msg("rolling back edge mapping")
		}
		if err := d.mappings.Delete(ctx, nil, m.ID); err != nil {
			d.log.Warn().Err(err).Str("mapping_id", m.ID).Msg("rolling back mapping row")
		}
	}

	if dep := r.deployment; dep != nil {
		now := time.Now()
		dep.Status = model.DeploymentStatusFailed
		dep.ErrorMessage = cause.Error()
		dep.FinishedAt = &now
		if err := d.deployments.Finalize(ctx, nil, dep); err != nil {
			d.log.Error().Err(err).Str("deployment_id", dep.ID).Msg("finalizing failed deployment")
		}
	}

	if err := d.projects.UpdateStatus(ctx, nil, r.project.ID, model.ProjectStatusFailed, model.ErrorProgress, stage); err != nil {
		d.log.Error().Err(err).Str("project_id", r.project.ID).Msg("recording failed status")
	}
	if err := d.projects.SetError(ctx, nil, r.project.ID, cause.Error()); err != nil {
		d.log.Error().Err(err).Str("project_id", r.project.ID).Msg("recording error message")
	}
	d.bus.Emit(r.project.ID, model.ErrorProgress, stage, cause.Error())
	return cause
}

// --- helpers ---

func (d *deployUC) branch(p *model.Project) string {
	if p.RepoBranch != "" {
		return p.RepoBranch
	}
	return d.cfg.RepoBranch
}

func mustJSON(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func renderDockerfile(req *model.Requirements) string {
	framework := model.DefaultFramework
	if req != nil {
		framework = req.NormalizedFramework()
	}
	switch framework {
	case "static":
		return `FROM nginx:alpine
COPY . /usr/share/nginx/html
EXPOSE 80
`
	case "node", "express":
		return `FROM node:20-alpine
WORKDIR /app
COPY package*.json ./
RUN npm install --omit=dev
COPY . .
EXPOSE 3000
CMD ["node", "server.js"]
`
	default:
		return `FROM node:20-alpine AS build
WORKDIR /app
COPY package*.json ./
RUN npm install
COPY . .
RUN npm run build

FROM nginx:alpine
COPY --from=build /app/dist /usr/share/nginx/html
EXPOSE 80
`
	}
}
