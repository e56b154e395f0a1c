package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"appforge/internal/domain"
	"appforge/internal/domain/model"
	"appforge/internal/domain/ports/adapter"
	"appforge/internal/infra/security"
)

const testEncKey = "0123456789abcdef0123456789abcdef"

type deployFixture struct {
	projects    *mockProjectRepo
	deployments *mockDeploymentRepo
	mappings    *mockMappingRepo
	usage       *mockUsageRepo
	secrets     *mockSecretRepo
	files       *mockFileRepo
	queue       *mockQueue
	compute     *mockCompute
	edge        *mockEdge
	scm         *mockSCM
	enc         *security.EncryptionService
	uc          *deployUC
}

func newDeployFixture(t *testing.T) *deployFixture {
	t.Helper()
	enc, err := security.NewEncryptionService(testEncKey)
	if err != nil {
		t.Fatalf("encryption service: %v", err)
	}
	f := &deployFixture{
		projects:    newMockProjectRepo(),
		deployments: newMockDeploymentRepo(),
		mappings:    newMockMappingRepo(),
		usage:       &mockUsageRepo{},
		secrets:     &mockSecretRepo{},
		files:       newMockFileRepo(),
		queue:       &mockQueue{},
		compute:     newMockCompute(),
		edge:        newMockEdge(),
		scm:         &mockSCM{},
		enc:         enc,
	}
	f.uc = NewDeployUseCase(
		f.projects, f.deployments, f.mappings, f.usage, f.secrets, f.files, f.queue,
		f.compute, f.edge, f.scm, f.enc,
		testCaller("compute"), testCaller("edge"), testCaller("scm"),
		testBus(),
		DeployConfig{
			PlatformDomain: "appforge.app",
			RepoBranch:     "main",
			PollInterval:   time.Millisecond,
			PollTimeout:    time.Second,
		},
		testLogger(),
	)
	return f
}

func (f *deployFixture) seedProject(id string) *model.Project {
	p := &model.Project{ID: id, UserID: "u1", Name: "My Demo App", Status: model.ProjectStatusReady}
	f.projects.put(p)
	pf := model.NewProjectFile(id, "index.html", "<html></html>", "html")
	_ = f.files.Upsert(context.Background(), nil, &pf)
	return p
}

func deployPayload(projectID string) model.DeployPayload {
	return model.DeployPayload{ProjectID: projectID, UserID: "u1"}
}

func TestFirstDeployHappyPath(t *testing.T) {
	f := newDeployFixture(t)
	f.seedProject("p1")

	if err := f.uc.Run(context.Background(), deployPayload("p1")); err != nil {
		t.Fatalf("Run: %v", err)
	}

	p := f.projects.get("p1")
	if p.Status != model.ProjectStatusDeployed || p.BuildProgress != 100 {
		t.Errorf("project = %s/%d, want deployed/100", p.Status, p.BuildProgress)
	}
	if p.ComputeProjectID != "cp-1" || p.ComputeServiceID != "svc-1" {
		t.Errorf("compute ids not stored: %q %q", p.ComputeProjectID, p.ComputeServiceID)
	}
	if p.DeploymentURL != "https://my-demo-app.appforge.app" {
		t.Errorf("deployment url = %q, want the public subdomain", p.DeploymentURL)
	}

	dep := f.deployments.only()
	if dep == nil || dep.Status != model.DeploymentStatusSuccess || dep.FinishedAt == nil {
		t.Fatalf("deployment not finalized: %+v", dep)
	}
	if dep.URL != "https://svc.compute.test" {
		t.Errorf("deployment record url = %q, want the compute url", dep.URL)
	}

	// Subdomain mapping from the slugified project name.
	m, err := f.mappings.FindPrimaryByProject(context.Background(), nil, "p1")
	if err != nil {
		t.Fatalf("no primary mapping: %v", err)
	}
	if m.Slug != "my-demo-app" || m.DomainType != model.DomainTypeSubdomain || !m.IsPrimary {
		t.Errorf("mapping = %+v", m)
	}
	if target, _ := f.edge.GetMapping(context.Background(), "my-demo-app"); target != "https://svc.compute.test" {
		t.Errorf("edge mapping target = %q", target)
	}

	if len(f.usage.entries) != 1 {
		t.Errorf("cost entries = %d, want 1", len(f.usage.entries))
	}
	if jobs := f.queue.byType(model.JobTypeMarketing); len(jobs) != 1 {
		t.Errorf("marketing jobs = %d, want 1", len(jobs))
	}

	// Dockerfile is generated when missing.
	if _, ok := f.files.content("p1", "Dockerfile"); !ok {
		t.Error("Dockerfile not generated")
	}
}

func TestFirstDeploySlugCollisionGetsSuffix(t *testing.T) {
	f := newDeployFixture(t)
	f.seedProject("p1")
	_ = f.mappings.Create(context.Background(), nil, &model.DomainMapping{
		ID: "other", ProjectID: "other-project", Slug: "my-demo-app", IsPrimary: true,
	})

	if err := f.uc.Run(context.Background(), deployPayload("p1")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	m, err := f.mappings.FindPrimaryByProject(context.Background(), nil, "p1")
	if err != nil {
		t.Fatalf("no mapping: %v", err)
	}
	if m.Slug == "my-demo-app" || len(m.Slug) != len("my-demo-app")+5 {
		t.Errorf("slug = %q, want suffixed my-demo-app-NNNN", m.Slug)
	}
}

func TestRedeployUpdatesMappingTargetOnly(t *testing.T) {
	f := newDeployFixture(t)
	p := f.seedProject("p1")
	p.ComputeProjectID, p.ComputeServiceID = "cp-1", "svc-1"
	_ = f.mappings.Create(context.Background(), nil, &model.DomainMapping{
		ID: "m1", ProjectID: "p1", Slug: "my-demo-app", TargetURL: "https://old.compute.test",
		DomainType: model.DomainTypeSubdomain, IsPrimary: true,
	})
	_ = f.edge.PutMapping(context.Background(), "my-demo-app", "https://old.compute.test")
	// Platform reports a new URL during monitoring.
	f.compute.statuses = []adapter.StatusReport{{Status: adapter.DeployStatusSuccess, URL: "https://new.compute.test"}}

	if err := f.uc.Run(context.Background(), deployPayload("p1")); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if f.compute.called("create_project") || f.compute.called("create_service") || f.compute.called("allocate_domain") {
		t.Errorf("redeploy recreated infrastructure: %v", f.compute.calls)
	}
	if f.mappings.count() != 1 {
		t.Errorf("mapping count = %d, want 1 (updated in place)", f.mappings.count())
	}

	// The subdomain must follow the URL the platform reported during
	// monitoring, in both the edge store and the mapping row.
	if target, _ := f.edge.GetMapping(context.Background(), "my-demo-app"); target != "https://new.compute.test" {
		t.Errorf("edge mapping target = %q, want the new compute url", target)
	}
	m, err := f.mappings.FindPrimaryByProject(context.Background(), nil, "p1")
	if err != nil {
		t.Fatalf("no mapping: %v", err)
	}
	if m.TargetURL != "https://new.compute.test" {
		t.Errorf("mapping target = %q, want the new compute url", m.TargetURL)
	}
	if got := f.projects.get("p1").DeploymentURL; got != "https://my-demo-app.appforge.app" {
		t.Errorf("deployment url = %q, want the public subdomain", got)
	}
}

func TestCreateServiceFailurePersistsComputeProjectID(t *testing.T) {
	f := newDeployFixture(t)
	f.seedProject("p1")
	f.compute.createServiceErr = errors.New("quota exceeded")

	if err := f.uc.Run(context.Background(), deployPayload("p1")); err == nil {
		t.Fatal("expected infrastructure failure")
	}
	// The created compute project must survive the failure so a retry reuses
	// it instead of provisioning an orphan.
	if got := f.projects.get("p1").ComputeProjectID; got != "cp-1" {
		t.Errorf("compute project id = %q, want cp-1 persisted before the service call", got)
	}
}

func TestDeployCrashedIsHardFailureNoMarketing(t *testing.T) {
	f := newDeployFixture(t)
	f.seedProject("p1")
	f.compute.statuses = []adapter.StatusReport{
		{Status: adapter.DeployStatusBuilding},
		{Status: adapter.DeployStatusCrashed},
	}

	err := f.uc.Run(context.Background(), deployPayload("p1"))
	if !errors.Is(err, domain.ErrDeployCrashed) {
		t.Fatalf("err = %v, want ErrDeployCrashed", err)
	}

	p := f.projects.get("p1")
	if p.Status != model.ProjectStatusFailed || p.BuildProgress != model.ErrorProgress {
		t.Errorf("project = %s/%d, want failed/-1", p.Status, p.BuildProgress)
	}
	if dep := f.deployments.only(); dep.Status != model.DeploymentStatusFailed {
		t.Errorf("deployment status = %s, want failed", dep.Status)
	}
	if jobs := f.queue.byType(model.JobTypeMarketing); len(jobs) != 0 {
		t.Errorf("marketing jobs = %d, want 0", len(jobs))
	}
}

func TestFailureAfterFreshMappingRollsItBack(t *testing.T) {
	f := newDeployFixture(t)
	f.seedProject("p1")
	// Routing succeeds, then monitoring reports a platform failure.
	f.compute.statuses = []adapter.StatusReport{{Status: adapter.DeployStatusFailed}}

	if err := f.uc.Run(context.Background(), deployPayload("p1")); err == nil {
		t.Fatal("expected failure")
	}
	if f.edge.count() != 0 {
		t.Errorf("edge mappings = %d, want 0 after rollback", f.edge.count())
	}
	if f.mappings.count() != 0 {
		t.Errorf("mapping rows = %d, want 0 after rollback", f.mappings.count())
	}
}

func TestDeployTimeoutIsDistinctHardFailure(t *testing.T) {
	f := newDeployFixture(t)
	f.seedProject("p1")
	f.uc.cfg.PollTimeout = 5 * time.Millisecond
	f.compute.statuses = []adapter.StatusReport{{Status: adapter.DeployStatusBuilding}}

	err := f.uc.Run(context.Background(), deployPayload("p1"))
	if !errors.Is(err, domain.ErrDeployTimeout) {
		t.Fatalf("err = %v, want ErrDeployTimeout", err)
	}
}

func TestDeployWithNoFilesFailsFast(t *testing.T) {
	f := newDeployFixture(t)
	p := &model.Project{ID: "p1", UserID: "u1", Name: "Empty"}
	f.projects.put(p)

	err := f.uc.Run(context.Background(), deployPayload("p1"))
	if !errors.Is(err, domain.ErrNoFilesToDeploy) {
		t.Fatalf("err = %v, want ErrNoFilesToDeploy", err)
	}
	if f.compute.called("create_project") {
		t.Error("infrastructure touched for an empty project")
	}
}

func TestUndecryptableSecretIsSkipped(t *testing.T) {
	f := newDeployFixture(t)
	f.seedProject("p1")
	good, err := f.enc.Encrypt("s3cret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	f.secrets.secrets = []model.ProjectSecret{
		{ProjectID: "p1", Key: "GOOD_KEY", CipherText: good},
		{ProjectID: "p1", Key: "BAD_KEY", CipherText: "not-even-base64!!"},
	}

	if err := f.uc.Run(context.Background(), deployPayload("p1")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := f.compute.envVars; len(got) != 1 || got["GOOD_KEY"] != "s3cret" {
		t.Errorf("env vars = %v, want only GOOD_KEY", got)
	}
}

func TestLinkedRepoPushFailureAbortsDeploy(t *testing.T) {
	f := newDeployFixture(t)
	p := f.seedProject("p1")
	p.RepoFullName = "u1/p1"
	f.scm.pushErr = errors.New("remote rejected")

	if err := f.uc.Run(context.Background(), deployPayload("p1")); err == nil {
		t.Fatal("expected push failure to abort the deploy")
	}
	if f.compute.called("trigger_deploy") || f.compute.called("connect_source_repo") {
		t.Errorf("compute delivery attempted after push failure: %v", f.compute.calls)
	}
	if dep := f.deployments.only(); dep == nil || dep.Status != model.DeploymentStatusFailed {
		t.Errorf("deployment = %+v, want failed", dep)
	}
}

func TestLinkedRepoFirstDeployConnectsService(t *testing.T) {
	f := newDeployFixture(t)
	p := f.seedProject("p1")
	p.RepoFullName = "u1/p1"

	if err := f.uc.Run(context.Background(), deployPayload("p1")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !f.compute.called("connect_source_repo") {
		t.Error("first deploy did not connect the source repo")
	}
	if f.compute.called("trigger_deploy") {
		t.Error("linked repo should rely on deploy-on-push, not direct trigger")
	}
	if f.scm.pushes != 1 {
		t.Errorf("pushes = %d, want 1", f.scm.pushes)
	}
}
