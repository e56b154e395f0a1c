package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"appforge/internal/config"
	"appforge/internal/domain"
	"appforge/internal/domain/model"
	"appforge/internal/domain/ports/adapter"
	"appforge/internal/domain/ports/repository"
	"appforge/internal/infra/progress"
	"appforge/internal/infra/resilience"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func testCaller(name string) *resilience.Caller {
	return resilience.NewCaller(name, config.ResilienceConfig{
		MaxRetries:       1,
		BaseDelay:        time.Millisecond,
		BreakerThreshold: 100,
		BreakerCooldown:  time.Second,
	}, testLogger())
}

func testBus() *progress.Broadcaster { return progress.NewBroadcaster(testLogger()) }

// --- repositories ---

type mockProjectRepo struct {
	mu       sync.Mutex
	projects map[string]*model.Project
	statuses []string // "status:progress:stage" history, for ordering asserts
}

func newMockProjectRepo() *mockProjectRepo {
	return &mockProjectRepo{projects: make(map[string]*model.Project)}
}

func (m *mockProjectRepo) put(p *model.Project) { m.projects[p.ID] = p }

func (m *mockProjectRepo) FindByID(ctx context.Context, _ repository.Tx, id string) (*model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockProjectRepo) Save(ctx context.Context, _ repository.Tx, p *model.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *mockProjectRepo) UpdateStatus(ctx context.Context, _ repository.Tx, id string, status model.ProjectStatus, progress int, stage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = status
	p.BuildProgress = progress
	p.CurrentStage = stage
	m.statuses = append(m.statuses, fmt.Sprintf("%s:%d:%s", status, progress, stage))
	return nil
}

func (m *mockProjectRepo) SetError(ctx context.Context, _ repository.Tx, id, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.projects[id]; ok {
		p.ErrorMessage = message
	}
	return nil
}

func (m *mockProjectRepo) ClearError(ctx context.Context, _ repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.projects[id]; ok {
		p.ErrorMessage = ""
	}
	return nil
}

func (m *mockProjectRepo) SetComputeIDs(ctx context.Context, _ repository.Tx, id, projID, svcID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.projects[id]; ok {
		p.ComputeProjectID, p.ComputeServiceID = projID, svcID
	}
	return nil
}

func (m *mockProjectRepo) SetDeploymentURL(ctx context.Context, _ repository.Tx, id, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.projects[id]; ok {
		p.DeploymentURL = url
	}
	return nil
}

func (m *mockProjectRepo) SaveSettings(ctx context.Context, _ repository.Tx, id string, s model.ProjectSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.projects[id]; ok {
		p.Settings = s
	}
	return nil
}

func (m *mockProjectRepo) get(id string) *model.Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.projects[id]
}

type mockFileRepo struct {
	mu        sync.Mutex
	files     map[string]map[string]model.ProjectFile // projectID → path → file
	snapshots map[string][]model.VersionSnapshot
}

func newMockFileRepo() *mockFileRepo {
	return &mockFileRepo{
		files:     make(map[string]map[string]model.ProjectFile),
		snapshots: make(map[string][]model.VersionSnapshot),
	}
}

func (m *mockFileRepo) Upsert(ctx context.Context, _ repository.Tx, f *model.ProjectFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files[f.ProjectID] == nil {
		m.files[f.ProjectID] = make(map[string]model.ProjectFile)
	}
	m.files[f.ProjectID][f.Path] = *f
	return nil
}

func (m *mockFileRepo) Delete(ctx context.Context, _ repository.Tx, projectID, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files[projectID], path)
	return nil
}

func (m *mockFileRepo) ListByProject(ctx context.Context, _ repository.Tx, projectID string) ([]model.ProjectFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ProjectFile
	for _, f := range m.files[projectID] {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *mockFileRepo) CountByProject(ctx context.Context, _ repository.Tx, projectID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files[projectID]), nil
}

func (m *mockFileRepo) AppendSnapshot(ctx context.Context, _ repository.Tx, s *model.VersionSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.VersionNumber = len(m.snapshots[s.ProjectID]) + 1
	m.snapshots[s.ProjectID] = append(m.snapshots[s.ProjectID], *s)
	return nil
}

func (m *mockFileRepo) LatestSnapshot(ctx context.Context, _ repository.Tx, projectID string) (*model.VersionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ss := m.snapshots[projectID]
	if len(ss) == 0 {
		return nil, domain.ErrNotFound
	}
	cp := ss[len(ss)-1]
	return &cp, nil
}

func (m *mockFileRepo) content(projectID, path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[projectID][path]
	return f.Content, ok
}

type mockConversationRepo struct {
	mu       sync.Mutex
	messages []model.ConversationMessage
}

func (m *mockConversationRepo) AppendMessage(ctx context.Context, _ repository.Tx, msg *model.ConversationMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *mockConversationRepo) FindMessage(ctx context.Context, _ repository.Tx, id string) (*model.ConversationMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.messages {
		if m.messages[i].ID == id {
			cp := m.messages[i]
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockConversationRepo) seed(id, role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, model.ConversationMessage{ID: id, Role: role, Content: content})
}

func (m *mockConversationRepo) lastAssistant() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].Role == "assistant" {
			return m.messages[i].Content, true
		}
	}
	return "", false
}

type mockDeploymentRepo struct {
	mu          sync.Mutex
	deployments map[string]*model.Deployment
}

func newMockDeploymentRepo() *mockDeploymentRepo {
	return &mockDeploymentRepo{deployments: make(map[string]*model.Deployment)}
}

func (m *mockDeploymentRepo) Create(ctx context.Context, _ repository.Tx, d *model.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.deployments[d.ID] = &cp
	return nil
}

func (m *mockDeploymentRepo) FindByID(ctx context.Context, _ repository.Tx, id string) (*model.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deployments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *mockDeploymentRepo) FindLatestByProject(ctx context.Context, _ repository.Tx, projectID string) (*model.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *model.Deployment
	for _, d := range m.deployments {
		if d.ProjectID != projectID {
			continue
		}
		if latest == nil || d.StartedAt.After(latest.StartedAt) {
			latest = d
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *mockDeploymentRepo) Finalize(ctx context.Context, _ repository.Tx, d *model.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.deployments[d.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Terminal() {
		return nil // immutable once terminal
	}
	cp := *d
	m.deployments[d.ID] = &cp
	return nil
}

func (m *mockDeploymentRepo) only() *model.Deployment {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deployments {
		cp := *d
		return &cp
	}
	return nil
}

type mockMappingRepo struct {
	mu       sync.Mutex
	mappings map[string]*model.DomainMapping
}

func newMockMappingRepo() *mockMappingRepo {
	return &mockMappingRepo{mappings: make(map[string]*model.DomainMapping)}
}

func (m *mockMappingRepo) Create(ctx context.Context, _ repository.Tx, dm *model.DomainMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.mappings {
		if existing.Slug == dm.Slug {
			return domain.ErrAlreadyExists
		}
	}
	cp := *dm
	m.mappings[dm.ID] = &cp
	return nil
}

func (m *mockMappingRepo) FindPrimaryByProject(ctx context.Context, _ repository.Tx, projectID string) (*model.DomainMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, dm := range m.mappings {
		if dm.ProjectID == projectID && dm.IsPrimary {
			cp := *dm
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockMappingRepo) SlugExists(ctx context.Context, _ repository.Tx, slug string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, dm := range m.mappings {
		if dm.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockMappingRepo) UpdateTarget(ctx context.Context, _ repository.Tx, id, targetURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dm, ok := m.mappings[id]
	if !ok {
		return domain.ErrNotFound
	}
	dm.TargetURL = targetURL
	return nil
}

func (m *mockMappingRepo) Delete(ctx context.Context, _ repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mappings, id)
	return nil
}

func (m *mockMappingRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mappings)
}

type mockUsageRepo struct {
	mu      sync.Mutex
	entries []int64
}

func (m *mockUsageRepo) RecordDeployCost(ctx context.Context, _ repository.Tx, projectID, deploymentID string, costMicros int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, costMicros)
	return nil
}

type mockSecretRepo struct {
	secrets []model.ProjectSecret
}

func (m *mockSecretRepo) ListByProject(ctx context.Context, _ repository.Tx, projectID string) ([]model.ProjectSecret, error) {
	var out []model.ProjectSecret
	for _, s := range m.secrets {
		if s.ProjectID == projectID {
			out = append(out, s)
		}
	}
	return out, nil
}

type mockQueue struct {
	mu   sync.Mutex
	jobs []*model.Job
}

func (m *mockQueue) Enqueue(ctx context.Context, _ repository.Tx, job *model.Job) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	m.jobs = append(m.jobs, job)
	return job.ID, nil
}

func (m *mockQueue) FetchAndMarkProcessing(ctx context.Context, jobType model.JobType) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.Type == jobType && j.Status == model.JobStatusPending {
			j.Status = model.JobStatusProcessing
			return j, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockQueue) MarkCompleted(ctx context.Context, id string) error {
	return m.setStatus(id, model.JobStatusCompleted)
}

func (m *mockQueue) Reschedule(ctx context.Context, id string, delay time.Duration, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.ID == id {
			j.Status = model.JobStatusPending
			j.Attempts++
			j.LastError = lastError
			j.AvailableAt = time.Now().Add(delay)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockQueue) Defer(ctx context.Context, id string, delay time.Duration, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.ID == id {
			j.Status = model.JobStatusPending
			j.LastError = reason
			j.AvailableAt = time.Now().Add(delay)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockQueue) MarkDead(ctx context.Context, id string, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.ID == id {
			j.Status = model.JobStatusDead
			j.LastError = lastError
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockQueue) setStatus(id string, st model.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.ID == id {
			j.Status = st
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockQueue) byType(t model.JobType) []*model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, j := range m.jobs {
		if j.Type == t {
			out = append(out, j)
		}
	}
	return out
}

// --- adapters ---

type mockCompute struct {
	mu               sync.Mutex
	statuses         []adapter.StatusReport // popped in order; last one repeats
	envVars          map[string]string
	calls            []string
	domainURL        string
	failStatus       error
	createServiceErr error
}

func newMockCompute() *mockCompute {
	return &mockCompute{
		statuses:  []adapter.StatusReport{{Status: adapter.DeployStatusSuccess, URL: "https://svc.compute.test"}},
		domainURL: "https://svc.compute.test",
	}
}

func (m *mockCompute) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockCompute) called(call string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (m *mockCompute) CreateProject(ctx context.Context, name string) (string, error) {
	m.record("create_project")
	return "cp-1", nil
}

func (m *mockCompute) CreateService(ctx context.Context, projectID, name string) (adapter.Service, error) {
	m.record("create_service")
	if m.createServiceErr != nil {
		return adapter.Service{}, m.createServiceErr
	}
	return adapter.Service{ID: "svc-1", EnvironmentID: "env-1"}, nil
}

func (m *mockCompute) ResolveEnvironment(ctx context.Context, projectID string) (string, error) {
	m.record("resolve_environment")
	return "env-1", nil
}

func (m *mockCompute) SetEnvVars(ctx context.Context, projectID, environmentID, serviceID string, vars map[string]string) error {
	m.record("set_env_vars")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.envVars = vars
	return nil
}

func (m *mockCompute) ConnectSourceRepo(ctx context.Context, projectID, serviceID, repoFullName, branch string) error {
	m.record("connect_source_repo")
	return nil
}

func (m *mockCompute) TriggerDeploy(ctx context.Context, projectID, serviceID, environmentID string) error {
	m.record("trigger_deploy")
	return nil
}

func (m *mockCompute) AllocateDomain(ctx context.Context, serviceID, environmentID string) (string, error) {
	m.record("allocate_domain")
	return m.domainURL, nil
}

func (m *mockCompute) GetStatus(ctx context.Context, projectID, serviceID string) (adapter.StatusReport, error) {
	m.record("get_status")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStatus != nil {
		return adapter.StatusReport{}, m.failStatus
	}
	st := m.statuses[0]
	if len(m.statuses) > 1 {
		m.statuses = m.statuses[1:]
	}
	return st, nil
}

type mockEdge struct {
	mu       sync.Mutex
	mappings map[string]string
	dns      []string
}

func newMockEdge() *mockEdge { return &mockEdge{mappings: make(map[string]string)} }

func (m *mockEdge) PutMapping(ctx context.Context, slug, targetURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings[slug] = targetURL
	return nil
}

func (m *mockEdge) GetMapping(ctx context.Context, slug string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mappings[slug], nil
}

func (m *mockEdge) DeleteMapping(ctx context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mappings, slug)
	return nil
}

func (m *mockEdge) CreateDNSRecord(ctx context.Context, hostname, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dns = append(m.dns, hostname)
	return nil
}

func (m *mockEdge) CreateCustomHostname(ctx context.Context, hostname string) (string, error) {
	return "pending", nil
}

func (m *mockEdge) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mappings)
}

type mockSCM struct {
	mu      sync.Mutex
	pushes  int
	pushErr error
}

func (m *mockSCM) Push(ctx context.Context, userID, projectID, commitMessage string, files []adapter.RepoFile) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pushErr != nil {
		return "", m.pushErr
	}
	m.pushes++
	return "abc123", nil
}

func (m *mockSCM) Pull(ctx context.Context, projectID string) ([]adapter.RepoFile, error) {
	return nil, nil
}

// mockCodeGen scripts the code generation provider.
type mockCodeGen struct {
	mu sync.Mutex

	requirements *model.Requirements
	analyzeErr   error
	iterate      adapter.IterateResult
	iterateErr   error // returned by Iterate; monolithic still works
	fixes        []adapter.FixResult
	fixErr       error

	generateCalls  int
	iterateCalls   int
	monoCalls      int
	fixCalls       int
	fixTargetPaths [][]string // affected-file paths per fix round
}

func (m *mockCodeGen) Analyze(ctx context.Context, message, _ string) (*model.Requirements, error) {
	if m.analyzeErr != nil {
		return nil, m.analyzeErr
	}
	if m.requirements != nil {
		return m.requirements, nil
	}
	return &model.Requirements{AppName: "demo"}, nil
}

func (m *mockCodeGen) Generate(ctx context.Context, req *model.Requirements, item model.PlanItem, _ string) (adapter.GeneratedFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generateCalls++
	return adapter.GeneratedFile{Path: item.Path, Content: "// " + item.Purpose, Language: item.Language}, nil
}

func (m *mockCodeGen) Iterate(ctx context.Context, message string, files []model.ProjectFile, _ string) (adapter.IterateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.iterateCalls++
	if m.iterateErr != nil {
		return adapter.IterateResult{}, m.iterateErr
	}
	return m.iterate, nil
}

func (m *mockCodeGen) IterateMonolithic(ctx context.Context, message string, files []model.ProjectFile, _ string) (adapter.IterateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monoCalls++
	return m.iterate, nil
}

func (m *mockCodeGen) Fix(ctx context.Context, errs []adapter.ValidationError, affected []model.ProjectFile, all []model.ProjectFile) (adapter.FixResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var paths []string
	for _, f := range affected {
		paths = append(paths, f.Path)
	}
	m.fixTargetPaths = append(m.fixTargetPaths, paths)
	m.fixCalls++
	if m.fixErr != nil {
		return adapter.FixResult{}, m.fixErr
	}
	if len(m.fixes) == 0 {
		return adapter.FixResult{}, nil
	}
	fix := m.fixes[0]
	m.fixes = m.fixes[1:]
	return fix, nil
}

func (m *mockCodeGen) ListModels(ctx context.Context) ([]string, error) {
	return []string{"test-model"}, nil
}

// mockValidator returns scripted error sets round by round; empty once the
// script runs out.
type mockValidator struct {
	mu     sync.Mutex
	rounds [][]adapter.ValidationError
	calls  int
}

func (m *mockValidator) Validate(ctx context.Context, files []model.ProjectFile) ([]adapter.ValidationError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.rounds) == 0 {
		return nil, nil
	}
	r := m.rounds[0]
	m.rounds = m.rounds[1:]
	return r, nil
}
