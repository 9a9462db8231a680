package repository

import (
	"sort"
	"strings"
	"sync"
	"time"

	"bluegreen-cd/internal/model"
	"bluegreen-cd/pkg/constants"
	pkgErrors "bluegreen-cd/pkg/responses"
)

// 内存实现, 与MySQL实现保持同样的并发语义, 供核心层测试使用

// MemorySlotRepository 内存槽位仓库
type MemorySlotRepository struct {
	mu      sync.Mutex
	records map[string]*model.SlotRecord
	nextID  int64

	// BeforeWrite 写回前回调, 测试用来制造交错
	BeforeWrite func()
}

func NewMemorySlotRepository() *MemorySlotRepository {
	return &MemorySlotRepository{records: make(map[string]*model.SlotRecord), nextID: 1}
}

func slotKey(project, environment string) string {
	return project + "/" + environment
}

func (r *MemorySlotRepository) Get(project, environment string) (*model.SlotRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(project, environment), nil
}

func (r *MemorySlotRepository) getLocked(project, environment string) *model.SlotRecord {
	key := slotKey(project, environment)
	rec, ok := r.records[key]
	if !ok {
		rec = model.NewSlotRecord(project, environment)
		rec.ID = r.nextID
		r.nextID++
		r.records[key] = rec
	}
	cp := *rec
	return &cp
}

func (r *MemorySlotRepository) CompareAndUpdate(project, environment string, mutator SlotMutator) (*model.SlotRecord, error) {
	r.mu.Lock()
	rec := r.getLocked(project, environment)
	r.mu.Unlock()

	oldRev := rec.Revision
	if err := mutator(rec); err != nil {
		return nil, err
	}
	if err := rec.CheckInvariant(); err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeInternalError, "槽位不变式被破坏, 拒绝写入", err)
	}

	if r.BeforeWrite != nil {
		r.BeforeWrite()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.records[slotKey(project, environment)]
	if current == nil || current.Revision != oldRev {
		return nil, pkgErrors.ErrConcurrentModification
	}
	rec.Revision = oldRev + 1
	rec.UpdatedAt = time.Now()
	cp := *rec
	r.records[slotKey(project, environment)] = &cp
	out := *rec
	return &out, nil
}

func (r *MemorySlotRepository) List() ([]*model.SlotRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.SlotRecord, 0, len(r.records))
	for _, rec := range r.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return slotKey(out[i].ProjectName, out[i].Environment) < slotKey(out[j].ProjectName, out[j].Environment)
	})
	return out, nil
}

func (r *MemorySlotRepository) Delete(project, environment string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, slotKey(project, environment))
	return nil
}

// MemoryPortRepository 内存端口仓库
type MemoryPortRepository struct {
	mu     sync.Mutex
	allocs []*model.PortAllocation
	nextID int64
}

func NewMemoryPortRepository() *MemoryPortRepository {
	return &MemoryPortRepository{nextID: 1}
}

func (r *MemoryPortRepository) Create(alloc *model.PortAllocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.allocs {
		if a.EnvironmentClass == alloc.EnvironmentClass && a.Port == alloc.Port {
			return ErrPortTaken
		}
		if a.EnvironmentClass == alloc.EnvironmentClass &&
			a.ResourceType == alloc.ResourceType && a.OwnerKey == alloc.OwnerKey {
			return ErrPortTaken
		}
	}
	cp := *alloc
	cp.ID = r.nextID
	r.nextID++
	cp.CreatedAt = time.Now()
	r.allocs = append(r.allocs, &cp)
	alloc.ID = cp.ID
	return nil
}

func (r *MemoryPortRepository) FindByOwner(envClass, resourceType, ownerKey string) (*model.PortAllocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.allocs {
		if a.EnvironmentClass == envClass && a.ResourceType == resourceType && a.OwnerKey == ownerKey {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryPortRepository) ListByClass(envClass string) ([]*model.PortAllocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.PortAllocation
	for _, a := range r.allocs {
		if a.EnvironmentClass == envClass {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out, nil
}

func (r *MemoryPortRepository) ListByProject(project string) ([]*model.PortAllocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.PortAllocation
	for _, a := range r.allocs {
		if a.ProjectName == project {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out, nil
}

func (r *MemoryPortRepository) DeleteByPort(envClass string, port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.allocs[:0]
	for _, a := range r.allocs {
		if !(a.EnvironmentClass == envClass && a.Port == port) {
			kept = append(kept, a)
		}
	}
	r.allocs = kept
	return nil
}

func (r *MemoryPortRepository) DeleteByProject(project string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.allocs[:0]
	for _, a := range r.allocs {
		if a.ProjectName != project {
			kept = append(kept, a)
		}
	}
	r.allocs = kept
	return nil
}

// MemoryDeploymentRepository 内存部署历史
type MemoryDeploymentRepository struct {
	mu      sync.Mutex
	records []*model.DeploymentRecord
	nextID  int64
}

func NewMemoryDeploymentRepository() *MemoryDeploymentRepository {
	return &MemoryDeploymentRepository{nextID: 1}
}

func (r *MemoryDeploymentRepository) Create(rec *model.DeploymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	cp.ID = r.nextID
	r.nextID++
	r.records = append(r.records, &cp)
	return nil
}

func (r *MemoryDeploymentRepository) List(project, environment string, limit int) ([]*model.DeploymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []*model.DeploymentRecord
	for i := len(r.records) - 1; i >= 0 && len(out) < limit; i-- {
		rec := r.records[i]
		if rec.ProjectName != project {
			continue
		}
		if environment != "" && rec.Environment != environment {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (r *MemoryDeploymentRepository) LastSuccessful(project, environment, slot string) (*model.DeploymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.records) - 1; i >= 0; i-- {
		rec := r.records[i]
		if rec.ProjectName == project && rec.Environment == environment &&
			rec.Slot == slot && rec.Outcome == constants.DeployOutcomeSuccess {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryDeploymentRepository) PruneBefore(cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.records[:0]
	var pruned int64
	for _, rec := range r.records {
		if rec.StartedAt.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept
	return pruned, nil
}

// MemoryAuditRepository 内存审计日志
type MemoryAuditRepository struct {
	mu      sync.Mutex
	entries []*model.AuditLog
	nextID  int64
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{nextID: 1}
}

func (r *MemoryAuditRepository) Create(entry *model.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entry
	cp.ID = r.nextID
	r.nextID++
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *MemoryAuditRepository) List(actor, action string, limit int) ([]*model.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var out []*model.AuditLog
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := r.entries[i]
		if actor != "" && e.Actor != actor {
			continue
		}
		if action != "" && !strings.EqualFold(e.Action, action) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// MemoryProjectRepository 内存项目仓库
type MemoryProjectRepository struct {
	mu       sync.Mutex
	projects map[string]*model.Project
	nextID   int64
}

func NewMemoryProjectRepository() *MemoryProjectRepository {
	return &MemoryProjectRepository{projects: make(map[string]*model.Project), nextID: 1}
}

func (r *MemoryProjectRepository) Create(project *model.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[project.Name]; ok {
		return pkgErrors.ErrRecordExists
	}
	project.ID = r.nextID
	r.nextID++
	project.CreatedAt = time.Now()
	cp := *project
	r.projects[project.Name] = &cp
	return nil
}

func (r *MemoryProjectRepository) FindByName(name string) (*model.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[name]
	if !ok {
		return nil, pkgErrors.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryProjectRepository) ListAll() ([]*model.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Project, 0, len(r.projects))
	for _, p := range r.projects {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryProjectRepository) Update(project *model.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[project.Name]; !ok {
		return pkgErrors.ErrRecordNotFound
	}
	cp := *project
	r.projects[project.Name] = &cp
	return nil
}

func (r *MemoryProjectRepository) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.projects, name)
	return nil
}

// MemoryAPIKeyRepository 内存API Key仓库
type MemoryAPIKeyRepository struct {
	mu     sync.Mutex
	keys   map[string]*model.APIKey
	nextID int64
}

func NewMemoryAPIKeyRepository() *MemoryAPIKeyRepository {
	return &MemoryAPIKeyRepository{keys: make(map[string]*model.APIKey), nextID: 1}
}

func (r *MemoryAPIKeyRepository) Create(key *model.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[key.KeyHash]; ok {
		return pkgErrors.ErrRecordExists
	}
	key.ID = r.nextID
	r.nextID++
	cp := *key
	r.keys[key.KeyHash] = &cp
	return nil
}

func (r *MemoryAPIKeyRepository) FindByHash(keyHash string) (*model.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[keyHash]
	if !ok {
		return nil, pkgErrors.ErrInvalidAPIKey
	}
	cp := *key
	return &cp, nil
}
