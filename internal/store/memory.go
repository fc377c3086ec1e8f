package store

import (
	"context"
	"sync"
	"time"

	"github.com/nicholasgasior/datashare/internal/share"
)

// Memory is an in-process Store guarded by a single mutex. It is the test
// default and mirrors the Postgres implementation's semantics, including the
// atomicity of TryAcquireLock.
type Memory struct {
	mu sync.Mutex

	shares      map[string]*share.Object
	items       map[string]*share.Item
	locks       map[string]*memoryLock
	dataFilters map[string]*share.DataFilter

	datasets  map[string]*share.Dataset
	envs      map[string]*share.Environment
	groups    map[string]*share.EnvironmentGroup
	roles     map[string]*share.ConsumptionRole
	tables    map[string]*share.Table
	locations map[string]*share.StorageLocation
	buckets   map[string]*share.Bucket
}

type memoryLock struct {
	isLocked   bool
	acquiredBy string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		shares:      make(map[string]*share.Object),
		items:       make(map[string]*share.Item),
		locks:       make(map[string]*memoryLock),
		dataFilters: make(map[string]*share.DataFilter),
		datasets:    make(map[string]*share.Dataset),
		envs:        make(map[string]*share.Environment),
		groups:      make(map[string]*share.EnvironmentGroup),
		roles:       make(map[string]*share.ConsumptionRole),
		tables:      make(map[string]*share.Table),
		locations:   make(map[string]*share.StorageLocation),
		buckets:     make(map[string]*share.Bucket),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) CreateShare(_ context.Context, obj *share.Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.shares {
		if existing.Deleted == nil &&
			existing.DatasetURI == obj.DatasetURI &&
			existing.TargetEnvURI == obj.TargetEnvURI &&
			existing.PrincipalID == obj.PrincipalID {
			return ErrDuplicateShare
		}
	}
	cp := *obj
	m.shares[obj.URI] = &cp
	return nil
}

func (m *Memory) GetShare(_ context.Context, shareURI string) (*share.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.shares[shareURI]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *obj
	return &cp, nil
}

func (m *Memory) UpdateShareStatus(_ context.Context, shareURI string, status share.ObjectStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.shares[shareURI]
	if !ok {
		return ErrNotFound
	}
	obj.Status = status
	obj.Updated = time.Now().UTC()
	return nil
}

func (m *Memory) DeleteShare(_ context.Context, shareURI string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.shares[shareURI]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	obj.Deleted = &now
	return nil
}

func (m *Memory) CreateItem(_ context.Context, item *share.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *item
	m.items[item.URI] = &cp
	return nil
}

func (m *Memory) GetItem(_ context.Context, itemURI string) (*share.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemURI]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (m *Memory) ListItems(_ context.Context, shareURI string, kind share.ItemKind, status share.ItemStatus) ([]*share.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*share.Item
	for _, item := range m.items {
		if item.ShareURI != shareURI {
			continue
		}
		if kind != "" && item.Kind != kind {
			continue
		}
		if status != "" && item.Status != status {
			continue
		}
		cp := *item
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) ListItemsByHealth(_ context.Context, shareURI string, health share.HealthStatus, status share.ItemStatus) ([]*share.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*share.Item
	for _, item := range m.items {
		if item.ShareURI != shareURI || item.Health != health {
			continue
		}
		if status != "" && item.Status != status {
			continue
		}
		cp := *item
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) UpdateItemStatus(_ context.Context, itemURI string, status share.ItemStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemURI]
	if !ok {
		return ErrNotFound
	}
	item.Status = status
	item.Updated = time.Now().UTC()
	return nil
}

func (m *Memory) UpdateItemStatusBatch(_ context.Context, shareURI string, from, to share.ItemStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := 0
	for _, item := range m.items {
		if item.ShareURI == shareURI && item.Status == from {
			item.Status = to
			item.Updated = time.Now().UTC()
			changed++
		}
	}
	return changed, nil
}

func (m *Memory) UpdateItemHealth(_ context.Context, itemURI string, health share.HealthStatus, message string, verifiedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemURI]
	if !ok {
		return ErrNotFound
	}
	item.Health = health
	item.HealthMessage = message
	item.LastVerified = &verifiedAt
	item.Updated = time.Now().UTC()
	return nil
}

func (m *Memory) DeleteItem(_ context.Context, itemURI string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[itemURI]; !ok {
		return ErrNotFound
	}
	delete(m.items, itemURI)
	return nil
}

func (m *Memory) CountOtherSharedItems(_ context.Context, targetURI, envURI, excludeShareURI string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, item := range m.items {
		if item.TargetURI != targetURI || item.ShareURI == excludeShareURI || !item.InSharedState() {
			continue
		}
		owner, ok := m.shares[item.ShareURI]
		if !ok || owner.TargetEnvURI != envURI {
			continue
		}
		count++
	}
	return count, nil
}

func (m *Memory) HasPendingItems(_ context.Context, shareURI string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.ShareURI != shareURI {
			continue
		}
		if item.InSharedState() || item.Status == share.ItemPendingApproval || item.Status == share.ItemShareApproved {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) GetDataFilter(_ context.Context, itemURI string) (*share.DataFilter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.dataFilters[itemURI]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

// PutDataFilter registers a data filter for an item. Test seeding helper.
func (m *Memory) PutDataFilter(f *share.DataFilter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	m.dataFilters[f.ItemURI] = &cp
}

func (m *Memory) CreateLock(_ context.Context, datasetURI string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locks[datasetURI]; !ok {
		m.locks[datasetURI] = &memoryLock{}
	}
	return nil
}

func (m *Memory) TryAcquireLock(_ context.Context, datasetURI, holderURI string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[datasetURI]
	if !ok {
		return false, ErrNotFound
	}
	if lock.isLocked {
		return false, nil
	}
	lock.isLocked = true
	lock.acquiredBy = holderURI
	return true, nil
}

func (m *Memory) ReleaseLock(_ context.Context, datasetURI, holderURI string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[datasetURI]
	if !ok {
		return false, ErrNotFound
	}
	if !lock.isLocked || lock.acquiredBy != holderURI {
		return false, nil
	}
	lock.isLocked = false
	lock.acquiredBy = ""
	return true, nil
}

func (m *Memory) GetDataset(_ context.Context, datasetURI string) (*share.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.datasets[datasetURI]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *Memory) GetEnvironment(_ context.Context, envURI string) (*share.Environment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.envs[envURI]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) GetEnvironmentGroup(_ context.Context, groupURI, envURI string) (*share.EnvironmentGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupURI+"/"+envURI]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *Memory) GetConsumptionRole(_ context.Context, roleURI string) (*share.ConsumptionRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[roleURI]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) GetTable(_ context.Context, tableURI string) (*share.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl, ok := m.tables[tableURI]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tbl
	return &cp, nil
}

func (m *Memory) GetStorageLocation(_ context.Context, locationURI string) (*share.StorageLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locations[locationURI]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *Memory) GetBucket(_ context.Context, bucketURI string) (*share.Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[bucketURI]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

// Seeding helpers used by tests and local development.

func (m *Memory) PutDataset(d *share.Dataset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.datasets[d.URI] = &cp
}

func (m *Memory) PutEnvironment(e *share.Environment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.envs[e.URI] = &cp
}

func (m *Memory) PutEnvironmentGroup(g *share.EnvironmentGroup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.groups[g.GroupURI+"/"+g.EnvURI] = &cp
}

func (m *Memory) PutConsumptionRole(r *share.ConsumptionRole) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.roles[r.URI] = &cp
}

func (m *Memory) PutTable(t *share.Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tables[t.URI] = &cp
}

func (m *Memory) PutStorageLocation(l *share.StorageLocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.locations[l.URI] = &cp
}

func (m *Memory) PutBucket(b *share.Bucket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.buckets[b.URI] = &cp
}
