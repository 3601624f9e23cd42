package docstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store. Documents are kept in insertion order and
// copied on every read and write.
type Memory struct {
	mu    sync.RWMutex
	rows  map[string]Document
	order []string
	keys  map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		rows: make(map[string]Document),
		keys: make(map[string]string),
	}
}

func identityKey(doc Document) string {
	rt, id := identity(doc)
	return rt + "/" + id
}

func (m *Memory) FindOne(ctx context.Context, cond Condition, projection map[string]any) (Document, error) {
	docs, err := m.Find(ctx, cond, FindOptions{Projection: projection, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

func (m *Memory) Find(ctx context.Context, cond Condition, opts FindOptions) ([]Document, error) {
	m.mu.RLock()
	matched, err := m.matching(cond)
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	if len(opts.Sort) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			return less(matched[i], matched[j], opts.Sort)
		})
	}

	if opts.Skip > 0 {
		if opts.Skip >= len(matched) {
			matched = nil
		} else {
			matched = matched[opts.Skip:]
		}
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]Document, 0, len(matched))
	for _, doc := range matched {
		p, err := Project(doc, opts.Projection)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *Memory) Count(ctx context.Context, cond Condition) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched, err := m.matching(cond)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

func (m *Memory) Insert(ctx context.Context, doc Document) (Document, error) {
	nd, err := normalizeDoc(doc)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := identityKey(nd)
	if _, exists := m.keys[key]; exists {
		return nil, ErrDuplicate
	}
	rowID, _ := nd[RowKey].(string)
	if rowID == "" {
		rowID = uuid.NewString()
		nd[RowKey] = rowID
	}
	m.rows[rowID] = nd
	m.order = append(m.order, rowID)
	m.keys[key] = rowID
	return cloneMap(nd), nil
}

func (m *Memory) ReplaceOne(ctx context.Context, cond Condition, doc Document) (Document, error) {
	nd, err := normalizeDoc(doc)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rowID, err := m.first(cond)
	if err != nil {
		return nil, err
	}
	nd[RowKey] = rowID
	if err := m.store(rowID, nd); err != nil {
		return nil, err
	}
	return cloneMap(nd), nil
}

func (m *Memory) UpdateOne(ctx context.Context, cond Condition, update Update) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rowID, err := m.first(cond)
	if err != nil {
		return nil, err
	}
	doc := cloneMap(m.rows[rowID])
	if err := update.Apply(doc); err != nil {
		return nil, err
	}
	doc[RowKey] = rowID
	if err := m.store(rowID, doc); err != nil {
		return nil, err
	}
	return cloneMap(doc), nil
}

// store swaps the document of an existing row, keeping the identity index
// consistent. Callers hold the write lock.
func (m *Memory) store(rowID string, doc Document) error {
	oldKey := identityKey(m.rows[rowID])
	newKey := identityKey(doc)
	if oldKey != newKey {
		if _, exists := m.keys[newKey]; exists {
			return ErrDuplicate
		}
		delete(m.keys, oldKey)
		m.keys[newKey] = rowID
	}
	m.rows[rowID] = doc
	return nil
}

func (m *Memory) first(cond Condition) (string, error) {
	nc, err := normalizeDoc(cond)
	if err != nil {
		return "", err
	}
	for _, rowID := range m.order {
		ok, err := matchDoc(m.rows[rowID], nc)
		if err != nil {
			return "", err
		}
		if ok {
			return rowID, nil
		}
	}
	return "", ErrNotFound
}

// matching returns the stored documents satisfying cond in insertion order.
// Callers hold at least the read lock; results must not be mutated.
func (m *Memory) matching(cond Condition) ([]Document, error) {
	nc, err := normalizeDoc(cond)
	if err != nil {
		return nil, err
	}
	var out []Document
	for _, rowID := range m.order {
		doc := m.rows[rowID]
		ok, err := matchDoc(doc, nc)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func less(a, b Document, fields []SortField) bool {
	for _, f := range fields {
		c := sortCompare(sortValue(a, f), sortValue(b, f))
		if c == 0 {
			continue
		}
		if f.Direction < 0 {
			return c > 0
		}
		return c < 0
	}
	return false
}

// sortValue picks the key a document sorts by: the smallest candidate when
// ascending, the largest when descending.
func sortValue(doc Document, f SortField) any {
	values := candidates(lookup(doc, f.Field))
	var best any
	for i, v := range values {
		if _, isArr := v.([]any); isArr {
			continue
		}
		c := sortCompare(v, best)
		if i == 0 || best == nil || (f.Direction < 0 && c > 0) || (f.Direction >= 0 && c < 0) {
			best = v
		}
	}
	return best
}
