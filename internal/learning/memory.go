package learning

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/takeoff/internal/model"
	"github.com/sells-group/takeoff/internal/store"
)

// MemoryRepository is a process-local Repository with the same upsert and
// ranking rules as the SQL stores. Used when no database is configured.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[memoryKey]model.LearnedMapping
	now  func() time.Time
}

type memoryKey struct {
	owner, norm, layer string
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[memoryKey]model.LearnedMapping), now: time.Now}
}

func (r *MemoryRepository) SaveMapping(_ context.Context, m model.LearnedMapping) (*model.LearnedMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	key := memoryKey{m.OwnerID, m.DescriptionNorm, m.Layer}
	if prev, ok := r.rows[key]; ok {
		m.ID = prev.ID
		m.CreatedAt = prev.CreatedAt
		m.UsageCount = prev.UsageCount + 1
		if m.Discipline == "" {
			m.Discipline = prev.Discipline
		}
	} else {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.CreatedAt = now
		m.UsageCount = 1
	}
	m.LastUsedAt = now
	r.rows[key] = m
	return &m, nil
}

func (r *MemoryRepository) FindMappings(_ context.Context, q store.MappingQuery) ([]model.LearnedMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.LearnedMapping
	for k, m := range r.rows {
		if k.owner != q.OwnerID {
			continue
		}
		if !strings.Contains(q.DescriptionNorm, k.norm) && !strings.Contains(k.norm, q.DescriptionNorm) {
			continue
		}
		if q.Discipline != "" && string(m.Discipline) != q.Discipline {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UsageCount != out[j].UsageCount {
			return out[i].UsageCount > out[j].UsageCount
		}
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Layer < out[j].Layer
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
