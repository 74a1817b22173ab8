package ops

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Chris5934/SheetSmith/internal/model"
)

// registry 内存预览登记表
// 过期后完整预览再保留 retain 时长；之后只留下不含变更明细的墓碑，
// 在 tombstoneRetain 内仍能对 apply 报告准确的终态
type registry struct {
	mu              sync.Mutex
	items           map[string]*model.PreviewArtifact
	tombstones      map[string]*model.PreviewArtifact
	retain          time.Duration
	tombstoneRetain time.Duration
}

func newRegistry(retain, tombstoneRetain time.Duration) *registry {
	if tombstoneRetain < retain {
		tombstoneRetain = retain
	}
	return &registry{
		items:           make(map[string]*model.PreviewArtifact),
		tombstones:      make(map[string]*model.PreviewArtifact),
		retain:          retain,
		tombstoneRetain: tombstoneRetain,
	}
}

func (r *registry) put(p *model.PreviewArtifact, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.purgeExpiredLocked(now)
	r.items[p.ID] = clonePreview(p)
}

// get 返回副本；已过期的 created 预览先转为 expired
func (r *registry) get(id string, now time.Time) (*model.PreviewArtifact, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.purgeExpiredLocked(now)

	p, ok := r.lookupLocked(id)
	if !ok {
		return nil, false
	}
	r.expireLocked(p, now)
	return clonePreview(p), true
}

// lookupLocked 先查完整预览，再查墓碑
func (r *registry) lookupLocked(id string) (*model.PreviewArtifact, bool) {
	if p, ok := r.items[id]; ok {
		return p, true
	}
	p, ok := r.tombstones[id]
	return p, ok
}

// transition 仅允许 created → to；返回转换前的状态对应的错误
func (r *registry) transition(id string, to model.PreviewState, now time.Time) (*model.PreviewArtifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.purgeExpiredLocked(now)

	p, ok := r.lookupLocked(id)
	if !ok {
		return nil, fmt.Errorf("preview %s: %w", id, model.ErrPreviewNotFound)
	}
	r.expireLocked(p, now)
	if p.State != model.PreviewCreated {
		return clonePreview(p), stateError(p)
	}
	p.State = to
	return clonePreview(p), nil
}

// list 未清理的预览，按创建时间倒序
func (r *registry) list(spreadsheetID string, now time.Time) []*model.PreviewArtifact {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.purgeExpiredLocked(now)

	out := make([]*model.PreviewArtifact, 0, len(r.items))
	for _, p := range r.items {
		if spreadsheetID != "" && p.SpreadsheetID != spreadsheetID {
			continue
		}
		r.expireLocked(p, now)
		out = append(out, clonePreview(p))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *registry) expireLocked(p *model.PreviewArtifact, now time.Time) {
	if p.State == model.PreviewCreated && now.After(p.ExpiresAt) {
		p.State = model.PreviewExpired
	}
}

// purgeExpiredLocked 超过 retain 的预览降为墓碑，超过 tombstoneRetain 的墓碑删除
func (r *registry) purgeExpiredLocked(now time.Time) {
	for id, p := range r.items {
		if now.After(p.ExpiresAt.Add(r.retain)) {
			r.expireLocked(p, now)
			r.tombstones[id] = tombstone(p)
			delete(r.items, id)
		}
	}
	for id, p := range r.tombstones {
		if now.After(p.ExpiresAt.Add(r.tombstoneRetain)) {
			delete(r.tombstones, id)
		}
	}
}

// tombstone 保留身份、终态与影响范围，丢弃变更明细
func tombstone(p *model.PreviewArtifact) *model.PreviewArtifact {
	return &model.PreviewArtifact{
		ID:            p.ID,
		SpreadsheetID: p.SpreadsheetID,
		Kind:          p.Kind,
		Description:   p.Description,
		Scope:         p.Scope,
		Safety:        p.Safety,
		CreatedAt:     p.CreatedAt,
		ExpiresAt:     p.ExpiresAt,
		State:         p.State,
	}
}

func stateError(p *model.PreviewArtifact) error {
	switch p.State {
	case model.PreviewConsumed:
		return fmt.Errorf("preview %s: %w", p.ID, model.ErrPreviewConsumed)
	case model.PreviewExpired:
		return fmt.Errorf("preview %s expired at %s: %w", p.ID, p.ExpiresAt.Format(time.RFC3339), model.ErrPreviewExpired)
	case model.PreviewCancelled:
		return fmt.Errorf("preview %s: %w", p.ID, model.ErrPreviewCancelled)
	}
	return nil
}

func clonePreview(p *model.PreviewArtifact) *model.PreviewArtifact {
	cp := *p
	cp.Changes = append([]model.ProposedChange(nil), p.Changes...)
	return &cp
}
