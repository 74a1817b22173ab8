package mapping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Chris5934/SheetSmith/internal/model"
)

// DefaultDisambiguationTTL 消歧请求默认有效期
const DefaultDisambiguationTTL = 24 * time.Hour

// Store 映射持久化接口
type Store interface {
	PutMapping(ctx context.Context, rec *model.MappingRecord) (*model.MappingRecord, error)
	GetMapping(ctx context.Context, logical model.LogicalCoordinate) (*model.MappingRecord, error)
	GetMappingByID(ctx context.Context, id int64) (*model.MappingRecord, error)
	ListMappings(ctx context.Context, spreadsheetID string) ([]*model.MappingRecord, error)
	DeleteMapping(ctx context.Context, id int64) (bool, error)
}

// Coordinator 消歧请求登记表
// 每个进程构造一次并在各请求路径间共享；同一逻辑坐标同时最多一个未决请求
type Coordinator struct {
	mu       sync.Mutex
	requests map[string]*model.DisambiguationRequest
	byKey    map[string]string

	store  Store
	locks  *keyLock
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// CoordinatorOption 构造选项
type CoordinatorOption func(*Coordinator)

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger 指定日志
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator 创建消歧登记表；ttl <= 0 使用默认 24 小时
func NewCoordinator(store Store, ttl time.Duration, opts ...CoordinatorOption) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultDisambiguationTTL
	}
	c := &Coordinator{
		requests: make(map[string]*model.DisambiguationRequest),
		byKey:    make(map[string]string),
		store:    store,
		locks:    newKeyLock(),
		ttl:      ttl,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request 为逻辑坐标登记消歧请求
// 同一坐标已有未过期的同维度请求时直接返回它（created=false）
func (c *Coordinator) Request(logical model.LogicalCoordinate, dim model.Dimension, candidates []model.Candidate) (*model.DisambiguationRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.purgeExpiredLocked(now)

	key := logical.Key()
	if id, ok := c.byKey[key]; ok {
		existing := c.requests[id]
		if existing.Dimension == dim {
			return cloneRequest(existing), false
		}
		// 布局变化导致歧义维度改变，旧请求作废
		c.removeLocked(id)
	}

	req := &model.DisambiguationRequest{
		ID:         uuid.NewString(),
		Logical:    logical,
		Dimension:  dim,
		Candidates: append([]model.Candidate(nil), candidates...),
		CreatedAt:  now,
		ExpiresAt:  now.Add(c.ttl),
	}
	c.requests[req.ID] = req
	c.byKey[key] = req.ID

	c.logger.Info("disambiguation requested",
		"request_id", req.ID,
		"logical", logical.String(),
		"dimension", dim,
		"candidates", len(candidates),
	)
	return cloneRequest(req), true
}

// outstanding 返回同一坐标同维度的未过期请求
func (c *Coordinator) outstanding(logical model.LogicalCoordinate, dim model.Dimension) *model.DisambiguationRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeExpiredLocked(c.now())
	id, ok := c.byKey[logical.Key()]
	if !ok || c.requests[id].Dimension != dim {
		return nil
	}
	return cloneRequest(c.requests[id])
}

// Get 查询未决请求
func (c *Coordinator) Get(id string) (*model.DisambiguationRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeExpiredLocked(c.now())
	req, ok := c.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %s unknown, expired or already resolved: %w", id, model.ErrInvalidRequest)
	}
	return cloneRequest(req), nil
}

// Pending 列出全部未过期请求（按创建时间）
func (c *Coordinator) Pending() []*model.DisambiguationRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeExpiredLocked(c.now())
	out := make([]*model.DisambiguationRequest, 0, len(c.requests))
	for _, req := range c.requests {
		out = append(out, cloneRequest(req))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// PurgeExpired 清理过期请求，返回清理数量
func (c *Coordinator) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeExpiredLocked(c.now())
}

// Resolve 提交用户选择并写入映射
// 未知/过期/已处理的请求返回 ErrInvalidRequest；索引越界返回 ErrIndexOutOfRange 且请求保留
func (c *Coordinator) Resolve(ctx context.Context, id string, selectedIndex int, userLabel string) (*model.MappingRecord, error) {
	return c.resolve(ctx, id, selectedIndex, userLabel, nil)
}

// rowLocator 在选定的列下重新查找行标签
type rowLocator func(ctx context.Context, l model.LogicalCoordinate, col model.Candidate) ([]model.Candidate, error)

// resolve 提交选择；locate 非空时，单元格坐标的列选择会现场定位行，行标签不存在则不写入映射且请求保留
func (c *Coordinator) resolve(ctx context.Context, id string, selectedIndex int, userLabel string, locate rowLocator) (*model.MappingRecord, error) {
	c.mu.Lock()
	now := c.now()
	c.purgeExpiredLocked(now)
	req, ok := c.requests[id]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("request %s unknown, expired or already resolved: %w", id, model.ErrInvalidRequest)
	}
	if selectedIndex < 0 || selectedIndex >= len(req.Candidates) {
		c.mu.Unlock()
		return nil, fmt.Errorf("index %d not in [0, %d): %w", selectedIndex, len(req.Candidates), model.ErrIndexOutOfRange)
	}
	// 先摘除，避免并发的第二次 Resolve 重复提交
	c.removeLocked(id)
	c.mu.Unlock()

	rec, err := c.commit(ctx, req, selectedIndex, userLabel, now, locate)
	if err != nil {
		c.reinstate(req)
		return nil, err
	}

	c.logger.Info("disambiguation resolved",
		"request_id", id,
		"logical", req.Logical.String(),
		"dimension", req.Dimension,
		"selected", selectedIndex,
		"address", rec.Physical.CellAddress(),
	)
	return rec, nil
}

func (c *Coordinator) commit(ctx context.Context, req *model.DisambiguationRequest, idx int, label string, now time.Time, locate rowLocator) (*model.MappingRecord, error) {
	unlock := c.locks.Lock(req.Logical.Key())
	defer unlock()

	chosen := req.Candidates[idx]
	dctx := &model.DisambiguationContext{
		SelectedIndex:   idx,
		TotalCandidates: len(req.Candidates),
		UserLabel:       label,
		Candidate:       chosen,
		DisambiguatedAt: now,
	}

	rec := &model.MappingRecord{Logical: req.Logical}
	existing, err := c.store.GetMapping(ctx, req.Logical)
	switch {
	case err == nil:
		rec = existing
	case errors.Is(err, model.ErrMappingNotFound):
	default:
		return nil, err
	}

	physical := chosen.Physical(req.Logical.SheetName)
	if !req.Logical.IsCell() {
		physical.RowIndex = -1
	}
	if req.Dimension == model.DimensionRow {
		rec.RowDisambiguation = dctx
	} else {
		rec.Disambiguation = dctx
		if req.Logical.IsCell() {
			row, err := c.columnChoiceRow(ctx, req, chosen, existing, locate)
			if err != nil {
				return nil, err
			}
			physical.RowIndex = row
		}
	}
	rec.Physical = physical
	rec.LastValidatedAt = now

	return c.store.PutMapping(ctx, rec)
}

// columnChoiceRow 单元格坐标在列消歧后的行号
// 行标签唯一时返回该行；重复时返回 -1，由下一次解析发起行消歧；不存在时返回 ErrRowLabelNotFound
func (c *Coordinator) columnChoiceRow(ctx context.Context, req *model.DisambiguationRequest, chosen model.Candidate, existing *model.MappingRecord, locate rowLocator) (int, error) {
	if locate == nil {
		if chosen.RowIndex < 0 && existing != nil {
			return existing.Physical.RowIndex, nil
		}
		return chosen.RowIndex, nil
	}

	rows, err := locate(ctx, req.Logical, chosen)
	if err != nil {
		return -1, err
	}
	switch len(rows) {
	case 0:
		return -1, fmt.Errorf("row label %q under column %s of sheet %q: %w",
			req.Logical.RowLabel, chosen.ColumnLetter, req.Logical.SheetName, model.ErrRowLabelNotFound)
	case 1:
		return rows[0].RowIndex, nil
	}
	return -1, nil
}

func (c *Coordinator) reinstate(req *model.DisambiguationRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := req.Logical.Key()
	if _, taken := c.byKey[key]; taken || !c.now().Before(req.ExpiresAt) {
		return
	}
	c.requests[req.ID] = req
	c.byKey[key] = req.ID
}

func (c *Coordinator) removeLocked(id string) {
	req, ok := c.requests[id]
	if !ok {
		return
	}
	delete(c.requests, id)
	key := req.Logical.Key()
	if c.byKey[key] == id {
		delete(c.byKey, key)
	}
}

func (c *Coordinator) purgeExpiredLocked(now time.Time) int {
	n := 0
	for id, req := range c.requests {
		if !now.Before(req.ExpiresAt) {
			c.removeLocked(id)
			n++
		}
	}
	return n
}

func cloneRequest(req *model.DisambiguationRequest) *model.DisambiguationRequest {
	out := *req
	out.Candidates = make([]model.Candidate, len(req.Candidates))
	for i, cand := range req.Candidates {
		cand.SampleValues = append([]string(nil), cand.SampleValues...)
		out.Candidates[i] = cand
	}
	return &out
}
