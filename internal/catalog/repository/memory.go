package repository

import (
	"context"
	"sync"

	"vipgate/internal/catalog"
)

// MemoryCatalog: каталог в памяти для тестов
type MemoryCatalog struct {
	mu       sync.RWMutex
	plans    map[string]catalog.Plan
	channels map[string]catalog.Channel
}

func NewMemoryCatalog(plans ...catalog.Plan) *MemoryCatalog {
	c := &MemoryCatalog{
		plans:    make(map[string]catalog.Plan),
		channels: make(map[string]catalog.Channel),
	}
	for _, p := range plans {
		c.plans[p.ID] = p
	}
	return c
}

func (c *MemoryCatalog) PutPlan(p catalog.Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plans[p.ID] = p
}

// DeletePlan имитирует удаление плана админкой между событием и обработкой
func (c *MemoryCatalog) DeletePlan(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.plans, id)
}

func (c *MemoryCatalog) PutChannel(ch catalog.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[ch.ID] = ch
}

func (c *MemoryCatalog) GetPlan(ctx context.Context, id string) (*catalog.Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.plans[id]
	if !ok {
		return nil, catalog.ErrPlanNotFound
	}
	return &p, nil
}

func (c *MemoryCatalog) GetChannel(ctx context.Context, id string) (*catalog.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ch, ok := c.channels[id]
	if !ok {
		return nil, catalog.ErrChannelNotFound
	}
	return &ch, nil
}
