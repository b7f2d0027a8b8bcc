// Package braincache recycles trainer instances across assignments.
// Building a policy for a brain spec is the expensive part; reusing a
// cached one only needs fresh weights and paths.
package braincache

import (
	"container/list"
	"encoding/json"
	"sync"

	"github.com/understudy-ai/understudy-backend/internal/domain"
	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
	"github.com/understudy-ai/understudy-backend/internal/trainer"
)

// DefaultCapacity is the default number of cached trainers.
const DefaultCapacity = 8

// Cache is an LRU of trainers keyed by the canonical form of
// (brain spec, hyperparameters). Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	factory  trainer.Factory
	order    *list.List // front is most recently used
	items    map[string]*list.Element
}

type entry struct {
	key string
	tr  trainer.Trainer
}

func New(factory trainer.Factory, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		factory:  factory,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// Key canonicalizes a (spec, hyperparameters) pair.
func Key(spec *domain.BrainSpec, h trainer.Hyperparameters) (string, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return "", svcerr.Internal("marshalling brain spec: %v", err)
	}
	return string(data) + "|" + h.Canonical(), nil
}

// Get returns a trainer for the pair, reusing a cached instance when
// one exists. A cache hit is rebound to the given paths, its weights
// reinitialized and its buffers cleared. The returned hyperparameters
// are the trainer's effective, post-validation settings.
func (c *Cache) Get(spec *domain.BrainSpec, h trainer.Hyperparameters, checkpointPath, summaryPath string) (trainer.Trainer, trainer.Hyperparameters, error) {
	key, err := Key(spec, h)
	if err != nil {
		return nil, h, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		tr := el.Value.(*entry).tr
		tr.Rebind(checkpointPath, summaryPath)
		tr.ReinitializeAgent()
		tr.ClearStepBuffers()
		return tr, tr.Hyperparameters(), nil
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).key)
	}

	tr, err := c.factory(spec, h, checkpointPath, summaryPath, true)
	if err != nil {
		return nil, h, err
	}
	c.items[key] = c.order.PushFront(&entry{key: key, tr: tr})
	return tr, tr.Hyperparameters(), nil
}

// Contains reports whether the pair is cached, without touching
// recency.
func (c *Cache) Contains(spec *domain.BrainSpec, h trainer.Hyperparameters) bool {
	key, err := Key(spec, h)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Len reports the number of cached trainers.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
