package search

import (
	"context"
	"sync"

	"github.com/perch-social/perch/models"
)

// NoopIndexer records index membership in memory; used when no opensearch
// cluster is configured, and by tests asserting visibility propagation.
type NoopIndexer struct {
	mu      sync.Mutex
	indexed map[string]bool
}

func NewNoopIndexer() *NoopIndexer {
	return &NoopIndexer{
		indexed: make(map[string]bool),
	}
}

func (n *NoopIndexer) IndexContent(ctx context.Context, req *models.ModerationRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.indexed[req.ContentHandle] = true
	return nil
}

func (n *NoopIndexer) DeleteContent(ctx context.Context, contentHandle string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.indexed, contentHandle)
	return nil
}

// Contains reports current index membership; test helper.
func (n *NoopIndexer) Contains(contentHandle string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.indexed[contentHandle]
}
