package adapters

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/ports"
)

// LocalMemory is a process-local memory graph: nodes keyed by (scope, key),
// no external store. It backs single-process runs; graph-database deployments
// register their own service instead.
type LocalMemory struct {
	agentIdentity string

	mu    sync.RWMutex
	nodes map[string]ports.MemoryNode
}

// NewLocalMemory builds an empty local memory. agentIdentity seeds the
// identity context export.
func NewLocalMemory(agentIdentity string) *LocalMemory {
	return &LocalMemory{
		agentIdentity: agentIdentity,
		nodes:         make(map[string]ports.MemoryNode),
	}
}

func nodeKey(scope model.MemoryScope, key string) string {
	return string(scope) + "/" + strings.ToLower(key)
}

// Recall implements ports.MemoryService: exact key match first, then a
// substring scan within the node's scope.
func (m *LocalMemory) Recall(_ context.Context, query ports.MemoryNode) ([]ports.MemoryNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if node, ok := m.nodes[nodeKey(query.Scope, query.Key)]; ok {
		return []ports.MemoryNode{node}, nil
	}
	needle := strings.ToLower(query.Key)
	var hits []ports.MemoryNode
	for k, node := range m.nodes {
		if query.Scope != "" && node.Scope != query.Scope {
			continue
		}
		if strings.Contains(k, needle) {
			hits = append(hits, node)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Key < hits[j].Key })
	return hits, nil
}

// Memorize implements ports.MemoryService. Corrections overwrite; ordinary
// writes merge metadata into an existing node.
func (m *LocalMemory) Memorize(_ context.Context, key string, channel string, metadata map[string]any, isCorrection bool) error {
	if key == "" {
		return fmt.Errorf("local memory: empty key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := nodeKey(model.ScopeLocal, key)
	node, exists := m.nodes[k]
	if !exists || isCorrection {
		node = ports.MemoryNode{
			Type:     ports.NodeConcept,
			Key:      key,
			Scope:    model.ScopeLocal,
			Metadata: make(map[string]any),
		}
	}
	if node.Metadata == nil {
		node.Metadata = make(map[string]any)
	}
	for mk, mv := range metadata {
		node.Metadata[mk] = mv
	}
	if channel != "" {
		node.Metadata["channel"] = channel
	}
	node.Metadata["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	m.nodes[k] = node
	return nil
}

// Forget implements ports.MemoryService.
func (m *LocalMemory) Forget(_ context.Context, key string, scope model.MemoryScope, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, nodeKey(scope, key))
	return nil
}

// ExportIdentityContext implements ports.MemoryService.
func (m *LocalMemory) ExportIdentityContext(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder
	b.WriteString(m.agentIdentity)
	var identityKeys []string
	for k, node := range m.nodes {
		if node.Scope == model.ScopeIdentity {
			identityKeys = append(identityKeys, k)
		}
	}
	if len(identityKeys) > 0 {
		sort.Strings(identityKeys)
		fmt.Fprintf(&b, " Remembered identity facts: %s.", strings.Join(identityKeys, ", "))
	}
	return b.String(), nil
}

var _ ports.MemoryService = (*LocalMemory)(nil)
