package docstore

import (
	"context"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/google/uuid"
)

// Memory is the in-process document store. It implements the exact same
// semantics as the postgres store and backs the unit tests as well as the
// development mode without a database.
type Memory struct {
	mutex sync.RWMutex
	nodes map[string]json.RawMessage
}

// NewMemory creates an empty in-process document store
func NewMemory() *Memory {
	return &Memory{nodes: make(map[string]json.RawMessage)}
}

// Get returns the assembled document at path, or nil if there is no document
// at or below path.
func (m *Memory) Get(ctx context.Context, path string) (json.RawMessage, error) {
	path, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}

	m.mutex.RLock()
	var nodes []node
	for nodePath, raw := range m.nodes {
		if nodePath == path {
			nodes = append(nodes, node{path: "", raw: raw})
		} else if strings.HasPrefix(nodePath, path+"/") {
			nodes = append(nodes, node{path: nodePath[len(path)+1:], raw: raw})
		}
	}
	m.mutex.RUnlock()

	return assemble(nodes)
}

// Set replaces the entire subtree at path with the given document.
func (m *Memory) Set(ctx context.Context, path string, doc interface{}) error {
	path, err := NormalizePath(path)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.deleteSubtree(path)
	m.nodes[path] = raw
	return nil
}

// Update merges the given keys into the document at path, creating the
// document if necessary. Child nodes below path are not touched.
func (m *Memory) Update(ctx context.Context, path string, partial map[string]json.RawMessage) error {
	path, err := NormalizePath(path)
	if err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	merged, err := mergePartial(m.nodes[path], partial)
	if err != nil {
		return err
	}
	m.nodes[path] = merged
	return nil
}

// Delete removes the document at path and everything below it.
func (m *Memory) Delete(ctx context.Context, path string) error {
	path, err := NormalizePath(path)
	if err != nil {
		return err
	}
	m.mutex.Lock()
	m.deleteSubtree(path)
	m.mutex.Unlock()
	return nil
}

// Push generates a new child key for path
func (m *Memory) Push(ctx context.Context, path string) (string, error) {
	if _, err := NormalizePath(path); err != nil {
		return "", err
	}
	return uuid.New().String(), nil
}

// deleteSubtree must be called with the write lock held
func (m *Memory) deleteSubtree(path string) {
	delete(m.nodes, path)
	for nodePath := range m.nodes {
		if strings.HasPrefix(nodePath, path+"/") {
			delete(m.nodes, nodePath)
		}
	}
}
