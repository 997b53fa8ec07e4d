/*Package docstore provides a hierarchical document store.

Documents are JSON objects stored at slash-separated paths, for example
"users/u1/medications/m1". Reading a path assembles the entire subtree below
it into one nested document, the way a managed realtime database would.
Writing a path replaces the entire subtree.

The store is deliberately narrow: Get, Set, Update, Delete and Push. The
backend consumes it through the Store interface so unit tests can run against
the in-process implementation while production uses Postgres.
*/
package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// Store is the hierarchical document store collaborator.
type Store interface {
	// Get returns the assembled document at path, or nil if there is no
	// document at or below path. A nil document is not an error.
	Get(ctx context.Context, path string) (json.RawMessage, error)

	// Set replaces the entire subtree at path with the given document.
	Set(ctx context.Context, path string, doc interface{}) error

	// Update merges the given keys into the document at path, creating the
	// document if necessary. A JSON null value removes the key. Child nodes
	// below path are not touched.
	Update(ctx context.Context, path string, partial map[string]json.RawMessage) error

	// Delete removes the document at path and everything below it.
	Delete(ctx context.Context, path string) error

	// Push generates a new child key for path. The key is guaranteed not to
	// contain characters outside [0-9a-z-], so it is safe to embed in
	// pagination tokens.
	Push(ctx context.Context, path string) (string, error)
}

// NormalizePath validates a document path and strips surrounding slashes.
// Segments may only contain letters, digits, '-', '_' and '.'.
func NormalizePath(path string) (string, error) {
	path = strings.Trim(path, "/")
	if len(path) == 0 {
		return "", fmt.Errorf("empty document path")
	}
	for _, segment := range strings.Split(path, "/") {
		if len(segment) == 0 {
			return "", fmt.Errorf("empty segment in document path '%s'", path)
		}
		for _, r := range segment {
			if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
				r == '-' || r == '_' || r == '.' {
				continue
			}
			return "", fmt.Errorf("invalid character %q in document path '%s'", r, path)
		}
	}
	return path, nil
}

// node is a stored document row: the path relative to the requested root and
// the raw JSON written at that path.
type node struct {
	path string
	raw  json.RawMessage
}

// assemble merges a set of stored nodes into one nested document. The node
// with an empty relative path is the root document; all others are inserted
// at their relative location. Deeper nodes shadow inline values of their
// ancestors.
func assemble(nodes []node) (json.RawMessage, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	// parents first, then deterministic order within a depth
	sort.Slice(nodes, func(i, j int) bool {
		di := strings.Count(nodes[i].path, "/")
		dj := strings.Count(nodes[j].path, "/")
		if di != dj {
			return di < dj
		}
		return nodes[i].path < nodes[j].path
	})

	// a single scalar leaf has nothing to merge
	if len(nodes) == 1 && len(nodes[0].path) == 0 {
		return nodes[0].raw, nil
	}

	root := map[string]interface{}{}
	for _, n := range nodes {
		if len(n.path) == 0 {
			if err := json.Unmarshal(n.raw, &root); err != nil {
				return nil, fmt.Errorf("document root is not an object: %s", err)
			}
			continue
		}
		segments := strings.Split(n.path, "/")
		cur := root
		for _, segment := range segments[:len(segments)-1] {
			next, ok := cur[segment].(map[string]interface{})
			if !ok {
				next = map[string]interface{}{}
				cur[segment] = next
			}
			cur = next
		}
		var value interface{}
		if err := json.Unmarshal(n.raw, &value); err != nil {
			return nil, fmt.Errorf("document at '%s' is not valid JSON: %s", n.path, err)
		}
		leaf := segments[len(segments)-1]
		if existing, ok := cur[leaf].(map[string]interface{}); ok {
			// deeper rows were merged in already, keep them
			if asMap, ok := value.(map[string]interface{}); ok {
				for key, v := range asMap {
					if _, taken := existing[key]; !taken {
						existing[key] = v
					}
				}
				continue
			}
		}
		cur[leaf] = value
	}

	raw, err := json.Marshal(root)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// mergePartial applies a partial update to a raw document. A nil raw document
// starts from an empty object. JSON null values remove the key.
func mergePartial(raw json.RawMessage, partial map[string]json.RawMessage) (json.RawMessage, error) {
	doc := map[string]json.RawMessage{}
	if raw != nil {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("document is not an object: %s", err)
		}
	}
	for key, value := range partial {
		if string(value) == "null" {
			delete(doc, key)
			continue
		}
		doc[key] = value
	}
	return json.Marshal(doc)
}
