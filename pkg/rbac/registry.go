package rbac

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// operationRequirement is what one operation declares
type operationRequirement struct {
	scope       string
	permissions []string
}

// Registry maps operations to their required permissions. A scope groups operations
// and its permissions apply to every operation in it, ahead of the operation's own.
type Registry struct {
	mu         sync.RWMutex
	scopes     map[string][]string
	operations map[string]operationRequirement
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		scopes:     make(map[string][]string),
		operations: make(map[string]operationRequirement),
	}
}

// RequireForScope adds permissions required by every operation of a scope
func (r *Registry) RequireForScope(scope string, permissions ...string) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.scopes[scope] = append(r.scopes[scope], permissions...)
	return r
}

// RequireForOperation registers an operation under a scope with its own permissions
func (r *Registry) RequireForOperation(scope, operation string, permissions ...string) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()

	req := r.operations[operation]
	req.scope = scope
	req.permissions = append(req.permissions, permissions...)
	r.operations[operation] = req
	return r
}

// Lookup returns the permissions an operation requires, scope first, and whether the
// operation is registered
func (r *Registry) Lookup(operation string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.operations[operation]
	if !ok {
		return nil, false
	}

	scopePerms := r.scopes[req.scope]
	required := make([]string, 0, len(scopePerms)+len(req.permissions))
	required = append(required, scopePerms...)
	required = append(required, req.permissions...)
	return required, true
}

// Required returns the permissions an operation requires; nil when unregistered
func (r *Registry) Required(operation string) []string {
	required, _ := r.Lookup(operation)
	return required
}

// Operations returns the registered operation ids, sorted
func (r *Registry) Operations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ops := make([]string, 0, len(r.operations))
	for op := range r.operations {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Clone returns an independent copy
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := NewRegistry()
	for scope, perms := range r.scopes {
		c.scopes[scope] = append([]string(nil), perms...)
	}
	for op, req := range r.operations {
		c.operations[op] = operationRequirement{
			scope:       req.scope,
			permissions: append([]string(nil), req.permissions...),
		}
	}
	return c
}

// Merge adds every declaration of other to r
func (r *Registry) Merge(other *Registry) *Registry {
	snapshot := other.Clone()
	for scope, perms := range snapshot.scopes {
		r.RequireForScope(scope, perms...)
	}
	for op, req := range snapshot.operations {
		r.RequireForOperation(req.scope, op, req.permissions...)
	}
	return r
}

// Replace swaps in the contents of other
func (r *Registry) Replace(other *Registry) {
	snapshot := other.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes = snapshot.scopes
	r.operations = snapshot.operations
}

// RegistryFile is the YAML form of a registry
type RegistryFile struct {
	Scopes     map[string][]string      `yaml:"scopes"`
	Operations map[string]OperationSpec `yaml:"operations"`
}

// OperationSpec declares one operation in a registry file
type OperationSpec struct {
	Scope       string   `yaml:"scope"`
	Permissions []string `yaml:"permissions"`
}

// ParseRegistry builds a registry from YAML
func ParseRegistry(data []byte) (*Registry, error) {
	var file RegistryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}

	r := NewRegistry()
	for scope, perms := range file.Scopes {
		r.RequireForScope(scope, perms...)
	}
	for op, spec := range file.Operations {
		if op == "" {
			return nil, fmt.Errorf("registry operation with empty id")
		}
		for _, p := range spec.Permissions {
			if p == "" {
				return nil, fmt.Errorf("operation %s declares an empty permission", op)
			}
		}
		r.RequireForOperation(spec.Scope, op, spec.Permissions...)
	}
	return r, nil
}

// LoadRegistryFile reads a registry from a YAML file
func LoadRegistryFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	return ParseRegistry(data)
}

// WatchRegistryFile reloads target whenever the file changes, rebuilding it as base plus
// the file's declarations. A file that fails to parse leaves target untouched.
// The watch stops when ctx is done.
func WatchRegistryFile(ctx context.Context, path string, base, target *Registry, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Editors often replace the file, so the directory is watched
	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch registry directory: %w", err)
	}

	baseline := base.Clone()
	logger = logger.WithField("registry_file", path)

	go func() {
		defer watcher.Close()
		defer observability.RecoverPanic(logger, "registry watcher")

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				loaded, err := LoadRegistryFile(path)
				if err != nil {
					logger.WithError(err).Warn("registry reload failed, keeping previous registry")
					continue
				}
				target.Replace(baseline.Clone().Merge(loaded))
				logger.WithField("operations", len(target.Operations())).Info("registry reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("registry watcher error")
			}
		}
	}()

	return nil
}
