package rbac

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const petitionRegistryYAML = `
scopes:
  petitions:
    - VIEW_PETITION
operations:
  petitions.approve:
    scope: petitions
    permissions:
      - APPROVE_PETITION
  petitions.list:
    scope: petitions
`

func TestRegistry_LookupScopeFirst(t *testing.T) {
	r := NewRegistry().
		RequireForScope("petitions", "VIEW_PETITION").
		RequireForOperation("petitions", "petitions.approve", "APPROVE_PETITION")

	required, ok := r.Lookup("petitions.approve")
	require.True(t, ok)
	assert.Equal(t, []string{"VIEW_PETITION", "APPROVE_PETITION"}, required)

	_, ok = r.Lookup("petitions.delete")
	assert.False(t, ok)
	assert.Nil(t, r.Required("petitions.delete"))
}

func TestRegistry_CloneIsIndependent(t *testing.T) {
	r := NewRegistry().RequireForOperation("petitions", "petitions.approve", "APPROVE_PETITION")
	c := r.Clone()

	c.RequireForOperation("petitions", "petitions.approve", "SIGN_PETITION")
	c.RequireForScope("petitions", "VIEW_PETITION")

	assert.Equal(t, []string{"APPROVE_PETITION"}, r.Required("petitions.approve"))
	assert.Equal(t, []string{"VIEW_PETITION", "APPROVE_PETITION", "SIGN_PETITION"}, c.Required("petitions.approve"))
}

func TestRegistry_MergeAndReplace(t *testing.T) {
	base := RegisterOperations(NewRegistry())
	extra := NewRegistry().RequireForOperation("reports", "reports.export", "VIEW_REPORTS")

	merged := base.Clone().Merge(extra)
	assert.Equal(t, []string{
		OpCheckPermissions,
		OpEffectivePermissions,
		OpInvalidateCache,
		OpCacheStatistics,
		OpWarmupCache,
		"reports.export",
	}, merged.Operations())
	assert.Equal(t, []string{ManageCachePermission}, merged.Required(OpWarmupCache))

	target := NewRegistry()
	target.Replace(merged)
	assert.Equal(t, merged.Operations(), target.Operations())
	assert.Len(t, base.Operations(), 5, "merge works on a clone")
}

func TestParseRegistry(t *testing.T) {
	r, err := ParseRegistry([]byte(petitionRegistryYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"petitions.approve", "petitions.list"}, r.Operations())
	assert.Equal(t, []string{"VIEW_PETITION", "APPROVE_PETITION"}, r.Required("petitions.approve"))
	assert.Equal(t, []string{"VIEW_PETITION"}, r.Required("petitions.list"))
}

func TestParseRegistry_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed", "operations: [not, a, map"},
		{"empty permission", "operations:\n  petitions.approve:\n    permissions: [\"\"]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRegistry([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadRegistryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(petitionRegistryYAML), 0o600))

	r, err := LoadRegistryFile(path)
	require.NoError(t, err)
	assert.Len(t, r.Operations(), 2)

	_, err = LoadRegistryFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWatchRegistryFile_Reloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("operations: {}\n"), 0o600))

	base := RegisterOperations(NewRegistry())
	target := base.Clone()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, WatchRegistryFile(ctx, path, base, target, nil))

	require.NoError(t, os.WriteFile(path, []byte(petitionRegistryYAML), 0o600))
	require.Eventually(t, func() bool {
		return len(target.Required("petitions.approve")) == 2
	}, 5*time.Second, 20*time.Millisecond)

	// Built-in operations survive the reload
	assert.Equal(t, []string{ManageCachePermission}, target.Required(OpInvalidateCache))

	// A broken file keeps the last good registry
	tmp := filepath.Join(dir, "registry.yaml.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("operations: [broken"), 0o600))
	require.NoError(t, os.Rename(tmp, path))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, []string{"VIEW_PETITION", "APPROVE_PETITION"}, target.Required("petitions.approve"))
}

func TestWatchRegistryFile_MissingDirectory(t *testing.T) {
	err := WatchRegistryFile(context.Background(), filepath.Join(t.TempDir(), "nope", "registry.yaml"), NewRegistry(), NewRegistry(), nil)
	assert.Error(t, err)
}
