package driver

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"gotest.tools/v3/assert"
)

func TestComparePackages(t *testing.T) {
	old := PackageSet{
		"kept":    {"1.0"},
		"updated": {"1.0"},
		"removed": {"1.0"},
	}
	updatedSet := PackageSet{
		"kept":      {"1.0"},
		"updated":   {"2.0"},
		"installed": {"3.0"},
	}

	diff := ComparePackages(old, updatedSet)

	if diff := cmp.Diff(diff.Installed, map[string][]string{"installed": {"3.0"}}); diff != "" {
		t.Errorf("Installed mismatch (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(diff.Updated, map[string]VersionChange{
		"updated": {Old: []string{"1.0"}, New: []string{"2.0"}},
	}); diff != "" {
		t.Errorf("Updated mismatch (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(diff.Removed, map[string][]string{"removed": {"1.0"}}); diff != "" {
		t.Errorf("Removed mismatch (-got +want):\n%s", diff)
	}
}

func TestDiffEmptyAndHasUpgrades(t *testing.T) {
	empty := Diff{}
	assert.Equal(t, empty.Empty(), true)
	assert.Equal(t, empty.HasUpgrades(), false)

	withInstall := Diff{Installed: map[string][]string{"a": {"1.0"}}}
	assert.Equal(t, withInstall.Empty(), false)
	assert.Equal(t, withInstall.HasUpgrades(), true)

	onlyRemoved := Diff{Removed: map[string][]string{"a": {"1.0"}}}
	assert.Equal(t, onlyRemoved.Empty(), false)
	assert.Equal(t, onlyRemoved.HasUpgrades(), false)
}

func TestPlanRequirements(t *testing.T) {
	current := PackageSet{
		"already-satisfied": {"2.0.0"},
		"too-old":           {"1.0.0"},
	}
	required := []Requirement{
		{Name: "already-satisfied", MinVersion: "1.0.0"},
		{Name: "too-old", MinVersion: "2.0.0"},
		{Name: "absent", MinVersion: "1.0.0"},
	}

	toInstall, toUpgrade := PlanRequirements(required, current)

	assert.DeepEqual(t, toInstall, []string{"absent"})
	assert.DeepEqual(t, toUpgrade, []string{"too-old"})
}

func TestVersionAtLeastSemver(t *testing.T) {
	assert.Equal(t, VersionAtLeast("2.0.0", "1.9.9"), true)
	assert.Equal(t, VersionAtLeast("1.0.0", "1.0.1"), false)
	assert.Equal(t, VersionAtLeast("1.0.0", "1.0.0"), true)
}

func TestVersionAtLeastLexicalFallback(t *testing.T) {
	// Debian-style "epoch:upstream-revision" strings aren't valid
	// semver, so this falls back to a lexical compare.
	assert.Equal(t, VersionAtLeast("1:2.3-4", "1:2.3-3"), true)
}
