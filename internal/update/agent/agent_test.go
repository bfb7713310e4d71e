package agent

import (
	"bytes"
	"context"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/qubesos/vmupdate/internal/update/driver"
	"github.com/qubesos/vmupdate/internal/update/exitcode"
	"github.com/qubesos/vmupdate/internal/update/result"
)

type nullLogger struct{}

func (nullLogger) Debugf(string, ...interface{}) {}
func (nullLogger) Warnf(string, ...interface{})  {}
func (nullLogger) Errorf(string, ...interface{}) {}

// fakeDriver is a minimal driver.Driver used to exercise Upgrade
// without shelling out to a real package manager.
type fakeDriver struct {
	before, after driver.PackageSet
	upgradeCode   exitcode.Code
	calledUpgrade bool
}

func (f *fakeDriver) Name() string { return "fake" }
func (f *fakeDriver) Refresh(ctx context.Context, hardFail bool) result.Result {
	return result.New(exitcode.OK, "", "")
}
func (f *fakeDriver) GetPackages(ctx context.Context) (driver.PackageSet, error) {
	if f.calledUpgrade {
		return f.after, nil
	}
	return f.before, nil
}
func (f *fakeDriver) InstallRequirements(ctx context.Context, required []driver.Requirement, current driver.PackageSet) result.Result {
	return result.New(exitcode.OK, "", "")
}
func (f *fakeDriver) UpgradeInternal(ctx context.Context, removeObsolete bool) result.Result {
	f.calledUpgrade = true
	return result.New(f.upgradeCode, "", "")
}
func (f *fakeDriver) Clean(ctx context.Context) int { return int(exitcode.OK) }
func (f *fakeDriver) GetAction(removeObsolete bool) []string {
	return []string{"upgrade"}
}
func (f *fakeDriver) SupportsProgress() bool { return false }

var _ driver.Driver = (*fakeDriver)(nil)

func TestUpgradeDetectsChangesAndReturnsOK(t *testing.T) {
	d := &fakeDriver{
		before:      driver.PackageSet{"a": {"1.0"}},
		after:       driver.PackageSet{"a": {"2.0"}},
		upgradeCode: exitcode.OK,
	}

	res, diff := Upgrade(context.Background(), d, Args{}, nullLogger{})

	assert.Equal(t, res.Code, exitcode.OK)
	assert.Equal(t, diff.HasUpgrades(), true)
}

func TestUpgradeNoChangesReportsOKNoUpdates(t *testing.T) {
	same := driver.PackageSet{"a": {"1.0"}}
	d := &fakeDriver{before: same, after: same, upgradeCode: exitcode.OK}

	res, diff := Upgrade(context.Background(), d, Args{}, nullLogger{})

	assert.Equal(t, res.Code, exitcode.OKNoUpdates)
	assert.Equal(t, diff.HasUpgrades(), false)
}

func TestUpgradeReportsErrVMUpdateOnUpgradeFailure(t *testing.T) {
	d := &fakeDriver{
		before:      driver.PackageSet{"a": {"1.0"}},
		after:       driver.PackageSet{"a": {"2.0"}},
		upgradeCode: exitcode.ErrVMUpdate,
	}

	res, _ := Upgrade(context.Background(), d, Args{}, nullLogger{})
	assert.Equal(t, res.Code, exitcode.ErrVMUpdate)
}

func TestArgsToCLIArgs(t *testing.T) {
	a := Args{NoRefresh: true, ForceUpgrade: true, ShowOutput: true, Log: "/tmp/agent.log"}
	assert.DeepEqual(t, a.ToCLIArgs(), []string{"--log", "/tmp/agent.log", "--no-refresh", "--force-upgrade", "--show-output"})
}

func TestParseOSReleaseAndClassify(t *testing.T) {
	content := "ID=fedora\nVERSION_ID=41\nPRETTY_NAME=\"Fedora Linux 41\"\n"
	fields := ParseOSRelease(content)
	assert.Equal(t, fields["ID"], "fedora")
	assert.Equal(t, fields["VERSION_ID"], "41")

	osData, err := DetectOS(content, false)
	assert.NilError(t, err)
	assert.Equal(t, osData.Family, "RedHat")
	assert.Equal(t, osData.FedoraVersion, 41)
}

func TestPrintChangesFormatsSections(t *testing.T) {
	diff := driver.Diff{
		Installed: map[string][]string{"new-pkg": {"1.0"}},
		Updated:   map[string]driver.VersionChange{},
		Removed:   map[string][]string{},
	}
	var buf bytes.Buffer
	PrintChanges(&buf, diff)

	out := buf.String()
	assert.Assert(t, len(out) > 0)
}
