package driver

import "github.com/Masterminds/semver/v3"

// VersionAtLeast reports whether installed is >= required. It prefers
// a native semantic-version comparison (github.com/Masterminds/semver/v3)
// and falls back to a plain lexical string compare when either string
// doesn't parse as semver, which covers the common case of
// Debian/RPM "epoch:upstream-revision" strings that aren't valid
// semver. This resolves spec §9's Open Question ("lexical or native
// version compare... native is preferred when available") in favor of
// native comparison wherever the version strings support it.
func VersionAtLeast(installed, required string) bool {
	iv, ierr := semver.NewVersion(installed)
	rv, rerr := semver.NewVersion(required)
	if ierr == nil && rerr == nil {
		return iv.Compare(rv) >= 0
	}
	return installed >= required
}
