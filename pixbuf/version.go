package pixbuf

import (
	"github.com/blang/semver"
)

// Version is set at link time, e.g., -ldflags "-X .../pixbuf.Version=0.5.1".
var Version = "development"

// ServiceVersion returns the release version of this build, or "development" when the
// build carries no valid semantic version.
func ServiceVersion() string {
	v, err := semver.ParseTolerant(Version)
	if err != nil {
		return "development"
	}
	return v.String()
}
