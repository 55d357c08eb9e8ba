package manifest

import (
	"path"
	"regexp"
)

// Channel pointer documents. They are republished in place upstream and
// always describe whatever release currently holds the channel.
const (
	StablePointer  = "channel-rust-stable.toml"
	BetaPointer    = "channel-rust-beta.toml"
	NightlyPointer = "channel-rust-nightly.toml"
)

// channel-rust-<version>[-beta[.N]].toml
var identifierVersion = regexp.MustCompile(`channel-rust-([0-9][0-9A-Za-z_.-]*?)(-beta(?:\.\d+)?)?\.toml$`)

var numberedBeta = regexp.MustCompile(`beta\.\d+`)

// ExtractVersion reads the release version embedded in a manifest identifier.
// It reports false for channel pointers and for names that do not follow
// the channel-rust-<version>.toml convention.
func ExtractVersion(identifier string) (string, bool) {
	m := identifierVersion.FindStringSubmatch(path.Base(identifier))
	if m == nil {
		return "", false
	}
	version := m[1]
	if m[2] != "" {
		version += m[2]
	}
	return version, true
}

// isPointer reports whether the identifier names a channel alias document
func isPointer(identifier string) bool {
	switch path.Base(identifier) {
	case StablePointer, BetaPointer, NightlyPointer:
		return true
	}
	return false
}
