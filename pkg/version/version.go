// Package version reports the build version.
//
// Release builds pin the tag at compile time:
//
//	go build -ldflags "-X github.com/contribution-patrol/patrol/pkg/version.tag=v1.0.0" ./cmd/patrol
//
// Other builds fall back to the VCS stamp the Go toolchain embeds.
package version

import "github.com/carlmjohnson/versioninfo"

// Populated by -ldflags "-X ...".
var tag = ""

// String returns the tag when set, otherwise a short VCS description such
// as "abc1234" or "devel".
func String() string {
	if tag != "" {
		return tag
	}
	return versioninfo.Short()
}

// UserAgent is the User-Agent sent on outbound API calls.
func UserAgent() string {
	return "contribution-patrol/" + String()
}
