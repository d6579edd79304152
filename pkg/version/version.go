// Package version resolves the build identity reported in logs and in
// the MCP client handshake. The commit comes from -ldflags when a
// container build injects one, otherwise from the binary's embedded VCS
// metadata, otherwise it degrades to "dev".
package version

import "runtime/debug"

// AppName identifies this program to peers and in version strings.
const AppName = "fabric"

// commitOverride is the -ldflags injection point for builds without a
// .git directory.
var commitOverride string

// GitCommit is the short commit hash, or "dev" when nothing is known
// (go test binaries, builds outside a checkout).
var GitCommit = resolveCommit()

// Full returns "<app>/<commit>" for user-agent strings and log lines.
func Full() string {
	return AppName + "/" + GitCommit
}

func resolveCommit() string {
	if commitOverride != "" {
		return shorten(commitOverride)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && setting.Value != "" {
				return shorten(setting.Value)
			}
		}
	}
	return "dev"
}

func shorten(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}
