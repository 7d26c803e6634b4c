// Package version reports the relay build. Values are set at build time:
//
//	go build -ldflags "-X github.com/AltairaLabs/VoiceRelay/runtime/version.version=1.2.0 \
//	    -X github.com/AltairaLabs/VoiceRelay/runtime/version.gitCommit=$(git rev-parse --short HEAD)"
//
// Without ldflags the module version and VCS stamp from the Go build info
// are used.
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

const (
	devVersion     = "dev"
	shortCommitLen = 7
	vcsRevisionKey = "vcs.revision"
	vcsModifiedKey = "vcs.modified"
)

var (
	version   = devVersion
	gitCommit = ""
	buildDate = ""
)

// Info is the build description.
type Info struct {
	Version string
	Commit  string
	Date    string
	Dirty   bool
}

// Get returns the build description, falling back to the Go build info
// for anything not set with ldflags.
func Get() Info {
	info := Info{Version: version, Commit: gitCommit, Date: buildDate}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == devVersion && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	if info.Commit != "" {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case vcsRevisionKey:
			info.Commit = s.Value[:min(shortCommitLen, len(s.Value))]
		case vcsModifiedKey:
			info.Dirty = s.Value == "true"
		}
	}
	return info
}

// String renders the build for the version command.
func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "voicerelay version %s", i.Version)
	if i.Commit != "" {
		fmt.Fprintf(&b, "\ncommit: %s", i.Commit)
		if i.Dirty {
			b.WriteString(" (dirty)")
		}
	}
	if i.Date != "" {
		fmt.Fprintf(&b, "\nbuilt: %s", i.Date)
	}
	return b.String()
}

// LogAttrs returns the build as slog key/value pairs.
func (i Info) LogAttrs() []any {
	attrs := []any{"version", i.Version}
	if i.Commit != "" {
		attrs = append(attrs, "commit", i.Commit)
	}
	if i.Dirty {
		attrs = append(attrs, "dirty", true)
	}
	if i.Date != "" {
		attrs = append(attrs, "built", i.Date)
	}
	return attrs
}
