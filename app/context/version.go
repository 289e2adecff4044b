package context

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// VersionInfo is the version of the running binary.
type VersionInfo struct {
	Semantic string
	Commit   string
	Modified bool
}

// String returns the version in a human-readable format.
func (v *VersionInfo) String() string {
	if v.Commit == "" {
		return v.Semantic
	}
	commit := v.Commit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if v.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s)", v.Semantic, commit)
}

// GetVersion reads the version from the build information embedded in the
// binary.
func GetVersion() (*VersionInfo, error) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return nil, errors.New("failed reading build information")
	}

	v := &VersionInfo{Semantic: bi.Main.Version}
	if v.Semantic == "" {
		v.Semantic = "(devel)"
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			v.Commit = s.Value
		case "vcs.modified":
			v.Modified = s.Value == "true"
		}
	}

	return v, nil
}
