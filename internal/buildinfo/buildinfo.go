package buildinfo

import "runtime/debug"

// Set with -ldflags "-X evsite/internal/buildinfo.Version=..." at release time.
var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

var readBuildInfo = debug.ReadBuildInfo

// Info reports the version of the running binary. When the linker did not
// stamp a commit, the VCS settings recorded by the Go toolchain are used.
func Info() map[string]string {
	out := map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
	}
	bi, ok := readBuildInfo()
	if !ok {
		return out
	}
	out["go"] = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if out["commit"] == "" {
				out["commit"] = s.Value
			}
		case "vcs.time":
			if out["builtAt"] == "" {
				out["builtAt"] = s.Value
			}
		case "vcs.modified":
			if s.Value == "true" {
				out["dirty"] = "true"
			}
		}
	}
	return out
}
