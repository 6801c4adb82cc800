// Package version describes the running build for the /version
// endpoint.
package version

import (
	"runtime"
	"runtime/debug"
	"strconv"
)

// Version is stamped with -ldflags on release builds. Everything else
// comes from the VCS metadata the Go toolchain embeds on its own.
var Version = "dev"

// Info is the /version payload.
type Info struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	Dirty     *bool  `json:"dirty,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get assembles the build info for the named service.
func Get(service string) Info {
	info := Info{
		Service:   service,
		Version:   Version,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	build, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range build.Settings {
		switch s.Key {
		case "vcs.revision":
			info.GitSHA = s.Value
		case "vcs.time":
			info.BuildTime = s.Value
		case "vcs.modified":
			if dirty, err := strconv.ParseBool(s.Value); err == nil {
				info.Dirty = &dirty
			}
		}
	}
	return info
}
