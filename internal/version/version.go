// Package version reports the build of the timegrid binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Version is set at release time:
//
//	-ldflags="-X github.com/wethinkt/go-timegrid/internal/version.Version=v1.0.0"
var Version = ""

// Info is printed by `timegrid version --json` and served at /api/v1/info.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Revision  string `json:"revision,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

type vcs struct {
	module   string
	revision string
	time     string
	modified bool
}

var readVCS = sync.OnceValue(func() vcs {
	var v vcs
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	v.module = bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			v.revision = s.Value
		case "vcs.time":
			v.time = s.Value
		case "vcs.modified":
			v.modified = s.Value == "true"
		}
	}
	return v
})

// GetInfo returns the build metadata for the named binary.
func GetInfo(name string) Info {
	v := readVCS()
	return Info{
		Name:      name,
		Version:   Get(),
		Revision:  v.revision,
		Modified:  v.modified,
		BuildTime: v.time,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Get returns Version, the module version, dev-<short revision> or "dev".
func Get() string {
	if Version != "" {
		return Version
	}
	v := readVCS()
	switch {
	case v.module != "" && v.module != "(devel)":
		return v.module
	case len(v.revision) >= 7:
		return "dev-" + v.revision[:7]
	}
	return "dev"
}

func String(name string) string {
	return fmt.Sprintf("%s version %s", name, Get())
}
