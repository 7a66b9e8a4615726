// Package version reports build metadata for the mqttpersist binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const (
	// Unknown is used when build metadata is not provided.
	Unknown = "unknown"
	// DevelopmentVersion is the default version in local builds.
	DevelopmentVersion = "dev"
)

var (
	// AppVersion is intended to be overridden at build time:
	// go build -ldflags="-X github.com/nimburion/mqttpersist/pkg/version.AppVersion=v1.2.3"
	AppVersion = DevelopmentVersion

	// GitCommit is intended to be overridden at build time. When left unset
	// the VCS revision stamped by the Go toolchain is used.
	GitCommit = Unknown

	// BuildTime is intended to be overridden at build time (RFC3339 recommended).
	BuildTime = Unknown
)

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// Info contains version metadata for the binary.
type Info struct {
	Service   string `json:"service" yaml:"service"`
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
	// Drivers maps the storage and MQTT client modules linked into the
	// binary to their versions.
	Drivers map[string]string `json:"drivers,omitempty" yaml:"drivers,omitempty"`
}

// trackedModules are the backend client libraries reported in Info.Drivers.
var trackedModules = []string{
	"github.com/redis/go-redis/v9",
	"github.com/lib/pq",
	"github.com/go-sql-driver/mysql",
	"github.com/aws/aws-sdk-go-v2/service/dynamodb",
	"go.mongodb.org/mongo-driver",
	"github.com/eclipse/paho.mqtt.golang",
}

// Current returns the current build version metadata.
func Current(serviceName string) Info {
	info := Info{
		Service:   normalizeOrDefault(serviceName, Unknown),
		Version:   normalizeOrDefault(AppVersion, DevelopmentVersion),
		Commit:    normalizeOrDefault(GitCommit, Unknown),
		BuildTime: normalizeOrDefault(BuildTime, Unknown),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	bi, ok := readBuildInfo()
	if !ok {
		return info
	}
	dirty := false
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == Unknown && s.Value != "" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.BuildTime == Unknown && s.Value != "" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if dirty && normalizeOrDefault(GitCommit, Unknown) == Unknown && info.Commit != Unknown {
		info.Commit += "-dirty"
	}
	info.Drivers = drivers(bi.Deps)
	if info.Version == DevelopmentVersion && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	return info
}

func drivers(deps []*debug.Module) map[string]string {
	var out map[string]string
	for _, dep := range deps {
		if dep.Replace != nil {
			dep = dep.Replace
		}
		for _, path := range trackedModules {
			if dep.Path != path {
				continue
			}
			if out == nil {
				out = make(map[string]string, len(trackedModules))
			}
			out[path] = dep.Version
		}
	}
	return out
}

// ParseBuildTime parses BuildTime as RFC3339 if present.
func (i Info) ParseBuildTime() (time.Time, bool) {
	if i.BuildTime == "" || i.BuildTime == Unknown {
		return time.Time{}, false
	}

	ts, err := time.Parse(time.RFC3339, i.BuildTime)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// String returns a log-friendly representation.
func (i Info) String() string {
	return fmt.Sprintf("%s@%s (commit=%s, build_time=%s, %s %s)",
		i.Service, i.Version, i.Commit, i.BuildTime, i.GoVersion, i.Platform)
}

func normalizeOrDefault(v, fallback string) string {
	norm := strings.TrimSpace(v)
	if norm == "" {
		return fallback
	}
	return norm
}
