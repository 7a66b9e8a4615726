package version

import (
	"runtime/debug"
	"strings"
	"testing"
	"time"
)

func withBuildVars(t *testing.T, version, commit, buildTime string, bi *debug.BuildInfo) {
	t.Helper()
	oldVersion, oldCommit, oldBuildTime, oldRead := AppVersion, GitCommit, BuildTime, readBuildInfo
	t.Cleanup(func() {
		AppVersion, GitCommit, BuildTime, readBuildInfo = oldVersion, oldCommit, oldBuildTime, oldRead
	})
	AppVersion, GitCommit, BuildTime = version, commit, buildTime
	readBuildInfo = func() (*debug.BuildInfo, bool) { return bi, bi != nil }
}

func TestCurrent_Defaults(t *testing.T) {
	withBuildVars(t, "", "", "", nil)

	info := Current("")

	if info.Service != Unknown {
		t.Fatalf("expected service %q, got %q", Unknown, info.Service)
	}
	if info.Version != DevelopmentVersion {
		t.Fatalf("expected version %q, got %q", DevelopmentVersion, info.Version)
	}
	if info.Commit != Unknown {
		t.Fatalf("expected commit %q, got %q", Unknown, info.Commit)
	}
	if info.BuildTime != Unknown {
		t.Fatalf("expected build_time %q, got %q", Unknown, info.BuildTime)
	}
	if info.GoVersion == "" || !strings.Contains(info.Platform, "/") {
		t.Fatalf("expected runtime details, got %+v", info)
	}
}

func TestCurrent_FallsBackToBuildInfo(t *testing.T) {
	withBuildVars(t, DevelopmentVersion, Unknown, Unknown, &debug.BuildInfo{
		Main: debug.Module{Version: "v0.4.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
		},
	})

	info := Current("mqttpersist")
	if info.Version != "v0.4.1" || info.Commit != "abc123" || info.BuildTime != "2026-01-02T03:04:05Z" {
		t.Fatalf("expected build info values, got %+v", info)
	}
}

func TestCurrent_LdflagsWinOverBuildInfo(t *testing.T) {
	withBuildVars(t, "v1.0.0", "deadbeef", "2026-03-01T00:00:00Z", &debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc123"}},
	})

	info := Current("mqttpersist")
	if info.Version != "v1.0.0" || info.Commit != "deadbeef" {
		t.Fatalf("expected ldflags values, got %+v", info)
	}
}

func TestInfo_ParseBuildTime(t *testing.T) {
	info := Info{BuildTime: "2026-02-28T10:11:12Z"}
	ts, ok := info.ParseBuildTime()
	if !ok {
		t.Fatal("expected build time to parse")
	}
	if !ts.Equal(time.Date(2026, 2, 28, 10, 11, 12, 0, time.UTC)) {
		t.Fatalf("unexpected build time %v", ts)
	}

	if _, ok := (Info{BuildTime: Unknown}).ParseBuildTime(); ok {
		t.Fatal("unknown build time must not parse")
	}
	if _, ok := (Info{BuildTime: "yesterday"}).ParseBuildTime(); ok {
		t.Fatal("non RFC3339 build time must not parse")
	}
}

func TestInfo_String(t *testing.T) {
	info := Info{Service: "mqttpersist", Version: "v1.2.3", Commit: "abc", BuildTime: Unknown, GoVersion: "go1.25.5", Platform: "linux/amd64"}
	want := "mqttpersist@v1.2.3 (commit=abc, build_time=unknown, go1.25.5 linux/amd64)"
	if got := info.String(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCurrent_DirtyTreeAndDrivers(t *testing.T) {
	withBuildVars(t, DevelopmentVersion, Unknown, Unknown, &debug.BuildInfo{
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.modified", Value: "true"},
		},
		Deps: []*debug.Module{
			{Path: "github.com/redis/go-redis/v9", Version: "v9.17.3"},
			{Path: "github.com/lib/pq", Version: "v1.10.0", Replace: &debug.Module{Path: "github.com/lib/pq", Version: "v1.11.2"}},
			{Path: "github.com/spf13/cobra", Version: "v1.10.2"},
		},
	})

	info := Current("mqttpersist")
	if info.Commit != "abc123-dirty" {
		t.Errorf("expected dirty commit marker, got %q", info.Commit)
	}
	if info.Drivers["github.com/redis/go-redis/v9"] != "v9.17.3" {
		t.Errorf("expected go-redis version, got %v", info.Drivers)
	}
	if info.Drivers["github.com/lib/pq"] != "v1.11.2" {
		t.Errorf("expected the replacement version of lib/pq, got %v", info.Drivers)
	}
	if _, ok := info.Drivers["github.com/spf13/cobra"]; ok {
		t.Error("only backend client modules are reported")
	}
}
