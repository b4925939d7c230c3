package version

import (
	"runtime/debug"
	"testing"
)

func TestFromBuildInfo_FillsUnsetValues(t *testing.T) {
	bi := &debug.BuildInfo{
		GoVersion: "go1.25.7",
		Main:      debug.Module{Path: "github.com/kailas-cloud/ragvault", Version: "v1.2.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.time", Value: "2026-10-01T10:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	got := fromBuildInfo(bi)
	want := Info{
		Version: "v1.2.0", Commit: "abc123", Date: "2026-10-01T10:00:00Z",
		GoVersion: "go1.25.7", Modified: true,
	}
	if got != want {
		t.Errorf("fromBuildInfo() = %+v, want %+v", got, want)
	}
}

func TestFromBuildInfo_LdflagsWin(t *testing.T) {
	defer func(v, c string) { Version, Commit = v, c }(Version, Commit)
	Version, Commit = "v9.9.9", "deadbeef"

	got := fromBuildInfo(&debug.BuildInfo{
		Main:     debug.Module{Version: "v1.2.0"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc123"}},
	})
	if got.Version != "v9.9.9" || got.Commit != "deadbeef" {
		t.Errorf("ldflags values overridden: %+v", got)
	}
}

func TestFromBuildInfo_DevelBuild(t *testing.T) {
	got := fromBuildInfo(&debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
	if got.Version != "dev" || got.Commit != "unknown" {
		t.Errorf("unexpected info for a devel build: %+v", got)
	}
	if got := fromBuildInfo(nil); got.Version != Version {
		t.Errorf("nil build info: %+v", got)
	}
}
