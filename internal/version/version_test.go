package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestLdflagsVersionWins(t *testing.T) {
	prev := Version
	defer func() { Version = prev }()

	Version = "v1.2.3"
	if got := Get(); got != "v1.2.3" {
		t.Errorf("Get() = %q", got)
	}
	if got := String("timegrid"); got != "timegrid version v1.2.3" {
		t.Errorf("String() = %q", got)
	}
	info := GetInfo("timegrid")
	if info.Version != "v1.2.3" || info.Name != "timegrid" || info.GoVersion != runtime.Version() {
		t.Errorf("GetInfo() = %+v", info)
	}
}

func TestDevVersion(t *testing.T) {
	prev := Version
	defer func() { Version = prev }()

	Version = ""
	if got := Get(); got == "" || (!strings.HasPrefix(got, "dev") && !strings.HasPrefix(got, "v")) {
		t.Errorf("Get() = %q", got)
	}
}
