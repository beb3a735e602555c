package cpcd

import (
	"fmt"
	"runtime/debug"
)

// Set at build time via `-ldflags "-X 'github.com/nkljajic/cpc-daemon/src.CPCD_VERSION=X'"`
var CPCD_VERSION string

func getBuildSettingOrDefault(bi *debug.BuildInfo, key string, defaultValue string) string {
	for _, bs := range bi.Settings {
		if bs.Key == key {
			return bs.Value
		}
	}

	return defaultValue
}

func PrintVersion() {
	var buildInfo, _ = debug.ReadBuildInfo()

	var buildTimeStr = getBuildSettingOrDefault(buildInfo, "vcs.time", "UNKNOWN")
	var buildCommit = getBuildSettingOrDefault(buildInfo, "vcs.revision", "UNKNOWN")

	var version = CPCD_VERSION
	if version == "" {
		version = "!UNKNOWN!"
	}

	fmt.Printf("cpcd - Version %s (revision %s, built at %s)\n", version, buildCommit, buildTimeStr)
}
