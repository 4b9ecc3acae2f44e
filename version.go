// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package bulkload

import (
	"runtime"
	"time"
)

// Set at build time with -ldflags "-X github.com/featurebasedb/bulkload.Version=...".
var (
	Version   string
	Commit    string
	BuildTime string
	GoVersion = runtime.Version()
)

// VersionInfo returns a one line description of the build.
func VersionInfo() string {
	suffix := " " + ShortVersion()
	buildTime := BuildTime
	if buildTime != "" {
		// Normalize the build time into a friendly format in the user's time zone.
		if t, err := time.Parse("2006-01-02T15:04:05+0000", BuildTime); err == nil {
			buildTime = t.Local().Format("Jan _2 2006 3:04PM")
		}
	}
	switch {
	case Commit != "" && buildTime != "":
		suffix += " (" + buildTime + ", " + Commit + ")"
	case Commit != "":
		suffix += " (" + Commit + ")"
	case buildTime != "":
		suffix += " (" + buildTime + ")"
	}
	return "bulkload" + suffix + " " + GoVersion
}

// ShortVersion is Version, or "v0.0.0-dev" for unstamped builds.
func ShortVersion() string {
	if Version == "" {
		return "v0.0.0-dev"
	}
	return Version
}
