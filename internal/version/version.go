/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information.
package version

import "runtime/debug"

// Version is the current version of objgate.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/objgate/internal/version.Version=X.Y.Z
var Version = "0.1.0"

// String returns Version, annotated with the VCS revision when the binary
// was built from a checkout.
func String() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Version
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return Version + " (" + s.Value[:7] + ")"
		}
	}
	return Version
}
