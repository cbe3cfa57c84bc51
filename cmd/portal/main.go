package main

import (
	"runtime/debug"
)

// Set via ldflags: -X main.version=1.0.0 -X main.commit=abc1234
var (
	version = "dev"
	commit  = "none"
)

func init() {
	if commit == "none" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" && len(s.Value) >= 7 {
					commit = s.Value[:7]
					break
				}
			}
		}
	}
}

func main() {
	Execute(version, commit)
}
