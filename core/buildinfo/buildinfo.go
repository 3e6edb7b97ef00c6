// Package buildinfo carries version stamps injected at link time, e.g.
//
//	go build -ldflags "-X github.com/m3rciful/portalbot/core/buildinfo.Version=v0.3.0"
package buildinfo

import (
	"runtime/debug"
	"strings"
)

var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// String renders the build as "version (commit, date)". Without a linked
// commit it falls back to the VCS revision recorded by the Go toolchain.
func String() string {
	commit, date := Commit, Date
	if commit == "" {
		commit, date = vcs(date)
	}
	var extra []string
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		extra = append(extra, commit)
	}
	if date != "" {
		extra = append(extra, date)
	}
	if len(extra) == 0 {
		return Version
	}
	return Version + " (" + strings.Join(extra, ", ") + ")"
}

func vcs(date string) (string, string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", date
	}
	var rev string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.time":
			if date == "" {
				date = s.Value
			}
		}
	}
	return rev, date
}
