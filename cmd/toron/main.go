// Package main provides the entry point for the toron CLI tool.
package main

import "github.com/shawnbrown/toron/cmd/toron/cmd"

// Version information populated by goreleaser.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cmd.Execute(version, commit, date)
}
