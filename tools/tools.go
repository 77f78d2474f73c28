//go:build tools

// Package tools lists the development tools used with this module. They are
// installed with `go install` and are not tracked in go.mod.
package tools

// Air rebuilds portal-authd on source changes. Templates are already reread
// from disk in dev mode, so only Go edits need a restart.
//
//   Install: go install github.com/air-verse/air@v1.63.0
//   Run:     DEV=true air --build.cmd "go build -o ./tmp/portal-authd ./cmd/portal-authd" --build.bin ./tmp/portal-authd
