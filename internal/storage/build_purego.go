//go:build purego || !sqlite_cgo
// +build purego !sqlite_cgo

package storage

// This file is compiled by default, and whenever the purego tag is set.
// It uses a pure Go SQLite implementation and needs no C compiler.
//
// Build command:
//   CGO_ENABLED=0 go build ./...
//
// Driver used: modernc.org/sqlite

import (
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)

// dataSourceName attaches per-connection settings to dbPath. Every
// connection the pool opens gets the busy timeout and foreign keys, and
// every transaction begins IMMEDIATE.
func dataSourceName(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_txlock=immediate", dbPath, sep, busyTimeoutMs)
}
