// timegrid indexes a photo library into day buckets and browses it as a
// windowed chronological grid.
//
// Usage:
//
//	timegrid index ~/Pictures
//	timegrid                       # browse the local library
//	timegrid serve --watch         # serve it over HTTP
//	timegrid browse --server http://localhost:8785
//
// Environment variables:
//
//	TIMEGRID_HOME        Config and data directory (default ~/.timegrid)
//	TIMEGRID_LANG        Display language
//	TIMEGRID_API_TOKEN   Bearer token for serve and browse --server
//	TIMEGRID_LOG_FILE    Debug log file
//	TIMEGRID_PROFILE     Write a CPU profile to this file
package main

import (
	"os"

	"github.com/wethinkt/go-timegrid/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
