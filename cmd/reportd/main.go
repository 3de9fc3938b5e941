// Command reportd runs recurring reporting jobs: it fetches rows from JSON,
// HTML, Prometheus or CSV sources, optionally screens a numeric column for
// outliers, and inserts only the rows whose key is not yet stored.
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("reportd: command failed", "err", err)
		os.Exit(1)
	}
}
