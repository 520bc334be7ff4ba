package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/franz/listen-stats/internal/store"
	"github.com/franz/listen-stats/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `Run diagnostic checks to ensure lstats can operate correctly.

This command checks:
- SQLite version compatibility
- Database accessibility and integrity
- Event log directory permissions
- Disk space next to the database
- Last.fm credentials (optional)
- The latest import runs

Use this command to troubleshoot issues before importing or serving.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	util.InfoLog("=== lstats doctor - System Diagnostics ===")
	util.InfoLog("")

	results := []checkResult{}

	results = append(results, checkSQLite())

	dbPath := viper.GetString("db")
	results = append(results, checkDatabase(dbPath))
	if dbPath != "" {
		results = append(results, checkImportRuns(dbPath))
		results = append(results, checkDiskSpace(filepath.Dir(dbPath), "database"))
	}

	eventDir := viper.GetString("events.dir")
	if eventDir == "" {
		eventDir = util.DefaultEventLogDir
	}
	results = append(results, checkEventLogDirectory(eventDir))

	results = append(results, checkLastFM(viper.GetString("lastfm.api_key"), viper.GetString("lastfm.user")))

	// Print results
	util.InfoLog("")
	util.InfoLog("=== Diagnostic Results ===")
	util.InfoLog("")

	hasErrors := false
	hasWarnings := false

	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		if r.error {
			util.ErrorLog("%s", line)
		} else if r.warning {
			util.WarnLog("%s", line)
		} else {
			util.SuccessLog("%s", line)
		}
	}

	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("❌ Some critical checks failed. Please resolve errors before running lstats.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("⚠️  Some checks produced warnings. Review them before proceeding.")
	} else {
		util.SuccessLog("✅ All checks passed!")
	}

	return nil
}

// checkSQLite verifies SQLite version
func checkSQLite() checkResult {
	// modernc.org/sqlite is pure Go, so only the version needs checking
	version := store.SQLiteVersion()
	if version == "" {
		return checkResult{
			name:    "SQLite",
			error:   true,
			message: "unable to determine version",
		}
	}

	return checkResult{
		name:    "SQLite",
		message: fmt.Sprintf("version %s (built-in)", version),
	}
}

// checkDatabase verifies database file accessibility
func checkDatabase(dbPath string) checkResult {
	if dbPath == "" {
		return checkResult{
			name:    "Database",
			warning: true,
			message: "no database path specified (use --db flag or config)",
		}
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{
				name:    "Database",
				message: fmt.Sprintf("%s (will be created on first import)", dbPath),
			}
		}
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", dbPath, err),
		}
	}

	if !info.Mode().IsRegular() {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("%s is not a regular file", dbPath),
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("cannot open %s: %v", dbPath, err),
		}
	}
	defer db.Close()

	if err := db.CheckIntegrity(); err != nil {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("integrity check failed: %v", err),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	count, _ := db.Count(ctx)

	return checkResult{
		name:    "Database",
		message: fmt.Sprintf("%s (%s, %s listens)", dbPath, humanize.Bytes(uint64(info.Size())), humanize.Comma(int64(count))),
	}
}

// checkImportRuns reports when data last arrived
func checkImportRuns(dbPath string) checkResult {
	if _, err := os.Stat(dbPath); err != nil {
		return checkResult{name: "Imports", warning: true, message: "no database yet"}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return checkResult{name: "Imports", error: true, message: fmt.Sprintf("cannot open %s: %v", dbPath, err)}
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runs, err := db.RecentImportRuns(ctx, 1)
	if err != nil {
		return checkResult{name: "Imports", error: true, message: err.Error()}
	}
	if len(runs) == 0 {
		return checkResult{
			name:    "Imports",
			warning: true,
			message: "nothing imported yet (run 'lstats import <file.csv>' or 'lstats sync')",
		}
	}

	last := runs[0]
	result := checkResult{
		name: "Imports",
		message: fmt.Sprintf("last run %s from %s: %d imported, %d skipped",
			humanize.Time(last.CompletedAt), last.Source, last.Imported, last.Skipped),
	}
	if last.ErrorCount > 0 {
		result.warning = true
	}
	return result
}

// checkEventLogDirectory verifies the event log directory is writable
func checkEventLogDirectory(path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0755); err != nil {
				return checkResult{
					name:    "Event log directory",
					error:   true,
					message: fmt.Sprintf("cannot create %s: %v", path, err),
				}
			}
			return checkResult{
				name:    "Event log directory",
				message: fmt.Sprintf("%s (created)", path),
			}
		}
		return checkResult{
			name:    "Event log directory",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", path, err),
		}
	}

	if !info.IsDir() {
		return checkResult{
			name:    "Event log directory",
			error:   true,
			message: fmt.Sprintf("%s is not a directory", path),
		}
	}

	testFile := filepath.Join(path, ".lstats_write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return checkResult{
			name:    "Event log directory",
			error:   true,
			message: fmt.Sprintf("cannot write to %s: %v", path, err),
		}
	}
	f.Close()
	os.Remove(testFile)

	return checkResult{
		name:    "Event log directory",
		message: fmt.Sprintf("%s (writable)", path),
	}
}

// checkLastFM reports whether history sync is configured
func checkLastFM(apiKey, user string) checkResult {
	switch {
	case apiKey == "" && user == "":
		return checkResult{
			name:    "Last.fm (optional)",
			warning: true,
			message: "not configured (sync and recent --sync are disabled)",
		}
	case apiKey == "":
		return checkResult{name: "Last.fm (optional)", warning: true, message: "lastfm.user is set but lastfm.api_key is missing"}
	case user == "":
		return checkResult{name: "Last.fm (optional)", warning: true, message: "lastfm.api_key is set but lastfm.user is missing"}
	}
	return checkResult{
		name:    "Last.fm (optional)",
		message: fmt.Sprintf("configured for %s", user),
	}
}

// checkDiskSpace verifies available disk space
func checkDiskSpace(path string, label string) checkResult {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return checkResult{
			name:    fmt.Sprintf("Disk space (%s)", label),
			warning: true,
			message: fmt.Sprintf("cannot determine disk space: %v", err),
		}
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)

	// The database grows slowly; 1 GB is plenty of headroom
	warningMsg := ""
	warning := availBytes < 1<<30
	if warning {
		warningMsg = " (low space!)"
	}

	return checkResult{
		name:    fmt.Sprintf("Disk space (%s)", label),
		warning: warning,
		message: fmt.Sprintf("%s available%s", humanize.Bytes(availBytes), warningMsg),
	}
}
