package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/franz/listen-stats/internal/stats"
	"github.com/franz/listen-stats/internal/store"
)

// StatsReport is a snapshot of listening statistics for one window
type StatsReport struct {
	GeneratedAt time.Time
	Window      store.Window

	TotalListens int
	TopAlbums    []stats.AlbumStat
	TopArtists   []stats.ArtistStat
	TopTracks    []stats.TrackStat
	ImportRuns   []*store.ImportRun

	DatabasePath string
	EventLogPath string
}

// GenerateStatsReport gathers the rankings of w, nb rows each
func GenerateStatsReport(ctx context.Context, db *store.Store, w store.Window, nb int) (*StatsReport, error) {
	engine := stats.New(db)
	report := &StatsReport{
		GeneratedAt: time.Now(),
		Window:      w,
	}

	var err error
	if report.TopAlbums, err = engine.TopAlbums(ctx, w, nb); err != nil {
		return nil, fmt.Errorf("top albums: %w", err)
	}
	if report.TopArtists, err = engine.TopArtists(ctx, w, nb); err != nil {
		return nil, fmt.Errorf("top artists: %w", err)
	}
	if report.TopTracks, err = engine.TopTracks(ctx, w, nb); err != nil {
		return nil, fmt.Errorf("top tracks: %w", err)
	}

	listens, err := db.Listens(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("count listens: %w", err)
	}
	report.TotalListens = len(listens)

	if report.ImportRuns, err = db.RecentImportRuns(ctx, 10); err != nil {
		return nil, fmt.Errorf("import runs: %w", err)
	}

	return report, nil
}

// FormatListeningTime renders seconds as "3h 25m", "12m 5s" or "40s"
func FormatListeningTime(seconds int) string {
	d := time.Duration(seconds) * time.Second
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh %02dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), seconds%60)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// WriteMarkdownReport writes the stats report as Markdown
func WriteMarkdownReport(report *StatsReport, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := os.WriteFile(outputPath, []byte(RenderMarkdown(report)), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}

// RenderMarkdown renders the stats report as Markdown
func RenderMarkdown(report *StatsReport) string {
	var md strings.Builder

	md.WriteString("# Listening Stats Report\n\n")
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))
	md.WriteString(fmt.Sprintf("**Period:** %s\n\n", report.Window))

	if report.DatabasePath != "" {
		md.WriteString(fmt.Sprintf("**Database:** `%s`\n\n", report.DatabasePath))
	}
	if report.EventLogPath != "" {
		md.WriteString(fmt.Sprintf("**Event Log:** `%s`\n\n", report.EventLogPath))
	}

	md.WriteString("---\n\n")

	md.WriteString("## 📊 Overview\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	md.WriteString(fmt.Sprintf("| Listens | %s |\n", humanize.Comma(int64(report.TotalListens))))
	md.WriteString(fmt.Sprintf("| Distinct Artists (top) | %d |\n", len(report.TopArtists)))
	md.WriteString("\n")

	if len(report.TopArtists) > 0 {
		md.WriteString("## 🎤 Top Artists\n\n")
		md.WriteString("| # | Artist | Streams | Listening Time |\n")
		md.WriteString("|---|--------|---------|----------------|\n")
		for i, a := range report.TopArtists {
			md.WriteString(fmt.Sprintf("| %d | %s | %s | %s |\n",
				i+1, escapeCell(a.Name), humanize.Comma(int64(a.StreamCount)), FormatListeningTime(a.ListeningTimeSeconds)))
		}
		md.WriteString("\n")
	}

	if len(report.TopAlbums) > 0 {
		md.WriteString("## 💿 Top Albums\n\n")
		md.WriteString("| # | Album | Artist | Streams | Listening Time |\n")
		md.WriteString("|---|-------|--------|---------|----------------|\n")
		for i, a := range report.TopAlbums {
			md.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s |\n",
				i+1, escapeCell(a.Title), escapeCell(a.Artist), humanize.Comma(int64(a.StreamCount)), FormatListeningTime(a.ListeningTimeSeconds)))
		}
		md.WriteString("\n")
	}

	if len(report.TopTracks) > 0 {
		md.WriteString("## 🎵 Top Tracks\n\n")
		md.WriteString("| # | Track | Artist | Streams | Last Played |\n")
		md.WriteString("|---|-------|--------|---------|-------------|\n")
		for i, tr := range report.TopTracks {
			md.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s |\n",
				i+1, escapeCell(tr.Title), escapeCell(tr.Artist), humanize.Comma(int64(tr.StreamCount)), tr.LastListening.Format("2006-01-02 15:04")))
		}
		md.WriteString("\n")
	}

	if len(report.ImportRuns) > 0 {
		md.WriteString("## 📥 Recent Imports\n\n")
		md.WriteString("| Completed | Source | Rows | Imported | Skipped |\n")
		md.WriteString("|-----------|--------|------|----------|---------|\n")
		for _, run := range report.ImportRuns {
			md.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %d |\n",
				humanize.RelTime(run.CompletedAt, report.GeneratedAt, "ago", "from now"),
				escapeCell(run.Source), run.TotalRows, run.Imported, run.Skipped))
		}
		md.WriteString("\n")
	}

	md.WriteString("---\n\n")
	md.WriteString("*Generated by lstats*\n")

	return md.String()
}

// escapeCell keeps pipes inside names from breaking the table
func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
