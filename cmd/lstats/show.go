package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/franz/listen-stats/internal/ingest"
	"github.com/franz/listen-stats/internal/stats"
	"github.com/franz/listen-stats/internal/store"
	"github.com/franz/listen-stats/internal/util"
	"github.com/spf13/cobra"
)

var albumCmd = &cobra.Command{
	Use:   "album <title> <artist>",
	Short: "Show one album with its per-track play counts",
	Long: `Show every listen of one album. The title matches case-insensitively and
the artist may be the primary or a featured artist. A single "title|artist"
argument is accepted as well.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runAlbum,
}

var artistCmd = &cobra.Command{
	Use:   "artist <name>",
	Short: "Show one artist with its per-track play counts",
	Long: `Show every listen crediting an artist, including tracks where the
artist is only featured.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runArtist,
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the latest listens with their all-time play counts",
	RunE:  runRecent,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find artists and albums by name",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	rootCmd.AddCommand(albumCmd, artistCmd, recentCmd, searchCmd)

	windowFlags(albumCmd)
	jsonFlag(albumCmd)

	windowFlags(artistCmd)
	jsonFlag(artistCmd)

	jsonFlag(recentCmd)
	recentCmd.Flags().IntP("limit", "n", 20, "Number of listens (max 1000)")
	recentCmd.Flags().Bool("sync", false, "Pull new Last.fm plays first; falls back to local data on failure")

	jsonFlag(searchCmd)
	searchCmd.Flags().IntP("nb", "n", stats.DefaultLimit, "Suggestions per kind (1-100)")
}

func runAlbum(cmd *cobra.Command, args []string) error {
	var title, artist string
	if len(args) == 2 {
		title, artist = args[0], args[1]
	} else {
		var err error
		if title, artist, err = stats.ParseAlbumIdentifier(args[0]); err != nil {
			return err
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	w, err := windowFromFlags(cmd)
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.QueryTimeout)
	defer cancel()

	detail, err := stats.New(db).AlbumDetail(ctx, title, artist, w)
	if err != nil {
		return err
	}
	if wantJSON(cmd) {
		return printJSON(detail)
	}

	util.InfoLog("%s by %s", detail.Title, detail.Artist)
	util.InfoLog("  Plays: %d, listening time: %s", detail.StreamCount, listeningTime(detail.TotalDurationSeconds))
	util.InfoLog("  First: %s, last: %s", formatTime(detail.FirstListening), formatTime(detail.LastListening))
	util.InfoLog("")
	return printBreakdown(detail.Tracks)
}

func runArtist(cmd *cobra.Command, args []string) error {
	name := strings.Join(args, " ")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	w, err := windowFromFlags(cmd)
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.QueryTimeout)
	defer cancel()

	detail, err := stats.New(db).ArtistDetail(ctx, name, w)
	if err != nil {
		return err
	}
	if wantJSON(cmd) {
		return printJSON(detail)
	}

	util.InfoLog("%s", detail.Name)
	util.InfoLog("  Plays: %d, listening time: %s", detail.StreamCount, listeningTime(detail.TotalDurationSeconds))
	util.InfoLog("  First: %s, last: %s", formatTime(detail.FirstListening), formatTime(detail.LastListening))
	util.InfoLog("")
	return printBreakdown(detail.Tracks)
}

func printBreakdown(tracks []stats.TrackBreakdown) error {
	width := cellWidth(1)
	tw := newTable()
	fmt.Fprintln(tw, "TRACK\tPLAYS\tTIME\tLAST PLAYED")
	for _, t := range tracks {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", truncate(t.Title, width), t.StreamCount,
			listeningTime(t.ListeningTimeSeconds), formatTime(t.LastListening))
	}
	return tw.Flush()
}

func runRecent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	doSync, _ := cmd.Flags().GetBool("sync")

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if doSync {
		syncBeforeRead(cfg, db)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.QueryTimeout)
	defer cancel()

	listens, err := stats.New(db).RecentWithCounts(ctx, limit)
	if err != nil {
		return err
	}
	if wantJSON(cmd) {
		return printJSON(listens)
	}

	width := cellWidth(3)
	tw := newTable()
	fmt.Fprintln(tw, "PLAYED\tTRACK\tARTIST\tALBUM\tPLAYS")
	for _, l := range listens {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", formatTime(l.PlayedAt), truncate(l.Track, width),
			truncate(l.Artist, width), truncate(l.Album, width), l.PlayCount)
	}
	return tw.Flush()
}

// syncBeforeRead pulls new Last.fm plays. Any failure is a warning: the
// command still answers from local data.
func syncBeforeRead(cfg *util.Config, db *store.Store) {
	client, err := newLastFMClient(cfg)
	if err != nil {
		util.WarnLog("Skipping sync: %v", err)
		return
	}
	defer client.Close()

	logger := openEventLogger(cfg)
	defer logger.Close()

	started := time.Now()
	res, err := ingest.New(ingest.Config{Store: db, Logger: logger}).Sync(context.Background(), client, cfg.ChunkSize)
	if err != nil {
		util.WarnLog("Sync failed, showing local data: %v", err)
		return
	}
	recordImportRun(db, client.Name(), started, res.Import)
	if res.Fetched > 0 {
		util.InfoLog("Synced %d new plays from %s", res.Import.Imported, client.Name())
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	nb, _ := cmd.Flags().GetInt("nb")

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.QueryTimeout)
	defer cancel()

	s, err := stats.New(db).Search(ctx, query, nb)
	if err != nil {
		return err
	}
	if wantJSON(cmd) {
		return printJSON(s)
	}

	if len(s.Artists) == 0 && len(s.Albums) == 0 {
		util.InfoLog("No matches for %q", query)
		return nil
	}

	tw := newTable()
	fmt.Fprintln(tw, "KIND\tNAME\tPLAYS\tIDENTIFIER")
	for _, a := range s.Artists {
		fmt.Fprintf(tw, "artist\t%s\t%d\t\n", a.Name, a.Plays)
	}
	for _, a := range s.Albums {
		fmt.Fprintf(tw, "album\t%s - %s\t%d\t%s\n", a.Title, a.Artist, a.Plays, a.Identifier)
	}
	return tw.Flush()
}
