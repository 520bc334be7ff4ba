package main

import (
	"context"
	"fmt"

	"github.com/franz/listen-stats/internal/stats"
	"github.com/spf13/cobra"
)

var topCmd = &cobra.Command{
	Use:   "top <albums|artists|tracks>",
	Short: "Rank albums, artists or tracks by play count",
	Long: `Rank what you listened to most. Ties on play count are broken
alphabetically. Artists and albums are credited to the primary artist of a
collaboration. --nb outside 1-100 falls back to 10.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"albums", "artists", "tracks"},
	RunE:      runTop,
}

func init() {
	rootCmd.AddCommand(topCmd)

	windowFlags(topCmd)
	jsonFlag(topCmd)
	topCmd.Flags().IntP("nb", "n", stats.DefaultLimit, "Number of entries (1-100)")
}

func runTop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	w, err := windowFromFlags(cmd)
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

	engine := stats.New(db)

	switch args[0] {
	case "albums":
		albums, err := engine.TopAlbums(ctx, w, nb)
		if err != nil {
			return err
		}
		if wantJSON(cmd) {
			return printJSON(albums)
		}
		width := cellWidth(2)
		tw := newTable()
		fmt.Fprintln(tw, "#\tALBUM\tARTIST\tPLAYS\tTIME")
		for i, a := range albums {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", i+1, truncate(a.Title, width), truncate(a.Artist, width),
				a.StreamCount, listeningTime(a.ListeningTimeSeconds))
		}
		return tw.Flush()

	case "artists":
		artists, err := engine.TopArtists(ctx, w, nb)
		if err != nil {
			return err
		}
		if wantJSON(cmd) {
			return printJSON(artists)
		}
		width := cellWidth(1)
		tw := newTable()
		fmt.Fprintln(tw, "#\tARTIST\tPLAYS\tTIME")
		for i, a := range artists {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", i+1, truncate(a.Name, width), a.StreamCount,
				listeningTime(a.ListeningTimeSeconds))
		}
		return tw.Flush()

	case "tracks":
		tracks, err := engine.TopTracks(ctx, w, nb)
		if err != nil {
			return err
		}
		if wantJSON(cmd) {
			return printJSON(tracks)
		}
		width := cellWidth(3)
		tw := newTable()
		fmt.Fprintln(tw, "#\tTRACK\tARTIST\tALBUM\tPLAYS\tLAST PLAYED")
		for i, t := range tracks {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n", i+1, truncate(t.Title, width), truncate(t.Artist, width),
				truncate(t.Album, width), t.StreamCount, formatTime(t.LastListening))
		}
		return tw.Flush()
	}

	return fmt.Errorf("unknown ranking %q (use albums, artists or tracks)", args[0])
}
