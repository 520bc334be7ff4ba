package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/franz/listen-stats/internal/meta"
	"github.com/franz/listen-stats/internal/store"
)

// keySep joins the parts of a composite grouping key
const keySep = "\x1f"

// Identity is what the Normalize stage derives from one listen: the grouping
// key plus the display values offered for that group
type Identity struct {
	Key    string
	Name   string
	Artist string
	Album  string
}

// Group accumulates every listen sharing one grouping key.
// Display fields hold the first-encountered values in scan order.
type Group struct {
	Key           string
	Name          string
	Artist        string
	Album         string
	StreamCount   int
	ListeningTime int // seconds
	FirstPlayed   time.Time
	LastPlayed    time.Time

	// Per-track breakdown, populated when grouping with PerTrack
	Tracks []*Group

	trackIndex map[string]*Group
}

func (g *Group) add(l *store.Listen) {
	g.StreamCount++
	g.ListeningTime += l.DurationSeconds
	if g.FirstPlayed.IsZero() || l.PlayedAt.Before(g.FirstPlayed) {
		g.FirstPlayed = l.PlayedAt
	}
	if l.PlayedAt.After(g.LastPlayed) {
		g.LastPlayed = l.PlayedAt
	}
}

func (g *Group) addTrack(l *store.Listen) {
	key := meta.Normalize(l.Track)
	t, ok := g.trackIndex[key]
	if !ok {
		t = &Group{Key: key, Name: strings.TrimSpace(l.Track), Artist: g.Artist, Album: strings.TrimSpace(l.Album)}
		g.trackIndex[key] = t
		g.Tracks = append(g.Tracks, t)
	}
	t.add(l)
}

// TrackCounts maps each track display name to its play count
func (g *Group) TrackCounts() map[string]int {
	if g.trackIndex == nil {
		return nil
	}
	counts := make(map[string]int, len(g.Tracks))
	for _, t := range g.Tracks {
		counts[t.Name] = t.StreamCount
	}
	return counts
}

// FilterStage keeps the listens for which Keep returns true
type FilterStage struct {
	Name string
	Keep func(*store.Listen) bool
}

// NormalizeStage maps a listen to its group identity; ok=false drops the listen
type NormalizeStage struct {
	Identify func(*store.Listen) (id Identity, ok bool)
}

// GroupByStage folds identities into groups
type GroupByStage struct {
	PerTrack bool // Also build a nested per-track breakdown
}

// SortStage orders groups; Less must be a strict total order
type SortStage struct {
	Name string
	Less func(a, b *Group) bool
}

// LimitStage truncates the sorted groups; N <= 0 keeps everything
type LimitStage struct {
	N int
}

// ProjectStage converts groups into result rows
type ProjectStage[T any] struct {
	Project func(*Group) T
}

// ByStreamCount sorts by play count descending, then by grouping key
// ascending so equal counts always come out in the same order
var ByStreamCount = SortStage{
	Name: "streamCount desc, key asc",
	Less: func(a, b *Group) bool {
		if a.StreamCount != b.StreamCount {
			return a.StreamCount > b.StreamCount
		}
		return a.Key < b.Key
	},
}

// Pipeline is a typed aggregation over listens:
// Filter* → Normalize → GroupBy → Sort → Limit, then Project
type Pipeline struct {
	filters   []FilterStage
	normalize NormalizeStage
	groupBy   GroupByStage
	sort      SortStage
	limit     LimitStage
}

// NewPipeline returns an empty pipeline sorting by stream count
func NewPipeline() *Pipeline {
	return &Pipeline{sort: ByStreamCount}
}

// Filter appends a filter stage
func (p *Pipeline) Filter(name string, keep func(*store.Listen) bool) *Pipeline {
	p.filters = append(p.filters, FilterStage{Name: name, Keep: keep})
	return p
}

// Window appends a filter keeping listens inside w (bounds inclusive)
func (p *Pipeline) Window(w store.Window) *Pipeline {
	if w.IsZero() {
		return p
	}
	return p.Filter("window "+w.String(), func(l *store.Listen) bool {
		return w.Contains(l.PlayedAt)
	})
}

// Normalize sets the identity stage
func (p *Pipeline) Normalize(identify func(*store.Listen) (Identity, bool)) *Pipeline {
	p.normalize = NormalizeStage{Identify: identify}
	return p
}

// GroupBy sets the grouping options
func (p *Pipeline) GroupBy(stage GroupByStage) *Pipeline {
	p.groupBy = stage
	return p
}

// Sort replaces the sort stage
func (p *Pipeline) Sort(stage SortStage) *Pipeline {
	p.sort = stage
	return p
}

// Limit sets the maximum number of groups returned
func (p *Pipeline) Limit(n int) *Pipeline {
	p.limit = LimitStage{N: n}
	return p
}

// String describes the stages, for debug logging
func (p *Pipeline) String() string {
	var stages []string
	for _, f := range p.filters {
		stages = append(stages, "filter("+f.Name+")")
	}
	stages = append(stages, "normalize")
	if p.groupBy.PerTrack {
		stages = append(stages, "group(per-track)")
	} else {
		stages = append(stages, "group")
	}
	stages = append(stages, "sort("+p.sort.Name+")")
	if p.limit.N > 0 {
		stages = append(stages, fmt.Sprintf("limit(%d)", p.limit.N))
	}
	return strings.Join(stages, " → ")
}

// Groups runs every stage except projection
func (p *Pipeline) Groups(listens []*store.Listen) []*Group {
	index := make(map[string]*Group)
	var groups []*Group

next:
	for _, l := range listens {
		if l == nil {
			continue
		}
		for _, f := range p.filters {
			if !f.Keep(l) {
				continue next
			}
		}

		id := Identity{Name: l.Track, Artist: l.Artist, Album: l.Album}
		if p.normalize.Identify != nil {
			var ok bool
			if id, ok = p.normalize.Identify(l); !ok {
				continue
			}
		}

		g, ok := index[id.Key]
		if !ok {
			g = &Group{Key: id.Key, Name: id.Name, Artist: id.Artist, Album: id.Album}
			if p.groupBy.PerTrack {
				g.trackIndex = make(map[string]*Group)
			}
			index[id.Key] = g
			groups = append(groups, g)
		}

		g.add(l)
		if p.groupBy.PerTrack {
			g.addTrack(l)
		}
	}

	if p.sort.Less != nil {
		sort.SliceStable(groups, func(i, j int) bool { return p.sort.Less(groups[i], groups[j]) })
		for _, g := range groups {
			if len(g.Tracks) > 1 {
				sort.SliceStable(g.Tracks, func(i, j int) bool { return p.sort.Less(g.Tracks[i], g.Tracks[j]) })
			}
		}
	}

	if p.limit.N > 0 && len(groups) > p.limit.N {
		groups = groups[:p.limit.N]
	}

	return groups
}

// Project converts groups into result rows
func Project[T any](groups []*Group, stage ProjectStage[T]) []T {
	out := make([]T, 0, len(groups))
	for _, g := range groups {
		out = append(out, stage.Project(g))
	}
	return out
}

// Run executes the pipeline and projects its groups
func Run[T any](p *Pipeline, listens []*store.Listen, project func(*Group) T) []T {
	return Project(p.Groups(listens), ProjectStage[T]{Project: project})
}

// compositeKey joins normalized key parts
func compositeKey(parts ...string) string {
	return strings.Join(parts, keySep)
}
