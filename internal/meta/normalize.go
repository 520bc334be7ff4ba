package meta

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// creditSeparators split a multi-artist credit such as "A, B & C"
const creditSeparators = ",&"

// Normalize returns the comparison form of a track, album or artist string:
// NFC composed, surrounding whitespace trimmed and Unicode case-folded.
// It is total: the empty string normalizes to itself.
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	s = strings.TrimSpace(norm.NFC.String(s))
	if s == "" {
		return ""
	}

	// A Caser keeps state between calls and is not safe to share across goroutines
	return cases.Fold().String(s)
}

// SplitCredits splits an artist field on ',' and '&', trims every segment
// and drops empty ones. The original order is kept.
func SplitCredits(artistField string) []string {
	parts := strings.FieldsFunc(artistField, func(r rune) bool {
		return strings.ContainsRune(creditSeparators, r)
	})

	credits := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			credits = append(credits, p)
		}
	}
	return credits
}

// PrimaryArtist returns the first credited artist of an artist field, or ""
func PrimaryArtist(artistField string) string {
	credits := SplitCredits(artistField)
	if len(credits) == 0 {
		return ""
	}
	return credits[0]
}

// FeaturedArtists returns every credit after the primary artist
func FeaturedArtists(artistField string) []string {
	credits := SplitCredits(artistField)
	if len(credits) < 2 {
		return nil
	}
	return credits[1:]
}

// CreditsContain reports whether target is credited in artistField, either as
// the primary artist or as a featured artist. Comparison is per segment, so
// "Art" never matches inside "Martian".
func CreditsContain(artistField, target string) bool {
	_, ok := MatchCredit(artistField, target)
	return ok
}

// MatchCredit returns the credit segment of artistField equal to target after
// normalization, with its original spelling.
func MatchCredit(artistField, target string) (string, bool) {
	want := Normalize(target)
	if want == "" {
		return "", false
	}

	for _, credit := range SplitCredits(artistField) {
		if Normalize(credit) == want {
			return credit, true
		}
	}
	return "", false
}

// PairKey builds the "normalizedArtist|normalizedTrack" key used to look up
// historical play counts
func PairKey(artist, track string) string {
	return Normalize(artist) + "|" + Normalize(track)
}
