package matching

import (
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/desertthunder/roundsync/internal/models"
)

const (
	titleWeight  = 0.5
	artistWeight = 0.35
	albumWeight  = 0.15

	containmentBonus = 0.1

	durationWindowSeconds = 15.0
	durationFloor         = 0.85
)

// Scorer computes the confidence that a candidate is the same recording as a song.
//
// The zero value ignores durations and qualifiers; use [DefaultScorer] for the usual setup.
type Scorer struct {
	RespectDurationHint bool    // scale by duration proximity when both durations are known
	QualifierPenalty    float64 // in [0, 1); applied when title qualifiers differ
}

// DefaultScorer respects duration hints and ignores qualifier mismatches.
func DefaultScorer() Scorer {
	return Scorer{RespectDurationHint: true}
}

// Score returns a confidence in [0, 1]. It is deterministic and has no side effects.
func (s Scorer) Score(song models.CanonicalSong, c models.Candidate) float64 {
	return s.score(prepare(song), c)
}

// preparedSong caches the normalized fields of a song scored against many candidates.
type preparedSong struct {
	title, artist, album Normalized
	durationMs           int
}

func prepare(song models.CanonicalSong) preparedSong {
	return preparedSong{
		title:      Normalize(song.Title),
		artist:     Normalize(song.Artist),
		album:      Normalize(song.Album),
		durationMs: song.DurationMs,
	}
}

func (s Scorer) score(song preparedSong, c models.Candidate) float64 {
	title := Normalize(c.Title)
	artist := Normalize(c.Artist)
	album := Normalize(c.Album)

	titleSim := TokenSetSimilarity(song.title.Text, title.Text)
	artistSim := TokenSetSimilarity(song.artist.Text, artist.Text)

	var combined float64
	if song.album.Text != "" && album.Text != "" {
		albumSim := TokenSetSimilarity(song.album.Text, album.Text)
		combined = titleWeight*titleSim + artistWeight*artistSim + albumWeight*albumSim
	} else {
		total := titleWeight + artistWeight
		combined = (titleWeight/total)*titleSim + (artistWeight/total)*artistSim
	}

	if s.RespectDurationHint {
		combined *= DurationFactor(song.durationMs, c.DurationMs)
	}

	if s.QualifierPenalty > 0 && !sameQualifiers(song.title.Qualifiers, title.Qualifiers) {
		combined *= 1 - s.QualifierPenalty
	}

	return clamp(combined)
}

// TokenSetSimilarity is the Jaccard index of the word tokens of a and b, raised by
// up to 0.1 when one string appears whole-word inside the other. Inputs are
// expected to be normalized already.
func TokenSetSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	setA := tokenSet(a)
	setB := tokenSet(b)

	var inter int
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	sim := float64(inter) / float64(union)

	shorter, longer := a, b
	if utf8.RuneCountInString(shorter) > utf8.RuneCountInString(longer) {
		shorter, longer = longer, shorter
	}
	if strings.Contains(" "+longer+" ", " "+shorter+" ") {
		ratio := float64(utf8.RuneCountInString(shorter)) / float64(utf8.RuneCountInString(longer))
		sim += containmentBonus * ratio
	}

	return math.Min(sim, 1)
}

// DurationFactor scales a score by how close two durations are. It is 1 when either
// duration is unknown, falls linearly to 0.85 over a 15 second delta and stays there.
func DurationFactor(aMs, bMs int) float64 {
	if aMs <= 0 || bMs <= 0 {
		return 1
	}
	delta := math.Abs(float64(aMs-bMs)) / 1000
	if delta > durationWindowSeconds {
		return durationFloor
	}
	return 1 - (1-durationFloor)*delta/durationWindowSeconds
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func sameQualifiers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
