// Package media classifies downloaded files by name: movie or show episode,
// and for season packs the series title and season number.
package media

import (
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
)

// Type is the library a file belongs to.
type Type string

const (
	TypeMovie Type = "movie"
	TypeShow  Type = "show"
)

// Info describes where a single downloaded file belongs.
type Info struct {
	Type   Type
	Title  string
	Season string // two digits, set for shows only
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (i Info) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", string(i.Type)),
		slog.String("title", i.Title),
		slog.String("season", i.Season),
	)
}

// SeasonInfo is the placement of a season pack archive.
type SeasonInfo struct {
	SeriesTitle  string
	SeasonNumber string
}

var (
	episodeMarker    = regexp.MustCompile(`[sS]([0-9]{1,2})[eE][0-9]{1,2}`)
	trailingNonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]+$`)
	trailingSeps     = regexp.MustCompile(`[.\s_-]+$`)
	sepRuns          = regexp.MustCompile(`[.\s_-]+`)
	seasonKeyword    = regexp.MustCompile(`(?i)complete|integrale|full|season`)
	seasonKeywordPre = regexp.MustCompile(`(?i)^(.+?)[.\s_-]*(?:complete|integrale|full|season)`)
)

// seasonPatterns are tried in order; the first match wins.
// The SNN pattern requires the whole number to be followed by something other than
// a digit or an episode marker, so "S02E05" never reads as season "0".
var seasonPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(.+?)[.\s_-]*season[.\s_-]*([0-9]{1,2})`),
	regexp.MustCompile(`(?i)^(.+?)[.\s_-]*saison[.\s_-]*([0-9]{1,2})`),
	regexp.MustCompile(`^(.+?)[.\s_-]*[sS]([0-9]{1,2})(?:[^0-9eE]|$)`),
	regexp.MustCompile(`(?i)^(.+?)[.\s_-]*s([0-9]{1,2})[.\s_-]*complete`),
	regexp.MustCompile(`(?i)^(.+?)[.\s_-]*s([0-9]{1,2})[.\s_-]*integrale`),
}

// archiveSuffixes are compound extensions that name a single archive format.
var archiveSuffixes = []string{".tar.xz", ".tar.gz", ".tar.bz2"}

// StripExt removes the last extension: "a.b.mkv" => "a.b".
func StripExt(fileName string) string {
	return strings.TrimSuffix(fileName, filepath.Ext(fileName))
}

// StripArchiveExt removes a compound archive extension, case-insensitively,
// and falls back to StripExt: "a.tar.xz" => "a", "a.zip" => "a".
func StripArchiveExt(fileName string) string {
	lower := strings.ToLower(fileName)

	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return fileName[:len(fileName)-len(suffix)]
		}
	}

	return StripExt(fileName)
}

// DetectMediaType looks for an SxxEyy marker anywhere in fileName.
// Example: "Foo.S02E05.mkv" => {show, "Foo", "02"}, "Movie.Title.mkv" => {movie, "Movie.Title"}.
func DetectMediaType(fileName string) Info {
	loc := episodeMarker.FindStringSubmatchIndex(fileName)
	if loc != nil {
		title := trailingNonAlnum.ReplaceAllString(fileName[:loc[0]], "")

		return Info{
			Type:   TypeShow,
			Title:  strings.TrimSpace(title),
			Season: padSeason(fileName[loc[2]:loc[3]]),
		}
	}

	title := trailingNonAlnum.ReplaceAllString(StripExt(fileName), "")

	return Info{
		Type:  TypeMovie,
		Title: strings.TrimSpace(title),
	}
}

// ParseSeasonInfo extracts series title and season from an archive name.
// It returns false when the name carries no season hint.
func ParseSeasonInfo(fileName string) (SeasonInfo, bool) {
	base := StripArchiveExt(fileName)

	for _, pattern := range seasonPatterns {
		match := pattern.FindStringSubmatch(base)
		if match == nil {
			continue
		}

		return SeasonInfo{
			SeriesTitle:  normalizeTitle(match[1]),
			SeasonNumber: padSeason(match[2]),
		}, true
	}

	if !seasonKeyword.MatchString(base) {
		return SeasonInfo{}, false
	}

	match := seasonKeywordPre.FindStringSubmatch(base)
	if match == nil {
		return SeasonInfo{}, false
	}

	return SeasonInfo{
		SeriesTitle:  normalizeTitle(match[1]),
		SeasonNumber: "01",
	}, true
}

func normalizeTitle(s string) string {
	s = trailingSeps.ReplaceAllString(s, "")

	return strings.TrimSpace(sepRuns.ReplaceAllString(s, "."))
}

func padSeason(digits string) string {
	if len(digits) < 2 {
		return strings.Repeat("0", 2-len(digits)) + digits
	}

	return digits
}
