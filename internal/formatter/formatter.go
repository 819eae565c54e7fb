// package formatter renders match reports, sync results and playlists as tables, JSON or CSV
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/roundsync/internal/models"
	"github.com/desertthunder/roundsync/internal/shared"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Output formats accepted by [WriteBulkReport].
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatCSV   = "csv"
)

// ParseFormat validates an output format name, defaulting to table.
func ParseFormat(name string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(name)); f {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q (want table, json or csv)", shared.ErrInvalidArgument, name)
	}
}

// WriteBulkReport writes report to w in format.
func WriteBulkReport(w io.Writer, report *models.BulkMatchReport, format string, p *Palette) error {
	format, err := ParseFormat(format)
	if err != nil {
		return err
	}

	var data []byte
	switch format {
	case FormatJSON:
		data, err = shared.MarshalJSON(report, true)
	case FormatCSV:
		data, err = BulkReportToCSV(report)
	default:
		data = []byte(RenderBulkReport(report, p))
	}
	if err != nil {
		return err
	}

	_, err = w.Write(append(data, '\n'))
	return err
}

// BulkReportToCSV flattens a report to one row per (song, platform) with columns:
// Song ID, Title, Artist, Platform, Track ID, Confidence, Status
func BulkReportToCSV(report *models.BulkMatchReport) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Song ID", "Title", "Artist", "Platform", "Track ID", "Confidence", "Status"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, sm := range report.Songs {
		for _, p := range resultPlatforms(sm) {
			r := sm.Results[p]
			record := []string{
				sm.Song.ID,
				sm.Song.Title,
				sm.Song.Artist,
				string(p),
				bestTrackID(r),
				strconv.FormatFloat(r.Confidence, 'f', 3, 64),
				status(r),
			}
			if err := writer.Write(record); err != nil {
				return nil, fmt.Errorf("failed to write CSV record: %w", err)
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// RenderBulkReport renders the per-song results followed by platform and overall statistics.
func RenderBulkReport(report *models.BulkMatchReport, p *Palette) string {
	p = orPlain(p)
	var b strings.Builder

	rows := make([][]string, 0, len(report.Songs))
	for i, sm := range report.Songs {
		for _, platform := range resultPlatforms(sm) {
			r := sm.Results[platform]
			rows = append(rows, []string{
				strconv.Itoa(i + 1),
				sm.Song.Artist + " - " + sm.Song.Title,
				string(platform),
				bestTrackID(r),
				fmt.Sprintf("%.2f", r.Confidence),
				styledStatus(r, p),
			})
		}
	}
	b.WriteString(p.Title("Matches"))
	b.WriteString("\n")
	b.WriteString(renderTable(
		[]string{"#", "Song", "Platform", "Track ID", "Confidence", "Status"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
	b.WriteString("\n\n")

	statsRows := make([][]string, 0, len(report.PlatformStats))
	for _, platform := range models.Platforms() {
		stats, ok := report.PlatformStats[platform]
		if !ok {
			continue
		}
		statsRows = append(statsRows, []string{
			string(platform),
			strconv.Itoa(stats.TotalMatches),
			strconv.Itoa(stats.SongsWithMatches),
			fmt.Sprintf("%.2f", stats.AverageMatchesPerSong),
			unresolvedSummary(stats.Unresolved),
		})
	}
	b.WriteString(p.Title("Platforms"))
	b.WriteString("\n")
	b.WriteString(renderTable(
		[]string{"Platform", "Matches", "Songs Matched", "Avg/Song", "Unresolved"},
		statsRows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
	))
	b.WriteString("\n\n")

	overall := report.Overall
	fmt.Fprintf(&b, "%s %d songs, %s matched, %d high confidence, average confidence %.2f",
		p.Title("Overall:"),
		overall.TotalSongs,
		p.OK(strconv.Itoa(len(overall.SuccessfulMatches))),
		len(overall.HighConfidenceMatches),
		overall.AverageConfidence,
	)
	return b.String()
}

// RenderMatchResult renders one resolution with its ranked candidates.
func RenderMatchResult(r *models.MatchResult, p *Palette) string {
	p = orPlain(p)
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s - %s on %s\n", p.Title("Match:"), r.Song.Artist, r.Song.Title, r.Platform)
	if r.Resolved() {
		fmt.Fprintf(&b, "%s %s (%.2f)\n", p.OK("Best match:"), r.BestMatch.NativeTrackID, r.Confidence)
	} else {
		fmt.Fprintf(&b, "%s %s\n", p.Warn("Unresolved:"), r.Unresolved)
	}

	if len(r.Candidates) == 0 {
		b.WriteString(p.Help("no candidates"))
		return b.String()
	}

	rows := make([][]string, len(r.Candidates))
	for i, c := range r.Candidates {
		rows[i] = []string{
			strconv.Itoa(c.Rank + 1),
			c.NativeTrackID,
			c.Title,
			c.Artist,
			c.Album,
			formatDuration(c.DurationMs),
			fmt.Sprintf("%.3f", c.Confidence),
		}
	}
	b.WriteString(renderTable(
		[]string{"Rank", "Track ID", "Title", "Artist", "Album", "Duration", "Confidence"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	))
	return b.String()
}

// RenderSyncResult summarizes a sync for the admin, listing songs that were not resolved.
func RenderSyncResult(res *models.SyncResult, p *Palette) string {
	p = orPlain(p)
	var b strings.Builder
	pl := res.Playlist

	verb := "Synced"
	if res.Created {
		verb = "Created"
	}
	fmt.Fprintf(&b, "%s %s on %s (ID: %s)\n", p.OK(verb), pl.Name, pl.Platform, pl.NativePlaylistID)
	fmt.Fprintf(&b, "Added %d tracks, %d total\n", len(res.Added), len(pl.TrackIDs))

	if len(res.Unresolved) == 0 {
		return strings.TrimRight(b.String(), "\n")
	}

	fmt.Fprintf(&b, "%s\n", p.Warn(fmt.Sprintf("%d songs could not be resolved:", len(res.Unresolved))))
	for _, r := range res.Unresolved {
		fmt.Fprintf(&b, "  %s - %s (%s)\n", r.Song.Artist, r.Song.Title, r.Unresolved)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderPlaylists renders a group's playlists.
func RenderPlaylists(playlists []*models.GroupPlaylist, p *Palette) string {
	p = orPlain(p)
	if len(playlists) == 0 {
		return p.Help("no playlists")
	}

	rows := make([][]string, len(playlists))
	for i, pl := range playlists {
		synced := "never"
		if pl.LastSyncedAt != nil {
			synced = pl.LastSyncedAt.Local().Format(time.DateTime)
		}
		active := "yes"
		if !pl.IsActive {
			active = "no"
		}
		state := string(pl.State)
		if pl.State == models.Failed {
			state = p.Err(state)
		}
		rows[i] = []string{string(pl.Platform), pl.Name, pl.NativePlaylistID, strconv.Itoa(len(pl.TrackIDs)), state, active, synced}
	}
	return renderTable(
		[]string{"Platform", "Name", "Playlist ID", "Tracks", "State", "Active", "Last Synced"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
	)
}

// RenderSubmissions renders a group's submissions with their resolved platform IDs.
func RenderSubmissions(submissions []*models.Submission, p *Palette) string {
	p = orPlain(p)
	if len(submissions) == 0 {
		return p.Help("no submissions")
	}

	rows := make([][]string, len(submissions))
	for i, s := range submissions {
		var ids []string
		for _, platform := range models.Platforms() {
			if id, ok := s.PlatformID(platform); ok {
				ids = append(ids, string(platform)+"="+id)
			}
		}
		rows[i] = []string{s.ID, s.Title, s.Artist, s.Album, formatDuration(s.DurationMs), string(s.Status), strings.Join(ids, " ")}
	}
	return renderTable(
		[]string{"ID", "Title", "Artist", "Album", "Duration", "Status", "Platform IDs"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// resultPlatforms lists the platforms present in sm in a stable order.
func resultPlatforms(sm models.SongMatch) []models.Platform {
	var out []models.Platform
	for _, p := range models.Platforms() {
		if _, ok := sm.Results[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

func bestTrackID(r *models.MatchResult) string {
	if r.Resolved() {
		return r.BestMatch.NativeTrackID
	}
	return ""
}

func status(r *models.MatchResult) string {
	switch {
	case r.PreResolved:
		return "pre_resolved"
	case r.Resolved():
		return "matched"
	default:
		return string(r.Unresolved)
	}
}

func styledStatus(r *models.MatchResult, p *Palette) string {
	s := status(r)
	switch r.Unresolved {
	case "":
		return p.OK(s)
	case models.NoMatch:
		return p.Warn(s)
	default:
		return p.Err(s)
	}
}

func unresolvedSummary(counts map[models.UnresolvedReason]int) string {
	reasons := []models.UnresolvedReason{models.NoMatch, models.RateLimited, models.PlatformUnavailable, models.AuthExpired, models.Cancelled}
	var parts []string
	for _, reason := range reasons {
		if n := counts[reason]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", reason, n))
		}
	}
	return strings.Join(parts, " ")
}

// formatDuration formats milliseconds as m:ss, empty when unknown.
func formatDuration(ms int) string {
	if ms <= 0 {
		return ""
	}
	secs := ms / 1000
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
