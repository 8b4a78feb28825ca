// package formatter renders pipeline results for terminal output and exports
// missing-track reports to CSV.
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mkdw/soulsync/internal/library"
	"github.com/mkdw/soulsync/internal/models"
	"github.com/mkdw/soulsync/internal/shared"
	"github.com/mkdw/soulsync/internal/tasks"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	missingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

// RenderPlaylists renders the playlist table with per-playlist sync status.
func RenderPlaylists(playlists []models.Playlist, statuses map[string]models.SyncState) string {
	if len(playlists) == 0 {
		return dimStyle.Render("No playlists found.") + "\n"
	}

	var buf bytes.Buffer
	buf.WriteString(headerStyle.Render(fmt.Sprintf("%-24s %-8s %-12s %s", "NAME", "TRACKS", "STATUS", "ID")))
	buf.WriteByte('\n')
	for _, p := range playlists {
		status := models.SyncNever
		if statuses != nil {
			status = statuses[p.ID]
		}
		buf.WriteString(fmt.Sprintf("%-24s %-8d %-12s %s\n",
			truncate(p.Name, 24), len(p.Tracks), syncStateLabel(status), dimStyle.Render(p.ID)))
	}
	return buf.String()
}

func syncStateLabel(s models.SyncState) string {
	switch s {
	case models.SyncFresh:
		return okStyle.Render("synced")
	case models.SyncStale:
		return warnStyle.Render("needs sync")
	default:
		return dimStyle.Render("never")
	}
}

// RenderAnalysis renders the per-track analysis results in playlist order,
// followed by a found/missing tally.
func RenderAnalysis(results []library.TrackAnalysis) string {
	var buf bytes.Buffer
	found := 0
	for i, r := range results {
		mark := missingStyle.Render("missing")
		detail := ""
		if r.InLibrary {
			found++
			mark = okStyle.Render("in library")
			detail = dimStyle.Render(fmt.Sprintf(" (%.2f via %s)", r.Confidence, r.Match.ServerSource))
		}
		buf.WriteString(fmt.Sprintf("%3d. %s - %s  [%s]%s\n",
			i+1, r.Track.PrimaryArtist(), r.Track.Title, mark, detail))
	}
	buf.WriteString(fmt.Sprintf("\n%d of %d tracks in library, %d missing\n",
		found, len(results), len(results)-found))
	return buf.String()
}

// RenderCandidate renders one scored search candidate on a single line.
func RenderCandidate(c models.Candidate) string {
	size := humanize.Bytes(uint64(c.SizeBytes))
	line := fmt.Sprintf("%.2f  %-5s %9s  %s  %s",
		c.Confidence, c.Quality, size, c.Username, c.BaseName())
	if c.VersionPenalty > 0 {
		line += warnStyle.Render(fmt.Sprintf("  (%s, -%.2f)", c.VersionType, c.VersionPenalty))
	}
	return line
}

// RenderRunSummary renders the terminal accounting of an acquisition run.
func RenderRunSummary(s tasks.RunSummary) string {
	var buf bytes.Buffer
	buf.WriteString(headerStyle.Render("Acquisition summary"))
	buf.WriteByte('\n')
	buf.WriteString(fmt.Sprintf("  %s  %d of %d\n", okStyle.Render("completed"), s.Completed, s.Total))
	if s.Failed > 0 {
		buf.WriteString(fmt.Sprintf("  %s     %d (added to wishlist)\n", failStyle.Render("failed"), s.Failed))
	}
	if s.Cancelled > 0 {
		buf.WriteString(fmt.Sprintf("  %s  %d\n", dimStyle.Render("cancelled"), s.Cancelled))
	}
	buf.WriteString(dimStyle.Render(fmt.Sprintf("  elapsed    %s", s.Elapsed.Round(time.Second))))
	buf.WriteByte('\n')
	return buf.String()
}

// RenderWishlist renders the wishlist, most recent first.
func RenderWishlist(entries []models.WishlistEntry) string {
	if len(entries) == 0 {
		return dimStyle.Render("Wishlist is empty.") + "\n"
	}

	var buf bytes.Buffer
	buf.WriteString(headerStyle.Render(fmt.Sprintf("%d wishlisted track(s)", len(entries))))
	buf.WriteByte('\n')
	for _, e := range entries {
		added := humanize.Time(e.SourceContext.AddedAt)
		buf.WriteString(fmt.Sprintf("  %s - %s\n", e.Track.PrimaryArtist(), e.Track.Title))
		buf.WriteString(dimStyle.Render(fmt.Sprintf("    from %s %q, added %s, %d retries",
			e.SourceType, e.SourceContext.Name, added, e.RetryCount)))
		buf.WriteByte('\n')
	}
	return buf.String()
}

// ExportMissingCSV writes the missing tracks of an analysis to a CSV file with
// columns: Position, Title, Artist, Album, Duration.
func ExportMissingCSV(results []library.TrackAnalysis, path string) error {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write([]string{"Position", "Title", "Artist", "Album", "Duration"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range results {
		if r.InLibrary {
			continue
		}
		record := []string{
			strconv.Itoa(r.Index + 1),
			r.Track.Title,
			strings.Join(r.Track.Artists, "; "),
			r.Track.Album,
			shared.FormatDuration(r.Track.DurationMS),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write CSV file: %w", err)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 1 {
		return s[:max]
	}
	return s[:max-1] + "…"
}
