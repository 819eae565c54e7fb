package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/roundsync/internal/formatter"
	"github.com/desertthunder/roundsync/internal/models"
	"github.com/desertthunder/roundsync/internal/shared"
	"github.com/desertthunder/roundsync/internal/tasks"
)

// MatchOne resolves one song given on the command line.
func (r *Runner) MatchOne(ctx context.Context, cmd *cli.Command) error {
	song, err := songFromFlags(cmd)
	if err != nil {
		return err
	}
	p, err := models.ParsePlatform(cmd.String("platform"))
	if err != nil {
		return err
	}

	if err := r.open(ctx); err != nil {
		return err
	}

	r.logger.Info("matching song", "title", song.Title, "artist", song.Artist, "platform", p)
	result, err := r.engine.MatchOne(ctx, song, p)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(result, true)
	}
	return r.writePlain("%s\n", formatter.RenderMatchResult(result, r.palette))
}

// MatchBulk resolves a JSON array of songs and writes a report.
func (r *Runner) MatchBulk(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	songs, err := readSongs(cmd.String("file"), os.Stdin)
	if err != nil {
		return err
	}

	opts := tasks.BulkMatchOpts{Limit: int(cmd.Int("limit"))}
	for _, name := range cmd.StringSlice("platform") {
		p, err := models.ParsePlatform(name)
		if err != nil {
			return err
		}
		opts.TargetPlatforms = append(opts.TargetPlatforms, p)
	}
	if cmd.Bool("ignore-duration") {
		respect := false
		opts.RespectDurationHint = &respect
	}

	if err := r.open(ctx); err != nil {
		return err
	}

	var prog chan<- tasks.ProgressUpdate
	stop := func() {}
	// only the table view shares stdout with progress lines
	if format == formatter.FormatTable && cmd.String("output") == "" {
		prog, stop = r.progress()
	}
	report, err := r.engine.BulkMatch(ctx, prog, songs, opts)
	stop()
	if err != nil {
		return err
	}

	out := r.output
	palette := r.palette
	if path := cmd.String("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer f.Close()
		out, palette = f, formatter.PlainPalette()
	}

	if err := formatter.WriteBulkReport(out, report, format, palette); err != nil {
		return err
	}

	r.logger.Info("bulk match complete",
		"songs", report.Overall.TotalSongs,
		"matched", len(report.Overall.SuccessfulMatches),
		"high_confidence", len(report.Overall.HighConfidenceMatches),
	)
	return nil
}

func songFromFlags(cmd *cli.Command) (models.CanonicalSong, error) {
	song := models.CanonicalSong{
		Title:  cmd.String("title"),
		Artist: cmd.String("artist"),
		Album:  cmd.String("album"),
	}
	if d := cmd.String("duration"); d != "" {
		ms, err := parseDurationMs(d)
		if err != nil {
			return song, err
		}
		song.DurationMs = ms
	}
	return song, song.Validate()
}

// parseDurationMs accepts "m:ss" or anything [time.ParseDuration] does.
func parseDurationMs(s string) (int, error) {
	if mins, secs, ok := strings.Cut(s, ":"); ok {
		m, err1 := strconv.Atoi(mins)
		sec, err2 := strconv.Atoi(secs)
		if err1 != nil || err2 != nil || m < 0 || sec < 0 || sec >= 60 {
			return 0, fmt.Errorf("%w: duration %q", shared.ErrInvalidArgument, s)
		}
		return (m*60 + sec) * 1000, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: duration %q", shared.ErrInvalidArgument, s)
	}
	return int(d.Milliseconds()), nil
}

// readSongs decodes a JSON array of songs from path, or from stdin when path is "-".
func readSongs(path string, stdin io.Reader) ([]models.CanonicalSong, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read songs: %w", err)
	}

	var songs []models.CanonicalSong
	if err := json.Unmarshal(data, &songs); err != nil {
		return nil, fmt.Errorf("%w: songs file must be a JSON array: %v", shared.ErrInvalidInput, err)
	}
	return songs, nil
}
