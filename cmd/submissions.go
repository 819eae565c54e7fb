package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/roundsync/internal/formatter"
	"github.com/desertthunder/roundsync/internal/models"
	"github.com/desertthunder/roundsync/internal/shared"
)

func parseStatus(name string) (models.SubmissionStatus, error) {
	switch s := models.SubmissionStatus(strings.ToLower(strings.TrimSpace(name))); s {
	case models.Pending, models.Accepted, models.Rejected:
		return s, nil
	default:
		return "", fmt.Errorf("%w: status must be pending, accepted or rejected, got %q", shared.ErrInvalidArgument, name)
	}
}

// SubmissionsAdd records a song for a group.
func (r *Runner) SubmissionsAdd(ctx context.Context, cmd *cli.Command) error {
	song, err := songFromFlags(cmd)
	if err != nil {
		return err
	}
	status, err := parseStatus(cmd.String("status"))
	if err != nil {
		return err
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	sub := &models.Submission{CanonicalSong: song, GroupID: cmd.String("group"), Status: status}
	if err := r.submissions.Create(ctx, sub); err != nil {
		return fmt.Errorf("failed to add submission: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(sub, true)
	}
	return r.writePlain("%s Added %s by %s (%s, %s)\n", r.palette.OK("✓"), sub.Title, sub.Artist, sub.ID, sub.Status)
}

// SubmissionsList shows a group's submissions, optionally filtered by status.
func (r *Runner) SubmissionsList(ctx context.Context, cmd *cli.Command) error {
	var status models.SubmissionStatus
	if name := cmd.String("status"); name != "" {
		var err error
		if status, err = parseStatus(name); err != nil {
			return err
		}
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	subs, err := r.submissions.List(ctx, cmd.String("group"), status)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		if subs == nil {
			subs = []*models.Submission{}
		}
		return r.writeJSON(subs, true)
	}
	return r.writePlain("%s\n", formatter.RenderSubmissions(subs, r.palette))
}

// SubmissionsAccept marks a submission accepted so the next sync picks it up.
func (r *Runner) SubmissionsAccept(ctx context.Context, cmd *cli.Command) error {
	return r.setStatus(ctx, cmd.StringArg("id"), models.Accepted)
}

// SubmissionsReject marks a submission rejected.
func (r *Runner) SubmissionsReject(ctx context.Context, cmd *cli.Command) error {
	return r.setStatus(ctx, cmd.StringArg("id"), models.Rejected)
}

func (r *Runner) setStatus(ctx context.Context, id string, status models.SubmissionStatus) error {
	if id == "" {
		return fmt.Errorf("%w: submission id", shared.ErrMissingArgument)
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	if err := r.submissions.SetStatus(ctx, id, status); err != nil {
		return err
	}
	return r.writePlain("%s %s is now %s\n", r.palette.OK("✓"), id, status)
}
