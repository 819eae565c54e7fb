package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/roundsync/internal/formatter"
	"github.com/desertthunder/roundsync/internal/models"
)

// PlaylistSync brings the group's playlist on one platform up to date.
func (r *Runner) PlaylistSync(ctx context.Context, cmd *cli.Command) error {
	groupID := cmd.String("group")
	p, err := models.ParsePlatform(cmd.String("platform"))
	if err != nil {
		return err
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	r.logger.Info("starting sync", "group", groupID, "platform", p)

	useJSON := cmd.Bool("json")
	prog, stop := r.progress()
	if useJSON {
		prog, stop = nil, func() {}
	}
	result, err := r.engine.SyncPlaylist(ctx, prog, groupID, p)
	stop()
	if err != nil {
		return err
	}

	if useJSON {
		return r.writeJSON(result, true)
	}
	return r.writePlain("\n%s\n", formatter.RenderSyncResult(result, r.palette))
}

// PlaylistRename renames the group's playlist on the platform and locally.
func (r *Runner) PlaylistRename(ctx context.Context, cmd *cli.Command) error {
	groupID := cmd.String("group")
	p, err := models.ParsePlatform(cmd.String("platform"))
	if err != nil {
		return err
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	pl, err := r.engine.RenamePlaylist(ctx, nil, groupID, p, cmd.String("name"))
	if err != nil {
		return err
	}
	return r.writePlain("%s Renamed %s playlist to %q\n", r.palette.OK("✓"), p, pl.Name)
}

// PlaylistShow lists every playlist the group has, active or not.
func (r *Runner) PlaylistShow(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	pls, err := r.engine.Playlists(ctx, cmd.String("group"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		if pls == nil {
			pls = []*models.GroupPlaylist{}
		}
		return r.writeJSON(pls, true)
	}
	return r.writePlain("%s\n", formatter.RenderPlaylists(pls, r.palette))
}

// PlaylistDeactivate marks the group's playlist inactive.
func (r *Runner) PlaylistDeactivate(ctx context.Context, cmd *cli.Command) error {
	groupID := cmd.String("group")
	p, err := models.ParsePlatform(cmd.String("platform"))
	if err != nil {
		return err
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	if err := r.engine.DeactivatePlaylist(ctx, groupID, p); err != nil {
		return fmt.Errorf("failed to deactivate playlist: %w", err)
	}
	return r.writePlain("%s Deactivated %s playlist for %s\n", r.palette.OK("✓"), p, groupID)
}
