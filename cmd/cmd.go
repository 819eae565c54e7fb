// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func groupFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "group",
		Aliases:  []string{"g"},
		Usage:    "Group ID",
		Required: true,
	}
}

func platformFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "platform",
		Aliases:  []string{"p"},
		Usage:    "Target platform (spotify or apple-music)",
		Required: true,
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "Output raw JSON",
	}
}

func songFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "title",
			Aliases:  []string{"t"},
			Usage:    "Song title",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "artist",
			Aliases:  []string{"a"},
			Usage:    "Song artist",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "album",
			Usage: "Album name",
		},
		&cli.StringFlag{
			Name:  "duration",
			Usage: "Song length as m:ss or a Go duration (e.g. 3:05 or 185s)",
		},
	}
}

// matchCommand resolves songs against platforms
func matchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "match",
		Usage: "Resolve songs to platform tracks",
		Commands: []*cli.Command{
			{
				Name:   "one",
				Usage:  "Resolve a single song on one platform",
				Flags:  append(songFlags(), platformFlag(), jsonFlag()),
				Action: r.MatchOne,
			},
			{
				Name:  "bulk",
				Usage: "Resolve a JSON list of songs on every configured platform",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "JSON file with an array of songs (- for stdin)",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:    "platform",
						Aliases: []string{"p"},
						Usage:   "Restrict to these platforms (repeatable)",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Candidates requested per search",
					},
					&cli.BoolFlag{
						Name:  "ignore-duration",
						Usage: "Do not scale confidence by duration proximity",
					},
					&cli.StringFlag{
						Name:  "format",
						Usage: "Report format: table, json or csv",
						Value: "table",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write the report to this file instead of stdout",
					},
				},
				Action: r.MatchBulk,
			},
		},
	}
}

// playlistCommand manages group playlists
func playlistCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "playlist",
		Aliases: []string{"pl"},
		Usage:   "Group playlist operations",
		Commands: []*cli.Command{
			{
				Name:   "sync",
				Usage:  "Add every accepted submission to the group's playlist",
				Flags:  []cli.Flag{groupFlag(), platformFlag(), jsonFlag()},
				Action: r.PlaylistSync,
			},
			{
				Name:  "rename",
				Usage: "Rename the group's playlist",
				Flags: []cli.Flag{
					groupFlag(),
					platformFlag(),
					&cli.StringFlag{
						Name:     "name",
						Aliases:  []string{"n"},
						Usage:    "New playlist name",
						Required: true,
					},
				},
				Action: r.PlaylistRename,
			},
			{
				Name:   "show",
				Usage:  "Show the group's playlists",
				Flags:  []cli.Flag{groupFlag(), jsonFlag()},
				Action: r.PlaylistShow,
			},
			{
				Name:   "deactivate",
				Usage:  "Stop syncing the group's playlist; the next sync creates a new one",
				Flags:  []cli.Flag{groupFlag(), platformFlag()},
				Action: r.PlaylistDeactivate,
			},
		},
	}
}

// submissionsCommand manages the submission catalog
func submissionsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "submissions",
		Aliases: []string{"sub"},
		Usage:   "Submission catalog operations",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Submit a song to a group",
				Flags: append(songFlags(),
					groupFlag(),
					&cli.StringFlag{
						Name:  "status",
						Usage: "Initial status: pending, accepted or rejected",
						Value: "accepted",
					},
					jsonFlag(),
				),
				Action: r.SubmissionsAdd,
			},
			{
				Name:  "list",
				Usage: "List a group's submissions",
				Flags: []cli.Flag{
					groupFlag(),
					&cli.StringFlag{
						Name:  "status",
						Usage: "Only show submissions with this status",
					},
					jsonFlag(),
				},
				Action: r.SubmissionsList,
			},
			{
				Name:      "accept",
				Usage:     "Accept a pending submission",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Action:    r.SubmissionsAccept,
			},
			{
				Name:      "reject",
				Usage:     "Reject a submission",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Action:    r.SubmissionsReject,
			},
		},
	}
}

// serveCommand runs the HTTP API
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and the lease sweeper",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Listen host (defaults to server.host)",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Listen port (defaults to server.port)",
			},
		},
		Action: r.Serve,
	}
}

// setupCommand prepares local state
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Initialize configuration and database",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Create the config file if missing and run migrations",
				Action: r.SetupDatabase,
			},
		},
	}
}
