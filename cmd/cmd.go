// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print output",
		},
	}
}

func rotationFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "size",
			Usage: "Tracks per playlist",
		},
		&cli.IntFlag{
			Name:  "interval",
			Usage: "Days between reshuffles",
		},
		&cli.IntFlag{
			Name:  "cooldown",
			Usage: "Days before a track may reappear in the same playlist",
		},
		&cli.IntFlag{
			Name:  "artist-cap",
			Usage: "Maximum tracks per artist in one selection",
		},
	}
}

// setupCommand handles initial setup
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration",
		Commands: []*cli.Command{
			{
				Name:  "database",
				Usage: "Create the config file if missing, initialize the database and run migrations",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to configuration file",
						Value:   "config.toml",
					},
				},
				Action: r.SetupDatabase,
			},
			{
				Name:   "rollback",
				Usage:  "Roll back the most recent migration",
				Action: r.SetupRollback,
			},
		},
	}
}

// accountsCommand handles linked Spotify accounts
func accountsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "accounts",
		Aliases: []string{"acct"},
		Usage:   "Linked Spotify accounts",
		Commands: []*cli.Command{
			{
				Name:  "link",
				Usage: "Authorize a Spotify account using OAuth2",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-browser",
						Usage: "Print the authorization URL without opening a browser",
					},
				},
				Action: r.AccountsLink,
			},
			{
				Name:   "list",
				Usage:  "List linked accounts",
				Flags:  outputFlags(),
				Action: r.AccountsList,
			},
			{
				Name:  "update",
				Usage: "Change an account's prefix, capacity or status",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "prefix",
						Usage: "Name prefix for new playlists",
					},
					&cli.IntFlag{
						Name:  "capacity",
						Usage: "Maximum active playlists",
					},
					&cli.StringFlag{
						Name:  "status",
						Usage: "active or disabled",
					},
				},
				Action: r.AccountsUpdate,
			},
		},
	}
}

// catalogCommand handles the track catalog
func catalogCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "catalog",
		Usage: "Track catalog operations",
		Commands: []*cli.Command{
			{
				Name:  "import",
				Usage: "Import tracks from a JSON/CSV file or an existing Spotify playlist",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path"},
				},
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "File format (json, csv); detected from the extension by default",
					},
					&cli.StringFlag{
						Name:  "from-playlist",
						Usage: "Spotify playlist ID to import instead of a file",
					},
					&cli.StringFlag{
						Name:  "account",
						Usage: "Account whose token reads the playlist",
					},
				}, outputFlags()...),
				Action: r.CatalogImport,
			},
			{
				Name:  "list",
				Usage: "List catalog tracks",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:  "artist",
						Usage: "Only tracks by this artist",
					},
					&cli.BoolFlag{
						Name:  "usable",
						Usage: "Only usable tracks",
					},
					&cli.BoolFlag{
						Name:  "disabled",
						Usage: "Only disabled tracks",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of tracks to return",
						Value: 100,
					},
				}, outputFlags()...),
				Action: r.CatalogList,
			},
			{
				Name:  "disable",
				Usage: "Exclude a track from future selections",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.CatalogDisable,
			},
			{
				Name:  "enable",
				Usage: "Make a disabled track selectable again",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.CatalogEnable,
			},
		},
	}
}

// playlistsCommand handles rotating playlists
func playlistsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "playlists",
		Aliases: []string{"pl"},
		Usage:   "Rotating playlist operations",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create and populate playlists for an account",
				Flags: append(append([]cli.Flag{
					&cli.StringFlag{
						Name:     "account",
						Aliases:  []string{"a"},
						Usage:    "Account ID",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "count",
						Usage: "Number of playlists to create",
						Value: 1,
					},
					&cli.StringFlag{
						Name:  "prefix",
						Usage: "Name prefix",
					},
				}, rotationFlags()...), outputFlags()...),
				Action: r.PlaylistsCreate,
			},
			{
				Name:  "list",
				Usage: "List playlists",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "account",
						Aliases: []string{"a"},
						Usage:   "Only this account's playlists",
					},
					&cli.BoolFlag{
						Name:  "archived",
						Usage: "Include archived playlists",
					},
				}, outputFlags()...),
				Action: r.PlaylistsList,
			},
			{
				Name:  "reshuffle",
				Usage: "Reshuffle one playlist now",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags:  rotationFlags(),
				Action: r.PlaylistsReshuffle,
			},
			{
				Name:  "bulk",
				Usage: "Reshuffle many playlists concurrently",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Every active playlist",
					},
					&cli.StringFlag{
						Name:    "account",
						Aliases: []string{"a"},
						Usage:   "Every active playlist of this account",
					},
					&cli.StringSliceFlag{
						Name:  "id",
						Usage: "Playlist ID (repeatable)",
					},
				},
				Action: r.PlaylistsBulk,
			},
			{
				Name:  "sync",
				Usage: "Retry the Spotify push of a playlist, or of every pending playlist",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.PlaylistsSync,
			},
			{
				Name:  "archive",
				Usage: "Archive a playlist and free its slot",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.PlaylistsArchive,
			},
			{
				Name:  "history",
				Usage: "Show a playlist's rotation history",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum ledger rows",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Write to disk as json, csv, markdown or txt",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output directory for --format",
					},
				}, outputFlags()...),
				Action: r.PlaylistsHistory,
			},
			{
				Name:  "export",
				Usage: "Export the history of many playlists",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "id",
						Usage: "Playlist ID (repeatable); all playlists by default",
					},
					&cli.StringFlag{
						Name:    "account",
						Aliases: []string{"a"},
						Usage:   "Only this account's playlists",
					},
					&cli.BoolFlag{
						Name:  "archived",
						Usage: "Include archived playlists",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "json, csv, markdown or txt",
						Value:   "json",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output directory",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent exports",
						Value: 4,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum ledger rows per playlist",
					},
				},
				Action: r.PlaylistsExport,
			},
		},
	}
}

// jobsCommand talks to a running worker
func jobsCommand(r *Runner) *cli.Command {
	urlFlag := func() cli.Flag {
		return &cli.StringFlag{
			Name:  "url",
			Usage: "Worker API base URL; defaults to the configured server address",
		}
	}

	return &cli.Command{
		Name:  "jobs",
		Usage: "Background job control",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List jobs and their schedule",
				Flags:  append([]cli.Flag{urlFlag()}, outputFlags()...),
				Action: r.JobsList,
			},
			{
				Name:  "enable",
				Usage: "Enable a job",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "name"},
				},
				Flags:  []cli.Flag{urlFlag()},
				Action: r.JobsEnable,
			},
			{
				Name:  "disable",
				Usage: "Disable a job",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "name"},
				},
				Flags:  []cli.Flag{urlFlag()},
				Action: r.JobsDisable,
			},
			{
				Name:  "run",
				Usage: "Run a job now and wait for it",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "name"},
				},
				Flags:  []cli.Flag{urlFlag()},
				Action: r.JobsRun,
			},
		},
	}
}

// metricsCommand handles rotation metrics
func metricsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "metrics",
		Usage: "Rotation metrics",
		Commands: []*cli.Command{
			{
				Name:   "overview",
				Usage:  "Show live totals and health",
				Flags:  outputFlags(),
				Action: r.MetricsOverview,
			},
			{
				Name:  "history",
				Usage: "Show recorded snapshots",
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:  "since",
						Usage: "Hours to look back",
						Value: 24,
					},
				}, outputFlags()...),
				Action: r.MetricsHistory,
			},
			{
				Name:   "snapshot",
				Usage:  "Record a snapshot now",
				Flags:  outputFlags(),
				Action: r.MetricsSnapshot,
			},
		},
	}
}

// workerCommand runs the background scheduler
func workerCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run the background scheduler and jobs API",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Run every enabled job once and exit",
			},
			&cli.BoolFlag{
				Name:  "no-api",
				Usage: "Do not serve the jobs API",
			},
		},
		Action: r.Worker,
	}
}

// tuiCommand launches the terminal UI
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tui",
		Usage: "Browse and reshuffle playlists interactively",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "account",
				Aliases: []string{"a"},
				Usage:   "Only this account's playlists",
			},
		},
		Action: r.TUI,
	}
}
