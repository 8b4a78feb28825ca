// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

// syncCommand runs and inspects playlist synchronization.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Synchronize playlists against the local library",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Analyze a playlist and acquire its missing tracks",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:    "playlist",
						Aliases: []string{"p"},
						Usage:   "Playlist ID or name on the streaming catalog",
					},
					&cli.StringFlag{
						Name:  "from-youtube",
						Usage: "YouTube playlist URL to ingest instead of a catalog playlist",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Stop after analysis; print the missing set without downloading",
					},
					&cli.BoolFlag{
						Name:  "no-verify",
						Usage: "Skip fingerprint verification for this run",
					},
				},
				Action: r.SyncRun,
			},
			{
				Name:   "status",
				Usage:  "List playlists with their sync status",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SyncStatus,
			},
		},
	}
}

// analyzeCommand compares a playlist against the local library without downloading.
func analyzeCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "analyze",
		Usage: "Report which playlist tracks exist in the local library",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:     "playlist",
				Aliases:  []string{"p"},
				Usage:    "Playlist ID or name on the streaming catalog",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "csv",
				Usage: "Write the missing tracks to a CSV file at this path",
			},
		},
		Action: r.Analyze,
	}
}

// wishlistCommand manages permanently-failed tracks.
func wishlistCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "wishlist",
		Usage: "Manage tracks that could not be acquired",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "Show all wishlisted tracks",
				Flags:  []cli.Flag{configFlag()},
				Action: r.WishlistList,
			},
			{
				Name:  "resolve",
				Usage: "Remove a track from the wishlist",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:     "title",
						Usage:    "Track title",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "artist",
						Usage:    "Primary artist",
						Required: true,
					},
				},
				Action: r.WishlistResolve,
			},
			{
				Name:  "retry",
				Usage: "Re-attempt acquisition for every wishlisted track",
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{
						Name:  "no-verify",
						Usage: "Skip fingerprint verification for this run",
					},
				},
				Action: r.WishlistRetry,
			},
		},
	}
}

// setupCommand initializes configuration and the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create the config file, database, and working directories",
		Flags:  []cli.Flag{configFlag()},
		Action: r.Setup,
	}
}

// configCommand inspects the effective configuration.
func configCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print the effective configuration with secrets redacted",
				Flags:  []cli.Flag{configFlag()},
				Action: r.ConfigShow,
			},
		},
	}
}
