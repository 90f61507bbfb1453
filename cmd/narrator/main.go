package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to the YAML config file",
			Value:   "config.yaml",
			Sources: cli.EnvVars("NARRATOR_CONFIG"),
		},
		&cli.StringFlag{
			Name:  "env",
			Usage: "path to the .env file",
			Value: ".env",
		},
	}

	app := &cli.Command{
		Name:  "narrator",
		Usage: "Narrated Bible chapters as MP3 audio and MP4 video",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and the job scheduler",
				Flags:  configFlags,
				Action: serveAction,
			},
			{
				Name:  "sweep",
				Usage: "Remove expired artifacts and stale temp files once",
				Flags: append(configFlags, &cli.IntFlag{
					Name:  "max-age-days",
					Usage: "override retention.max_age_days",
				}),
				Action: sweepAction,
			},
			{
				Name:  "books",
				Usage: "List Bible books and their chapter counts",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "search",
						Usage: "case-insensitive substring filter",
					},
				},
				Action: booksAction,
			},
			{
				Name:  "chunk",
				Usage: "Split text from stdin into synthesis chunks",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "max-sentences",
						Usage: "sentences per chunk, 0 to bound by characters",
						Value: 5,
					},
					&cli.IntFlag{
						Name:  "max-chars",
						Usage: "character limit when chunking by size",
						Value: 4500,
					},
				},
				Action: chunkAction,
			},
			{
				Name:   "hash-password",
				Usage:  "Read a password from stdin and print its bcrypt hash for auth.password_hash",
				Action: hashPasswordAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
