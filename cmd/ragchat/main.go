package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Desarso/ragchat"
	"github.com/Desarso/ragchat/knowledge"
	"github.com/urfave/cli/v3"
)

const version = "0.3.0"

func main() {
	cmd := &cli.Command{
		Name:    "ragchat",
		Usage:   "retrieval-augmented chat backend",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML configuration file", Sources: cli.EnvVars("RAGCHAT_CONFIG")},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP and WebSocket server",
				Action: serve,
			},
			{
				Name:      "scrape",
				Usage:     "scrape a website into the knowledge base",
				ArgsUsage: "<url>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "re-scrape even if the website already completed"},
				},
				Action: scrape,
			},
			{
				Name:      "ask",
				Usage:     "run one agent turn from the command line",
				ArgsUsage: "<message>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "conversation", Aliases: []string{"C"}, Usage: "conversation id to continue"},
				},
				Action: ask,
			},
			{
				Name:   "refresh",
				Usage:  "re-scrape failed and stale websites once",
				Action: refresh,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and assembles the app.
func setup(ctx context.Context, cmd *cli.Command) (*ragchat.App, error) {
	cfg, err := ragchat.LoadConfig(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	logger, err := ragchat.NewLogger(os.Stderr, cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return ragchat.NewApp(ctx, cfg, logger)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	app, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()
	return app.Run(ctx)
}

func scrape(ctx context.Context, cmd *cli.Command) error {
	target := cmd.Args().First()
	if target == "" {
		return errors.New("URL is required")
	}
	app, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	var result knowledge.ScrapeResult
	if cmd.Bool("force") {
		result, err = app.Scraper.Rescrape(ctx, target)
	} else {
		result, err = app.Scraper.ScrapeAndStore(ctx, target)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s): %d chunks, status %s\n", result.Website.Title, result.Website.URL, result.ChunksCount, result.Website.Status)
	if result.Message != "" {
		fmt.Println(result.Message)
	}
	return nil
}

func ask(ctx context.Context, cmd *cli.Command) error {
	message := cmd.Args().First()
	if message == "" {
		return errors.New("message is required")
	}
	app, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	session := app.Agent.NewChatSession(cmd.String("conversation"))
	result, err := session.Run(ctx, message)
	if err != nil {
		return err
	}
	fmt.Println(result.FinalText)
	fmt.Fprintf(os.Stderr, "conversation: %s (%d iterations, %s)\n", result.ConversationID, result.Iterations, result.Outcome)
	return nil
}

func refresh(ctx context.Context, cmd *cli.Command) error {
	app, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	refresher := app.Refresher
	if refresher == nil {
		refresher = knowledge.NewRefresher(app.Store, app.Scraper, app.Config.RefreshMaxAge, app.Logger.With("component", "refresher"))
	}
	n := refresher.RunOnce(ctx)
	fmt.Printf("re-scraped %d websites\n", n)
	return nil
}
