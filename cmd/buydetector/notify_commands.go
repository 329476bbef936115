package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/brojonat/buydetector/service/config"
	"github.com/brojonat/buydetector/service/detector"
	"github.com/brojonat/buydetector/service/notify"
	"github.com/urfave/cli/v2"
)

func sendTestCommand() *cli.Command {
	return &cli.Command{
		Name:  "send-test",
		Usage: "Send the startup message to every chat",
		Description: `Delivers the same confirmation message "run" sends on startup, without
starting the detector. Useful to check the bot token and chat IDs.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Telegram bot token",
				EnvVars: []string{"TELEGRAM_BOT_TOKEN"},
			},
			&cli.StringFlag{
				Name:    "api-url",
				Usage:   "Telegram Bot API base URL",
				EnvVars: []string{"TELEGRAM_API_URL"},
				Value:   config.DefaultTelegramAPI,
			},
			&cli.StringFlag{
				Name:    "chat-ids",
				Usage:   "Comma-separated chat IDs",
				EnvVars: []string{"CHAT_IDS"},
			},
			&cli.StringFlag{
				Name:    "gif-url",
				Usage:   "Animation sent with the message",
				EnvVars: []string{"GIF_URL"},
			},
			&cli.StringFlag{
				Name:    "project",
				Usage:   "Project name shown in the message",
				EnvVars: []string{"PROJECT_NAME"},
				Value:   config.DefaultProjectName,
			},
		},
		Action: func(c *cli.Context) error {
			token := c.String("token")
			if token == "" {
				return fmt.Errorf("--token is required (or set TELEGRAM_BOT_TOKEN)")
			}
			chats := splitList(c.String("chat-ids"))
			if len(chats) == 0 {
				return fmt.Errorf("--chat-ids is required (or set CHAT_IDS)")
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			sink := notify.NewTelegramSink(c.String("api-url"), token, nil, nil, logger)

			msg := detector.Formatter{
				ProjectName: c.String("project"),
				MediaURL:    c.String("gif-url"),
			}.StartupMessage()

			if err := sink.Deliver(c.Context, msg, chats); err != nil {
				return fmt.Errorf("delivery failed: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "✅ Test message sent to %d chat(s)\n", len(chats))
			return nil
		},
	}
}
