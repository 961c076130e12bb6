package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hexi/data-portal/async"
)

func main() {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if os.Getenv("PORTAL_DEBUG") != "" {
		config.Level.SetLevel(zapcore.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	zap.RedirectStdLog(logger)
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := &cli.App{
		Name:  "data-portal",
		Usage: "browse and download files from a data portal deployment",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "api-url",
				Usage: "override the backend base `URL`",
			},
			&cli.StringFlag{
				Name:  "state-dir",
				Usage: "keep credentials and history in `DIR`",
			},
		},
		Commands: []*cli.Command{
			loginCommand(ctx),
			logoutCommand(ctx),
			registerCommand(ctx),
			listCommand(ctx),
			getCommand(ctx),
			shareCommand(ctx),
			keysCommand(ctx),
			adminCommand(ctx),
			profileCommand(ctx),
			statusCommand(ctx),
			historyCommand(ctx),
		},
		HideHelpCommand: true,
	}

	result := async.Run(func() error { return app.Run(os.Args) })

	select {
	case err = <-result:
		if err != nil {
			logger.Fatal(err.Error())
		}
	case <-ctx.Done():
		stop()
		err = <-result
		if err != nil {
			logger.Fatal(err.Error())
		}
	}
}
