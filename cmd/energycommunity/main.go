package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"golang.org/x/sync/errgroup"

	"github.com/raterudder/energycommunity/pkg/log"
	"github.com/raterudder/energycommunity/pkg/poller"
	"github.com/raterudder/energycommunity/pkg/portal"
	"github.com/raterudder/energycommunity/pkg/publish"
	"github.com/raterudder/energycommunity/pkg/server"
)

func main() {
	// init packages
	client := portal.Configured()
	sink := publish.ConfiguredMQTT()
	p := poller.Configured(client, sink)

	// init server
	srv := server.Configured(p)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	log.SetDefaultLogLevel(level)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = log.With(ctx, logger)

	// the poller owns the portal client and the sink from here on
	defer closeLogged(ctx, p)

	// refuse to start with credentials the portal rejects
	validateCtx, validateCancel := context.WithTimeout(ctx, time.Minute)
	communities, err := client.ValidateCredentials(validateCtx)
	validateCancel()
	if err != nil {
		var authErr *portal.AuthError
		if errors.As(err, &authErr) {
			log.Ctx(ctx).ErrorContext(ctx, "portal rejected the credentials", slog.Any("error", err))
		} else {
			log.Ctx(ctx).ErrorContext(ctx, "failed to validate portal credentials", slog.Any("error", err))
		}
		closeLogged(ctx, p)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "portal credentials valid", slog.Int("communities", len(communities)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Run(gctx)
	})
	// Run will block until context is canceled or error happens
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		closeLogged(ctx, p)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}

// closeLogged closes c and logs the error, if any.
func closeLogged(ctx context.Context, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to close poller", slog.Any("error", err))
	}
}
