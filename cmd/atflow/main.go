package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/at/internal/cluster"
	"github.com/rakunlabs/at/internal/config"
	"github.com/rakunlabs/at/internal/server"
	"github.com/rakunlabs/at/internal/service"
	"github.com/rakunlabs/at/internal/service/workflow"
	"github.com/rakunlabs/at/internal/store"

	// Blank import triggers init() registration of all built-in node types.
	_ "github.com/rakunlabs/at/internal/service/workflow/nodes"
)

var (
	name    = "atflow"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

// ///////////////////////////////////////////////////////////////////

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	registry := workflow.NewRegistry()
	slog.Info("registered node types", "types", workflow.RegisteredNodeTypes())

	cl, err := cluster.New(cfg.Server.Alan)
	if err != nil {
		return fmt.Errorf("failed to create cluster: %w", err)
	}

	if cl != nil {
		slog.Info("clustering enabled, starting alan peer discovery")
		go func() {
			onNewKey := func(newKey []byte) {
				if updater, ok := st.(service.EncryptionKeyUpdater); ok {
					updater.SetEncryptionKey(newKey)
					slog.Info("applied encryption key received from cluster peer")
				}
			}
			if err := cl.Start(ctx, onNewKey); err != nil && ctx.Err() == nil {
				slog.Error("cluster stopped unexpectedly", "error", err)
			}
		}()

		select {
		case <-cl.Ready():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	srv, err := server.New(ctx, cfg.Server, st, st, st, st, st, st, st, registry, cl)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	slog.Info("starting server", "host", cfg.Server.Host, "port", cfg.Server.Port)

	return srv.Start(ctx)
}
