package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/lojhan/chainkv/internal/command"
	"github.com/lojhan/chainkv/internal/config"
	"github.com/lojhan/chainkv/internal/httpapi"
	"github.com/lojhan/chainkv/internal/logging"
	"github.com/lojhan/chainkv/internal/persistence"
	"github.com/lojhan/chainkv/internal/server"
	"github.com/lojhan/chainkv/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	fs := pflag.NewFlagSet("chainkv-server", pflag.ExitOnError)
	config.Flags(fs)
	fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chainkv-server: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "chainkv-server: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if cfg.Created {
		logger.Info("Wrote default configuration", zap.String("file", cfg.File))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		closeLog()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) (err error) {
	dataStore, err := store.New(cfg.Table.Capacity, cfg.Table.Hasher)
	if err != nil {
		return err
	}
	defer dataStore.Close()

	logger.Info("Hash table ready",
		zap.Int("capacity", cfg.Table.Capacity),
		zap.String("hasher", cfg.Table.Hasher))

	if logger.Core().Enabled(zapcore.DebugLevel) {
		dataStore.SetKeyModifiedHandler(func(key string) {
			logger.Debug("Key modified", zap.String("key", key))
		})
	}

	snapshotPath := ""
	switch cfg.Persistence.Mode {
	case config.PersistenceSnapshot:
		snapshotPath = cfg.Persistence.SnapshotFile
		n, err := persistence.LoadSnapshot(snapshotPath, dataStore)
		if err != nil {
			return fmt.Errorf("failed to load snapshot: %w", err)
		}
		logger.Info("Loaded snapshot", zap.String("file", snapshotPath), zap.Int("keys", n))

	case config.PersistenceAOF:
		policy, err := persistence.ParseSyncPolicy(cfg.Persistence.AOFFsync)
		if err != nil {
			return err
		}
		n, err := persistence.LoadAOF(cfg.Persistence.AOFFile, dataStore, logger)
		if err != nil {
			return fmt.Errorf("failed to load AOF: %w", err)
		}
		logger.Info("Replayed AOF",
			zap.String("file", cfg.Persistence.AOFFile),
			zap.Int("commands", n),
			zap.Int("keys", dataStore.Len()))

		aof, err := persistence.NewAOFWriter(cfg.Persistence.AOFFile, policy, logger)
		if err != nil {
			return err
		}
		dataStore.SetJournal(aof)
		defer func() {
			err = multierr.Append(err, aof.Close())
		}()
		logger.Info("AOF logging enabled", zap.String("fsync", cfg.Persistence.AOFFsync))
	}

	srv := server.NewServer(cfg.Server.Addr, cfg.Server.Multicore, logger)
	registerCommands(srv, dataStore, snapshotPath, logger)

	g, gctx := errgroup.WithContext(ctx)

	respDone := make(chan struct{})
	g.Go(func() error {
		defer close(respDone)
		return srv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		select {
		case <-srv.Booted():
		case <-respDone:
			return nil
		}
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(sctx)
	})

	if cfg.HTTP.Enabled {
		httpSrv := &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      httpapi.New(dataStore, logger).Handler(),
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
			IdleTimeout:  cfg.HTTP.IdleTimeout,
		}
		g.Go(func() error {
			logger.Info("HTTP API listening", zap.String("addr", cfg.HTTP.Addr))
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpSrv.Shutdown(sctx); err != nil {
				return fmt.Errorf("HTTP shutdown: %w", err)
			}
			logger.Info("HTTP API stopped")
			return nil
		})
	}

	if snapshotPath != "" && cfg.Persistence.SnapshotInterval > 0 {
		g.Go(func() error {
			return snapshotLoop(gctx, dataStore, snapshotPath, cfg.Persistence.SnapshotInterval, logger)
		})
	}

	err = g.Wait()

	if snapshotPath != "" {
		n, serr := persistence.SaveSnapshot(snapshotPath, dataStore)
		if serr != nil {
			err = multierr.Append(err, fmt.Errorf("final snapshot: %w", serr))
		} else {
			logger.Info("DB saved on disk", zap.String("file", snapshotPath), zap.Int("keys", n))
		}
	}
	return err
}

func registerCommands(srv *server.Server, s *store.Store, snapshotPath string, logger *zap.Logger) {
	srv.RegisterCommand("PING", command.PingCommand)
	srv.RegisterCommand("ECHO", command.EchoCommand)
	srv.RegisterCommand("COMMAND", command.CommandCommand)
	srv.RegisterCommand("INFO", command.InfoCommand(s))

	srv.RegisterCommand("SET", command.SetCommand(s))
	srv.RegisterCommand("GET", command.GetCommand(s))
	srv.RegisterCommand("DEL", command.DelCommand(s))
	srv.RegisterCommand("EXISTS", command.ExistsCommand(s))
	srv.RegisterCommand("KEYS", command.KeysCommand(s))
	srv.RegisterCommand("DBSIZE", command.DBSizeCommand(s))
	srv.RegisterCommand("FLUSHDB", command.FlushDBCommand(s))

	srv.RegisterCommand("SAVE", command.SaveCommand(s, snapshotPath, logger))
}

// snapshotLoop saves a snapshot every interval until ctx is done. Failed
// saves are logged and retried on the next tick.
func snapshotLoop(ctx context.Context, s *store.Store, path string, interval time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := persistence.SaveSnapshot(path, s)
			if err != nil {
				logger.Warn("Periodic snapshot failed", zap.String("file", path), zap.Error(err))
				continue
			}
			logger.Debug("Periodic snapshot saved", zap.String("file", path), zap.Int("keys", n))
		}
	}
}
