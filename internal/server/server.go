// Package server composes the continuity service: connection registry,
// orchestrator, broadcaster, session store, and websocket transport, all
// supervised by one run loop.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbucher/tilehall/internal/continuity/broadcast"
	"github.com/mbucher/tilehall/internal/continuity/guardian"
	"github.com/mbucher/tilehall/internal/continuity/orchestrator"
	"github.com/mbucher/tilehall/internal/continuity/registry"
	"github.com/mbucher/tilehall/internal/continuity/scheduler"
	"github.com/mbucher/tilehall/internal/storage"
	"github.com/mbucher/tilehall/internal/storage/sqlite"
	"github.com/mbucher/tilehall/internal/transport/ws"
)

// Config holds the service tunables.
type Config struct {
	HTTPAddr          string
	DBPath            string
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration
	CoincidenceWindow time.Duration
	GracePeriod       time.Duration
	VoteTimeout       time.Duration
	AbandonmentWindow time.Duration
	SweepInterval     time.Duration
}

// Run builds the full service from config and serves until the context ends.
func Run(ctx context.Context, cfg Config) error {
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		return errors.New("http address is required")
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}

	var store storage.SessionStore
	if strings.TrimSpace(cfg.DBPath) != "" {
		sqliteStore, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		store = sqliteStore
		defer func() {
			if err := sqliteStore.Close(); err != nil {
				log.Printf("server: close session store err=%v", err)
			}
		}()
	} else {
		log.Printf("server: no db path configured; sessions are not persisted")
	}

	sched := scheduler.New()
	defer sched.Stop()

	reg := registry.New(registry.Config{
		ConnectionTimeout: cfg.ConnectionTimeout,
		CoincidenceWindow: cfg.CoincidenceWindow,
	}, nil)

	hub := ws.NewHub()
	notify := broadcast.New(hub, sched, nil)

	orchCfg := orchestrator.DefaultConfig()
	if cfg.GracePeriod > 0 {
		orchCfg.GracePeriod = cfg.GracePeriod
	}
	if cfg.VoteTimeout > 0 {
		orchCfg.VoteTimeout = cfg.VoteTimeout
	}
	if cfg.AbandonmentWindow > 0 {
		orchCfg.AbandonmentWindow = cfg.AbandonmentWindow
	}
	orch := orchestrator.New(orchCfg, reg, notify, guardian.New(nil), sched, store, nil, nil)

	transport, err := ws.NewServer(ws.Config{
		HTTPAddr:          cfg.HTTPAddr,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, reg, orch, hub, nil)
	if err != nil {
		return fmt.Errorf("init transport: %w", err)
	}
	transport.SetBroadcaster(notify)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := transport.ListenAndServe(groupCtx); err != nil {
			return fmt.Errorf("serve transport: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		if err := orch.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run orchestrator: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				reg.Sweep()
			}
		}
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
