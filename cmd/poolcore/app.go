package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tbg/tbgpool/internal/cache"
	"github.com/tbg/tbgpool/internal/eventring"
	"github.com/tbg/tbgpool/internal/metrics"
	"github.com/tbg/tbgpool/internal/ratelimit"
	"github.com/tbg/tbgpool/internal/relay"
	"github.com/tbg/tbgpool/internal/slab"
)

// AppConfig collects every flag/env value Run needs to construct the
// process's subsystems.
type AppConfig struct {
	Mode                 string
	EventSocketPath      string
	RelayListenAddr      string
	RelayPrimaryAddr     string
	RelayRegion          string
	RelayFailoverTimeout time.Duration
	MetricsPort          int
	RedisURL             string
	DebugAddr            string
}

// shareRecordSize is the fixed slot size for the share-record slab pool:
// enough for a worker name, job id, and the five/six hex fields of a
// mining.submit, with headroom.
const shareRecordSize = 256

// App holds every constructed subsystem so the debug surface and shutdown
// path can reach them.
type App struct {
	cfg AppConfig
	log *logrus.Logger

	ring         *eventring.Ring
	shareRecords *slab.Pool
	metrics      *metrics.Metrics
	rateLimiter  *ratelimit.Limiter
	sigCache     *cache.SignatureCache
	varDiff      *cache.VarDiffCache

	relayServer *relay.Server
	relayClient *relay.Client
}

// Run constructs every subsystem described by cfg, starts their
// background goroutines, and blocks until SIGINT/SIGTERM.
func Run(cfg AppConfig, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &App{
		cfg:          cfg,
		log:          log,
		ring:         eventring.New(log),
		shareRecords: slab.New("share-record", shareRecordSize, 0),
		metrics:      metrics.New(),
		rateLimiter:  ratelimit.New(ratelimit.DefaultConfig(), log),
	}

	pool := cache.NewPool(cfg.RedisURL)
	app.sigCache = cache.NewSignatureCache(pool, log)
	app.varDiff = cache.NewVarDiffCache(pool, 0, log)

	go app.sigCache.Run(ctx)
	go app.varDiff.Run(ctx)
	go app.rateLimiter.Run(ctx)
	go app.runEventRing(ctx)

	metricsLn, err := net.Listen("tcp", fmtAddr(cfg.MetricsPort))
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = metricsLn.Close()
	}()
	go func() {
		if err := app.metrics.Serve(metricsLn); err != nil {
			log.WithError(err).Warn("poolcore: metrics listener closed")
		}
	}()

	switch cfg.Mode {
	case "primary":
		if err := app.runPrimary(ctx); err != nil {
			return err
		}
	case "relay":
		app.runRelayClient(ctx)
	}

	if cfg.DebugAddr != "" {
		go app.serveDebug(ctx, cfg.DebugAddr)
	}

	log.WithFields(logrus.Fields{"mode": cfg.Mode, "metrics_port": cfg.MetricsPort}).Info("poolcore: started")

	<-ctx.Done()
	log.Info("poolcore: shutting down")
	return nil
}

func (a *App) runEventRing(ctx context.Context) {
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: a.cfg.EventSocketPath, Net: "unixgram"})
	if err != nil {
		a.log.WithError(err).Warn("poolcore: event socket unavailable, events will be dropped")
		a.ring.Run(ctx, nil)
		return
	}
	defer conn.Close()
	a.ring.Run(ctx, conn)
}

func (a *App) runPrimary(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.RelayListenAddr)
	if err != nil {
		return err
	}
	a.relayServer = relay.NewServer(a.log, func(region string, payload []byte) {
		a.metrics.IncBlocksFound()
		a.ring.Push(append([]byte("block_found:"+region+":"), payload...))
	})
	go a.relayServer.Serve(ctx, ln)
	return nil
}

func (a *App) runRelayClient(ctx context.Context) {
	a.relayClient = relay.NewClient(a.cfg.RelayPrimaryAddr, a.cfg.RelayRegion, a.cfg.RelayFailoverTimeout,
		func(payload []byte) {
			a.ring.Push(append([]byte("template:"), payload...))
		}, a.log)
	go a.relayClient.Run(ctx)
}

func fmtAddr(port int) string {
	return fmt.Sprintf(":%d", port)
}
