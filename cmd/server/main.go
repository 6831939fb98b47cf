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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kaphack/emotional-risk-escalation-engine/internal/advisory"
	"github.com/kaphack/emotional-risk-escalation-engine/internal/cache"
	"github.com/kaphack/emotional-risk-escalation-engine/internal/config"
	"github.com/kaphack/emotional-risk-escalation-engine/internal/db"
	"github.com/kaphack/emotional-risk-escalation-engine/internal/engine"
	"github.com/kaphack/emotional-risk-escalation-engine/internal/httpapi"
	"github.com/kaphack/emotional-risk-escalation-engine/internal/kafka"
	"github.com/kaphack/emotional-risk-escalation-engine/internal/logging"
	"github.com/kaphack/emotional-risk-escalation-engine/internal/metrics"
	"github.com/kaphack/emotional-risk-escalation-engine/internal/notify"
	"github.com/kaphack/emotional-risk-escalation-engine/internal/router"
	"github.com/kaphack/emotional-risk-escalation-engine/internal/workers"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logging.New(logging.Options{Dir: cfg.LogDir, Level: cfg.LogLevel})
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New("escalation")

	repo, err := db.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		return err
	}
	defer repo.Close()
	log.Infow("database ready", "driver", cfg.DBDriver)

	advisoryCache, closeCache, err := openCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()

	var provider advisory.Provider
	if cfg.LLMAPIKey != "" {
		llm, err := advisory.NewLLMProvider(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel)
		if err != nil {
			return err
		}
		provider = llm
		log.Infow("advisory provider configured", "model", cfg.LLMModel)
	} else {
		log.Warn("LLM_API_KEY not set, advisory content will use the fallback")
	}
	analyzer := advisory.NewAnalyzer(provider, cfg.AdvisoryTimeout, log, m)

	brokers := cfg.Brokers()
	sinks := notify.Multi{notify.NewLog(log)}
	var publisher *kafka.Publisher
	if len(brokers) > 0 {
		publisher = kafka.NewPublisher(brokers, cfg.KafkaEventsTopic, log)
		sinks = append(sinks, publisher)
	}
	notifyPool := workers.NewWorkerPool(cfg.Workers, cfg.WorkerQueue, log)

	eng, err := engine.New(engine.Options{
		Store:    repo,
		Notifier: notify.NewAsync(sinks, notifyPool, m, log),
		Advisor:  analyzer,
		Cache:    advisoryCache,
		Recorder: m,
		Logger:   log,
	})
	if err != nil {
		return err
	}

	channels := router.New(router.Config{
		CoachChatURL:       cfg.CoachChatURL,
		MentorDirectoryURL: cfg.MentorDirectoryURL,
		EmergencyNumber:    cfg.EmergencyNumber,
	}, m, log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           httpapi.NewRouter(httpapi.NewHandler(eng, channels, log), m.Handler(), log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infow("starting HTTP server", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	var ingestPool *workers.WorkerPool
	if len(brokers) > 0 {
		ingestPool = workers.NewWorkerPool(cfg.Workers, cfg.WorkerQueue, log)
		consumer := kafka.NewConsumer(brokers, cfg.KafkaReadingsTopic, cfg.KafkaGroupID, eng, ingestPool, log)
		g.Go(func() error {
			return consumer.Start(gctx)
		})
	} else {
		log.Warn("KAFKA_BROKERS not set, stream ingest and event publishing are disabled")
	}

	err = g.Wait()

	if ingestPool != nil {
		ingestPool.Stop()
	}
	eng.Close()
	notifyPool.Stop()
	if publisher != nil {
		if cerr := publisher.Close(); cerr != nil {
			log.Warnw("kafka publisher close failed", "error", cerr)
		}
	}

	if err != nil {
		log.Errorw("service stopped with error", "error", err)
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func openCache(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) (engine.AdvisoryCache, func(), error) {
	if cfg.RedisAddr == "" {
		log.Info("REDIS_ADDR not set, advisory cache is in memory")
		return cache.NewMemory(cfg.AdvisoryTTL), func() {}, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rc, err := cache.Dial(dialCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.AdvisoryTTL)
	if err != nil {
		return nil, nil, err
	}
	log.Infow("advisory cache on redis", "addr", cfg.RedisAddr)
	return rc, func() { _ = rc.Close() }, nil
}
