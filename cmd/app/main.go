package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"voice-calendar-pipeline/internal/application"
	"voice-calendar-pipeline/internal/config"
	"voice-calendar-pipeline/internal/domain/model"
	"voice-calendar-pipeline/internal/domain/ports/adapter"
	aiAdapters "voice-calendar-pipeline/internal/infra/adapters/ai"
	"voice-calendar-pipeline/internal/infra/adapters/calendar"
	tele "voice-calendar-pipeline/internal/infra/adapters/telegram"
	pg "voice-calendar-pipeline/internal/infra/db/postgres"
	"voice-calendar-pipeline/internal/infra/logging"
	"voice-calendar-pipeline/internal/infra/metrics"
	red "voice-calendar-pipeline/internal/infra/redis"
	"voice-calendar-pipeline/internal/infra/web"
	"voice-calendar-pipeline/internal/infra/worker"
	"voice-calendar-pipeline/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (noop providers)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("developer mode enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()

	queue := red.NewQueue(redisClient, cfg.Queue, logger)
	parked := red.NewClarificationStore(redisClient, cfg.Queue.KeyPrefix)
	rateLimiter := red.NewRateLimiter(redisClient)

	// ---- Repositories ----
	jobRepo := pg.NewJobRepo(pool)
	dlqRepo := pg.NewDLQRepo(pool)
	txManager := pg.NewTxManager(pool)

	// ---- Collaborator adapters ----
	var (
		messenger      adapter.Messenger
		transcriber    adapter.Transcriber
		intentResolver adapter.IntentResolver
		calendarClient adapter.CalendarClient
	)
	if cfg.Runtime.Dev {
		messenger = tele.NewNoopMessenger(logger)
		transcriber = aiAdapters.NewNoopTranscriber()
		intentResolver = aiAdapters.NewNoopIntentResolver()
		calendarClient = calendar.NewNoopClient(logger)
	} else {
		tg, err := tele.NewMessenger(cfg.Telegram.Token)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram")
		}
		messenger = tg

		transcriber, err = aiAdapters.NewWhisperTranscriber(cfg.AI.OpenAIKey, cfg.AI.OpenAIBaseURL, cfg.AI.TranscriptionModel)
		if err != nil {
			logger.Fatal().Err(err).Msg("transcriber")
		}

		intentResolver, err = buildIntentResolver(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("intent resolver")
		}

		calendarClient, err = calendar.NewClient(cfg.Calendar.BaseURL, cfg.Calendar.Issuer, cfg.Calendar.Secret, cfg.Calendar.TokenTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("calendar")
		}
	}

	// ---- Use cases ----
	retryPolicy := usecase.RetryPolicy{
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		MaxAttempts: cfg.Retry.MaxAttempts,
	}
	ingestUC := usecase.NewIngestUseCase(jobRepo, queue, txManager, rateLimiter,
		cfg.Ingest.RateLimit, cfg.Ingest.RateWindow, cfg.Retry.MaxAttempts, logger)
	clarifyUC := usecase.NewClarificationUseCase(parked, queue, jobRepo, logger)
	dlqUC := usecase.NewDeadLetterUseCase(dlqRepo, jobRepo, queue, logger)
	statsUC := usecase.NewStatsUseCase(queue, dlqRepo, parked, jobRepo)

	// ---- Stage handlers ----
	dispatch := usecase.NewDispatch()
	registrations := map[model.Stage]usecase.StageHandler{
		model.StageWebhookReceived:       usecase.NewWebhookReceivedHandler(),
		model.StageAudioDownload:         usecase.NewAudioDownloadHandler(messenger),
		model.StageTranscription:         usecase.NewTranscriptionHandler(transcriber),
		model.StageIntentAnalysis:        usecase.NewIntentAnalysisHandler(intentResolver),
		model.StageIntentBuildContext:    usecase.NewIntentBuildContextHandler(aiAdapters.NewTiktokenCounter(), cfg.AI.IntentModel, cfg.AI.TokenBudget, logger),
		model.StageIntentRequest:         usecase.NewIntentRequestHandler(intentResolver),
		model.StageClarificationDispatch: usecase.NewClarificationDispatchHandler(messenger),
		model.StageEventCreate:           usecase.NewEventCreateHandler(calendarClient),
		model.StageEventUpdate:           usecase.NewEventUpdateHandler(calendarClient),
		model.StageEventDelete:           usecase.NewEventDeleteHandler(calendarClient),
		model.StageNotificationSend:      usecase.NewNotificationSendHandler(messenger),
	}
	for stage, h := range registrations {
		if err := dispatch.Register(stage, h); err != nil {
			logger.Fatal().Err(err).Str("stage", string(stage)).Msg("register stage handler")
		}
	}

	// ---- Worker pool ----
	pool2 := worker.NewPool(queue, jobRepo, parked, dlqUC, dispatch, retryPolicy,
		cfg.Worker.Count, cfg.Queue.LockTTL, logger)
	pool2.Start(ctx)

	// ---- Inbound updates ----
	facade := application.NewWebhookFacade(ingestUC, clarifyUC, parked, logger)
	var listener *tele.Listener
	if tg, ok := messenger.(*tele.Messenger); ok {
		listener, err = tele.NewListener(tg, facade, 2, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram listener")
		}
		listener.StartPolling(ctx)
	} else {
		logger.Warn().Msg("noop messenger: no inbound updates, operator api only")
	}

	// ---- Operator API ----
	srv := web.NewServer(statsUC, dlqUC, pool2, cfg.DLQ.Retention, cfg.Operator.APIKey, logger)
	go func() {
		if err := srv.Start(cfg.Operator.Port); err != nil {
			logger.Error().Err(err).Msg("operator api stopped")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	if listener != nil {
		listener.Stop()
	}
	cancel()
	pool2.Stop()
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error().Err(err).Msg("operator api shutdown")
	}
}

// buildIntentResolver wires the configured providers, preferring the one
// named in config and keeping the other as fallback.
func buildIntentResolver(ctx context.Context, cfg *config.Config) (adapter.IntentResolver, error) {
	byProvider := map[string]adapter.IntentResolver{}

	if cfg.AI.OpenAIKey != "" {
		r, err := aiAdapters.NewOpenAIIntentResolver(cfg.AI.OpenAIKey, cfg.AI.OpenAIBaseURL, cfg.AI.IntentModel)
		if err != nil {
			return nil, err
		}
		byProvider["openai"] = r
	}
	if cfg.AI.GeminiKey != "" {
		r, err := aiAdapters.NewGeminiIntentResolver(ctx, cfg.AI.GeminiKey, cfg.AI.IntentModel)
		if err != nil {
			return nil, err
		}
		byProvider["gemini"] = r
	}
	if len(byProvider) == 0 {
		return nil, errors.New("no intent provider configured: set ai.openai_key or ai.gemini_key")
	}
	return aiAdapters.NewMultiIntentResolver(cfg.AI.Provider, byProvider), nil
}
