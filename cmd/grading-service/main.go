package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeassess/internal/common/cache"
	"codeassess/internal/common/mq"
	"codeassess/internal/grading"
	"codeassess/internal/grading/analyzer"
	"codeassess/internal/grading/critic"
	"codeassess/internal/grading/repository"
	"codeassess/internal/grading/runner"
	"codeassess/internal/grading/service"
	"codeassess/internal/judge/client"
	"codeassess/internal/judge/semaphore"
	judgeservice "codeassess/internal/judge/service"
	"codeassess/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultConfigPath = "configs/grading_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "grading service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis failed: %w", err)
	}
	defer func() {
		_ = redisCache.Close()
	}()

	records, err := repository.NewRecordRepository(redisCache, appCfg.Records)
	if err != nil {
		return fmt.Errorf("init record repository failed: %w", err)
	}
	defer func() {
		_ = records.Close()
	}()

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka.KafkaConfig)
	if err != nil {
		return fmt.Errorf("init kafka failed: %w", err)
	}
	defer func() {
		_ = mqClient.Close()
	}()
	pingCtx, cancelPing := context.WithTimeout(ctx, appCfg.Kafka.DialTimeout)
	err = mqClient.Ping(pingCtx)
	cancelPing()
	if err != nil {
		return fmt.Errorf("ping kafka failed: %w", err)
	}

	workerOpts, err := appCfg.Judge.Options()
	if err != nil {
		return err
	}
	judgeClient, err := client.New(workerOpts)
	if err != nil {
		return fmt.Errorf("init judge client failed: %w", err)
	}
	sem := semaphore.New(appCfg.Semaphore)
	judge := judgeservice.NewJudgeService(sem, judgeClient)

	critics := critic.NewDefaultRegistry()
	if crit := appCfg.Grading.LlmCritique; crit.Enabled {
		if _, err := critics.Resolve(crit.Provider); err != nil {
			logger.Warn(ctx, "default critique provider is not registered, style will be scored neutral",
				zap.String("provider", crit.Provider),
				zap.Strings("registered", critics.Names()),
			)
		}
	}
	pipeline := grading.NewHybridGradingPipeline(
		runner.NewJudgeRunner(judge, *appCfg.Service.RunAllTests),
		analyzer.NewHeuristic(),
		critics,
	)
	gradingSvc, err := service.New(service.Config{
		Grader:        pipeline,
		Records:       records,
		Events:        repository.NewMQResultEventPublisher(mqClient, appCfg.Kafka.ResultTopic),
		Queue:         mqClient,
		BusyRetry:     appCfg.Kafka.busyRetryPolicy(),
		DefaultConfig: *appCfg.Grading,
		GradeTimeout:  appCfg.Service.GradeTimeout,
	})
	if err != nil {
		return fmt.Errorf("init grading service failed: %w", err)
	}

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mqClient.Subscribe(shutdownCtx, appCfg.Kafka.topics(), gradingSvc.HandleMessage, appCfg.Kafka.subscribeOptions()); err != nil {
		return fmt.Errorf("subscribe kafka failed: %w", err)
	}
	if err := mqClient.Start(); err != nil {
		return fmt.Errorf("start kafka consumer failed: %w", err)
	}
	logger.Info(ctx, "grading service started",
		zap.String("task_topic", appCfg.Kafka.TaskTopic),
		zap.String("retry_topic", appCfg.Kafka.RetryTopic),
		zap.String("result_topic", appCfg.Kafka.ResultTopic),
		zap.String("lock_path", sem.Path()),
		zap.Strings("critique_providers", critics.Names()),
	)

	<-shutdownCtx.Done()
	logger.Info(ctx, "shutting down grading service")

	done := make(chan error, 1)
	go func() {
		done <- mqClient.Stop()
	}()
	timeoutCtx, cancel := context.WithTimeout(ctx, appCfg.Service.ShutdownTimeout)
	defer cancel()
	select {
	case err := <-done:
		if err != nil {
			logger.Warn(ctx, "stop kafka consumer failed", zap.Error(err))
		}
	case <-timeoutCtx.Done():
		logger.Warn(ctx, "kafka consumer did not stop in time")
	}
	return nil
}
