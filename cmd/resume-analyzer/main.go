package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	"github.com/spf13/pflag"

	"resume-analyzer-go/internal/agent"
	"resume-analyzer-go/internal/api/handler"
	"resume-analyzer-go/internal/api/router"
	"resume-analyzer-go/internal/config"
	appLogger "resume-analyzer-go/internal/logger"
	"resume-analyzer-go/internal/outbox"
	"resume-analyzer-go/internal/parser"
	"resume-analyzer-go/internal/processor"
	"resume-analyzer-go/internal/ratelimit"
	"resume-analyzer-go/internal/storage"
	"resume-analyzer-go/internal/validator"
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "config.yaml", "Path to config file")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("加载配置失败")
	}

	appLogger.Init(appLogger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})
	glog.SetLogger(hertzadapter.From(appLogger.Logger))
	appLogger.Info().Str("config", configPath).Msg("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("初始化存储失败")
	}
	defer storageManager.Close()
	if storageManager.MySQL == nil || storageManager.MinIO == nil || storageManager.RabbitMQ == nil || storageManager.Redis == nil {
		appLogger.Fatal().Msg("存储组件不完整，无法启动分析服务")
	}
	appLogger.Info().Msg("存储服务初始化成功")

	// 发件箱中继将分析终结事件发往下游
	messageRelay := outbox.NewMessageRelay(storageManager.MySQL.DB(), storageManager.RabbitMQ, &cfg.Outbox)
	messageRelay.Start()

	// LLM调用链: Qwen模型 -> 令牌桶限流 -> 带重试的调用器
	chatModel, err := agent.NewQwenChatModel(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.APIURL,
		agent.WithGenerationParams(cfg.LLM.Temperature, cfg.LLM.MaxTokens),
	)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("初始化Qwen模型失败")
	}

	limiter := ratelimit.NewTokenBucket(cfg.LLM.QPM, cfg.LLM.QPM)
	invoker := parser.NewAnalysisInvoker(
		chatModel,
		parser.WithRetryPolicy(cfg.LLM.MaxRetries, time.Duration(cfg.LLM.RetryWaitSeconds)*time.Second),
		parser.WithCallTimeout(time.Duration(cfg.LLM.TimeoutSeconds)*time.Second),
		parser.WithLimiter(limiter),
	)

	orchestrator, err := processor.NewAnalysisOrchestrator(
		processor.Components{
			Documents: storageManager.MySQL,
			Files:     storageManager.MinIO,
			JobCache:  storageManager.Redis,
			Extractor: parser.NewDefaultExtractor(),
			Prompts:   parser.NewPromptBuilder(),
			Invoker:   invoker,
			Scrubber:  parser.NewPIIScrubber(),
		},
		processor.Settings{
			CompletedExchange:   cfg.RabbitMQ.CompletedExchange,
			CompletedRoutingKey: cfg.RabbitMQ.CompletedRoutingKey,
		},
	)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("初始化分析编排器失败")
	}
	appLogger.Info().Msg("分析编排器初始化成功")

	fileValidator := validator.NewFileValidator(cfg.Validator.MinFileSizeBytes, cfg.Validator.MaxFileSizeBytes)
	resumeHandler := handler.NewResumeHandler(cfg, storageManager, orchestrator, fileValidator)

	if err := resumeHandler.StartAnalysisConsumer(ctx); err != nil {
		appLogger.Fatal().Err(err).Msg("启动分析消费者失败")
	}

	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
	)
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		glog.CtxInfof(c, "Request: %s %s", string(ctx.Method()), string(ctx.Path()))
		ctx.Next(c)
		glog.CtxInfof(c, "Response: status %d", ctx.Response.StatusCode())
	})
	router.RegisterRoutes(h, resumeHandler)

	go func() {
		appLogger.Info().Str("address", cfg.Server.Address).Msg("HTTP服务器启动")
		if err := h.Run(); err != nil {
			appLogger.Fatal().Err(err).Msg("启动HTTP服务器失败")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info().Msg("接收到终止信号，正在优雅退出")

	messageRelay.Stop()
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		appLogger.Error().Err(err).Msg("服务器关闭失败")
	}
	appLogger.Info().Msg("优雅退出完成")
}
