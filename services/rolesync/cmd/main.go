package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rolebridge/pkg/auth"
	"github.com/rolebridge/pkg/config"
	"github.com/rolebridge/pkg/database"
	"github.com/rolebridge/pkg/logger"
	"github.com/rolebridge/pkg/middleware"
	pkgRegistry "github.com/rolebridge/pkg/registry"
	"github.com/rolebridge/services/rolesync/internal/destination"
	"github.com/rolebridge/services/rolesync/internal/handler"
	"github.com/rolebridge/services/rolesync/internal/model"
	"github.com/rolebridge/services/rolesync/internal/rolemap"
	"github.com/rolebridge/services/rolesync/internal/syncer"
	"github.com/rolebridge/services/rolesync/internal/syncevent"
)

const (
	serviceName    = "rolesync-service"
	serviceVersion = "v1.0.0"
)

func main() {
	// 加载配置
	if err := config.Init(os.Getenv("ROLEBRIDGE_CONFIG")); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()

	// 初始化日志
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Fatal("服务运行失败", zap.Error(err))
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.Get()
	nodeID := serviceName + "-" + uuid.NewString()[:8]

	// 初始化数据库
	db, err := database.Open(&cfg.Database, log)
	if err != nil {
		return fmt.Errorf("初始化数据库失败: %w", err)
	}
	defer database.Close(db)

	if err := db.AutoMigrate(model.All()...); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	logger.Info("数据库迁移完成")

	// 初始化Redis
	rdb, err := database.OpenRedis(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("初始化Redis失败: %w", err)
	}
	defer rdb.Close()
	cache := database.NewCache(rdb.Client, cfg.App.Name)

	// 目标应用的权限投影
	var projector destination.Projector = destination.NopProjector{}
	if cfg.Casbin.Enabled {
		enforcer, err := auth.NewEnforcer(db, &cfg.Casbin)
		if err != nil {
			return fmt.Errorf("初始化Casbin失败: %w", err)
		}
		projector = destination.NewPolicyProjector(auth.NewPolicyService(enforcer))
	}

	// 同步事件存储与订阅
	events := syncevent.NewGormStore(db,
		syncevent.WithNotifier(syncevent.NewRedisNotifier(rdb.Client, cfg.Sync.Channel)),
		syncevent.WithLogger(log),
	)
	subscriber := syncevent.NewSubscriber(rdb.Client, events, syncevent.SubscriberConfig{
		Channel:      cfg.Sync.Channel,
		PollInterval: cfg.Sync.PollInterval,
		StaleAfter:   cfg.Sync.ClaimTTL + cfg.Sync.SyncTimeout,
		BatchSize:    cfg.Sync.BatchSize * 10,
		Buffer:       cfg.Sync.QueueCapacity,
	}, log)

	dest := destination.NewGormStore(db, destination.NewResolver(cfg.Sync.ConflictResolution))

	// 队列处理器
	processor := syncer.NewProcessor(events,
		syncevent.NewRedisClaimer(cache, nodeID, cfg.Sync.ClaimTTL),
		syncer.Options{
			NodeID:        nodeID,
			BatchSize:     cfg.Sync.BatchSize,
			RetryAttempts: cfg.Sync.RetryAttempts,
			SyncTimeout:   cfg.Sync.SyncTimeout,
			QueueCapacity: cfg.Sync.QueueCapacity,
		}, log)
	syncer.NewHandlers(dest, projector).Register(processor)

	tiers := syncer.ConfigTiers(cfg.Sync)
	if tiers == nil {
		logger.Warn("未配置组织套餐，使用请求中的套餐等级")
	}

	svc, err := syncer.NewService(syncer.Deps{
		Engine:      rolemap.NewEngine(),
		Events:      events,
		Destination: dest,
		Processor:   processor,
		Listener:    syncer.NewListener(subscriber, processor, log),
		Tiers:       tiers,
	}, cfg.Sync, log)
	if err != nil {
		return fmt.Errorf("初始化同步服务失败: %w", err)
	}
	if err := svc.Start(); err != nil {
		return fmt.Errorf("启动变更监听失败: %w", err)
	}
	defer svc.Stop()

	// HTTP服务
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		ReadTimeout:           time.Duration(cfg.Server.HTTP.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.HTTP.WriteTimeout) * time.Second,
		ErrorHandler:          middleware.ErrorHandler,
		DisableStartupMessage: true,
	})
	app.Use(middleware.Recovery(), middleware.RequestID(), middleware.RequestLog(log), middleware.Cors())

	jwtManager := auth.NewJWTManager(&cfg.JWT)
	handler.NewController(svc).RegisterRoutes(app, middleware.JWTAuth(jwtManager))

	// 服务注册
	addr := cfg.Server.HTTP.Addr()
	reg, err := pkgRegistry.New(cfg.Registry.Mode, cache)
	if err != nil {
		return fmt.Errorf("初始化注册中心失败: %w", err)
	}
	node := pkgRegistry.BuildService(&pkgRegistry.ServiceConfig{
		Name:     serviceName,
		Version:  serviceVersion,
		NodeID:   nodeID,
		Address:  addr,
		LocalApp: string(svc.LocalApp()),
		Routes: []pkgRegistry.RouteConfig{
			pkgRegistry.NewRoute("/health", false, "GET"),
			pkgRegistry.NewRoute("/sync", true),
			pkgRegistry.NewRoute("/roles", true, "GET", "POST"),
		},
	})
	if err := reg.Register(node); err != nil {
		return fmt.Errorf("服务注册失败: %w", err)
	}
	defer func() {
		if err := reg.Deregister(node); err != nil {
			logger.Warn("服务注销失败", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(addr)
	}()

	logger.Info("角色同步服务就绪",
		zap.String("addr", addr),
		zap.String("node", nodeID),
		zap.String("local_app", string(svc.LocalApp())),
		zap.Bool("real_time", svc.RealTimeEnabled()),
		zap.String("registry", reg.String()),
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("角色同步服务正在清理资源...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}
