package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/inkwell-cms/inkwell-backend/internal/broadcast"
	"github.com/inkwell-cms/inkwell-backend/internal/collab"
	"github.com/inkwell-cms/inkwell-backend/internal/config"
	"github.com/inkwell-cms/inkwell-backend/internal/handler"
	"github.com/inkwell-cms/inkwell-backend/internal/middleware"
	"github.com/inkwell-cms/inkwell-backend/internal/repository"
	"github.com/inkwell-cms/inkwell-backend/internal/routes"
	"github.com/inkwell-cms/inkwell-backend/internal/service"
	"github.com/inkwell-cms/inkwell-backend/internal/session"
	"github.com/inkwell-cms/inkwell-backend/pkg/cache"
	pkgjwt "github.com/inkwell-cms/inkwell-backend/pkg/jwt"
	pkglogger "github.com/inkwell-cms/inkwell-backend/pkg/logger"
	pkgredis "github.com/inkwell-cms/inkwell-backend/pkg/redis"
)

// getConfigPath returns config file path based on APP_ENV environment variable
func getConfigPath() string {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf("configs/config.%s.yaml", env)
}

func main() {
	dotenvFiles := config.LoadDotEnv()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}
	pkglogger.Init(env)
	zlog := pkglogger.GetLogger()
	zlog.Info().Str("env", env).Strs("dotenv", dotenvFiles).Msg("starting")

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", configPath, err)
	}

	db, err := initDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	zlog.Info().Str("host", cfg.DB.Host).Msg("connected to MySQL")

	redisClient, err := pkgredis.NewClient(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Redis.PoolSize,
	)
	if err != nil {
		zlog.Warn().Err(err).Msg("redis unavailable, running single-instance")
		redisClient = nil
	}

	docRepo := repository.NewDocumentRepository(db)
	versionRepo := repository.NewVersionRepository(db)
	availabilityRepo := repository.NewAvailabilityRepository(db)

	cacheService := cache.NewService(redisClient)
	docService := service.NewDocumentService(docRepo, versionRepo, availabilityRepo, cacheService)

	hub := broadcast.NewHub(redisClient, *zlog, cfg.Editor.BroadcastQueueSize)
	go hub.Run()
	defer hub.Stop()

	registry := session.NewRegistry(session.SystemClock())
	coordinator := collab.NewCoordinator(registry, hub, docService, cfg.Editor, *zlog)

	jwtManager := pkgjwt.NewManager(cfg.JWT.Secret)

	documentHandler := handler.NewDocumentHandler(docService, hub)
	presenceHandler := handler.NewPresenceHandler(coordinator)
	editHandler := handler.NewEditHandler(coordinator, cfg.Server.AllowedOrigins)

	if env != "local" && env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.Metrics())
	r.Use(cors.New(corsConfig(cfg)))

	routes.Register(r, jwtManager, documentHandler, presenceHandler, editHandler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	zlog.Info().Str("addr", addr).Msg("listening")
	if err := r.Run(addr); err != nil {
		log.Fatalf("Server exited: %v", err)
	}
}

func initDB(cfg *config.Config) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}
	db, err := gorm.Open(mysql.Open(cfg.DB.DSN()), gormConfig)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

func corsConfig(cfg *config.Config) cors.Config {
	corsCfg := cors.DefaultConfig()
	if cfg.Server.AllowedOrigins == "" {
		corsCfg.AllowAllOrigins = true
	} else {
		var origins []string
		for _, o := range strings.Split(cfg.Server.AllowedOrigins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
		corsCfg.AllowOrigins = origins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "X-Request-ID")
	return corsCfg
}
