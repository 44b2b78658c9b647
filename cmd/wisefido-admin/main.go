package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wisefido-admin/internal/config"
	"wisefido-admin/internal/database"
	httpapi "wisefido-admin/internal/http"
	"wisefido-admin/internal/logger"
	"wisefido-admin/internal/repository"
	"wisefido-admin/internal/service"
	"wisefido-admin/internal/store"

	"wisefido-admin/internal/domain"
)

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-admin")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// 权限缓存：redis 可用时用 redis，否则退化为进程内缓存
	var kv store.KV = store.NewMemoryKV()
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err == nil {
			kv = store.NewRedisKV(redisClient)
		} else {
			log.Warn("redis unavailable, falling back to in-process permission cache", zap.Error(err))
		}
	}

	// Repositories：DB 可用走 postgres，否则内存 repo 支持联测
	var db *sql.DB
	var roles repository.RolesRepository
	var perms repository.PermissionsRepository
	var holders repository.HolderRegistry
	if cfg.DBEnabled {
		if d, err := database.NewPostgresDB(&cfg.Database); err == nil {
			db = d
			log.Info("DB enabled for wisefido-admin")
		} else {
			log.Warn("DB enabled but connection failed, falling back to memory repos", zap.Error(err))
		}
	}
	if db != nil {
		roles = repository.NewPostgresRolesRepository(db)
		perms = repository.NewPostgresPermissionsRepository(db)
		holders = repository.NewPostgresHolderRegistry(db)
	} else {
		roles = repository.NewMemoryRolesRepo()
		perms = repository.NewMemoryPermissionsRepo()
		holders = repository.NewMemoryHolderRegistry()
	}

	cache := service.NewPermCache(kv, cfg.RoleCacheTTL, log)
	hierarchy := service.NewHierarchyService(roles, holders, cache, log)
	resolver := service.NewPermissionService(roles, perms, hierarchy, cache, log)
	scope := service.NewAccessScopeService(roles, perms, hierarchy, resolver, cache, log)
	export := service.NewRoleExportService(roles, perms, resolver, log)

	// Dev bootstrap: 平台分区必须有一个可用的 SystemAdmin 根角色
	if os.Getenv("SEED_SYSTEM_ROLES") != "false" {
		seedSystemRoles(hierarchy, roles, log)
	}

	router := httpapi.NewRouter(log)
	router.RegisterRoleRoutes(httpapi.NewRolesHandler(hierarchy, resolver, scope, export, log))

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server exited", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if db != nil {
		_ = db.Close()
	}
}

// seedSystemRoles 确保平台分区存在 SystemAdmin 根角色（幂等）
func seedSystemRoles(hierarchy *service.HierarchyService, roles repository.RolesRepository, log *zap.Logger) {
	ctx := context.Background()
	part := domain.PlatformPartition()

	existing, err := roles.GetRoleByCode(ctx, part, "SystemAdmin")
	if err != nil {
		log.Warn("seed: failed to check SystemAdmin role", zap.Error(err))
		return
	}
	if existing != nil {
		return
	}
	if _, err := hierarchy.CreateRole(ctx, part, service.CreateRoleRequest{
		RoleCode:    "SystemAdmin",
		RoleName:    "System Administrator",
		Description: "Platform root role",
		IsSystem:    true,
	}); err != nil {
		log.Warn("seed: failed to create SystemAdmin role", zap.Error(err))
	}
}
