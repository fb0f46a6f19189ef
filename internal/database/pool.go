// Package database 提供 PostgreSQL 连接池与 schema 迁移。
//
// 使用 pgxpool 直接管理连接，裸写 SQL (不使用 ORM)。
package database

import (
	"context"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/multi-agent/genruntime/internal/config"
	apperrors "github.com/multi-agent/genruntime/pkg/errors"
	"github.com/multi-agent/genruntime/pkg/logger"
)

// NewPool 创建 PostgreSQL 连接池并 ping 校验。
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, apperrors.WrapCode(err, "database.NewPool", apperrors.CodeDB, "create pool")
	}

	pingCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.PostgresPoolTimeoutSec)*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, apperrors.WrapCode(err, "database.NewPool", apperrors.CodeDB, "ping postgres")
	}

	logger.Info("postgres pool created",
		"min_conns", poolCfg.MinConns,
		"max_conns", poolCfg.MaxConns,
		"schema", cfg.PostgresSchema,
	)
	return pool, nil
}

// poolConfig 把 Config 映射为 pgxpool.Config (不建立连接)。
func poolConfig(cfg *config.Config) (*pgxpool.Config, error) {
	if cfg == nil || cfg.PostgresConnStr == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "database.NewPool", "POSTGRES_CONNECTION_STRING is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnStr)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "database.NewPool", "parse postgres config: "+err.Error())
	}

	// 0 表示沿用 pgxpool 默认值
	if cfg.PostgresPoolMinSize > 0 {
		poolCfg.MinConns = safeInt32(cfg.PostgresPoolMinSize, "PostgresPoolMinSize")
	}
	if cfg.PostgresPoolMaxSize > 0 {
		poolCfg.MaxConns = safeInt32(cfg.PostgresPoolMaxSize, "PostgresPoolMaxSize")
	}
	if poolCfg.MaxConns < poolCfg.MinConns {
		poolCfg.MaxConns = poolCfg.MinConns
	}

	// AfterConnect: 设置 search_path (使用 quote_ident 防止 SQL 注入)
	schema := cfg.PostgresSchema
	if schema != "" && schema != "public" {
		poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}

	return poolCfg, nil
}

// safeInt32 将 int 安全转为 int32，超出范围时 clamp 并记录警告。
func safeInt32(v int, name string) int32 {
	if v > math.MaxInt32 {
		logger.Warn("pool config overflow, clamped to MaxInt32", "field", name, "value", v)
		return math.MaxInt32
	}
	if v < 0 {
		logger.Warn("pool config negative, clamped to 0", "field", name, "value", v)
		return 0
	}
	return int32(v)
}
