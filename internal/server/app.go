package server

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/Chris5934/SheetSmith/internal/audit"
	"github.com/Chris5934/SheetSmith/internal/config"
	"github.com/Chris5934/SheetSmith/internal/mapping"
	"github.com/Chris5934/SheetSmith/internal/ops"
	"github.com/Chris5934/SheetSmith/internal/safety"
	"github.com/Chris5934/SheetSmith/internal/sheet"
	"github.com/Chris5934/SheetSmith/internal/store"
)

// App 组装好的核心组件，HTTP 与 MCP 入口共用
type App struct {
	Config   *config.AppConfig
	Store    *store.Store
	Client   sheet.Client
	Resolver *mapping.Resolver
	Pipeline *ops.Pipeline
	Logger   *slog.Logger

	workbooks *sheet.XLSXClient
}

// NewLogger 按配置创建结构化日志
func NewLogger(cfg *config.AppConfig, w io.Writer) *slog.Logger {
	level, err := cfg.LogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewApp 打开数据库与工作簿目录并组装组件
func NewApp(cfg *config.AppConfig, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.New(config.DBPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	workbooks := sheet.NewXLSXClient(config.WorkbookDir(cfg))
	client := sheet.NewThrottled(workbooks, cfg.Store.ReadsPerSecond, cfg.Store.Burst)
	app := Assemble(cfg, st, client, logger)
	app.workbooks = workbooks
	return app, nil
}

// Assemble 用给定的存储与表格客户端组装组件
func Assemble(cfg *config.AppConfig, st *store.Store, client sheet.Client, logger *slog.Logger) *App {
	coord := mapping.NewCoordinator(st, cfg.Mapping.DisambiguationTTL.Duration, mapping.WithLogger(logger))
	resolver := mapping.NewResolver(st, client, coord, cfg.MappingOptions(), logger)
	analyzer := safety.NewAnalyzer(cfg.SafetyLimits(), cfg.Safety.Risk, cfg.Safety.PerCellCost.Duration)
	trail := audit.NewTrail(st, logger)
	pipeline := ops.NewPipeline(resolver, client, analyzer, trail,
		ops.WithTTL(cfg.Preview.TTL.Duration),
		ops.WithTombstoneRetention(cfg.Preview.TombstoneRetention.Duration),
		ops.WithLogger(logger),
	)

	return &App{
		Config:   cfg,
		Store:    st,
		Client:   client,
		Resolver: resolver,
		Pipeline: pipeline,
		Logger:   logger,
	}
}

// Close 关闭缓存的工作簿与数据库
func (a *App) Close() error {
	if a.workbooks != nil {
		if err := a.workbooks.Close(); err != nil {
			a.Logger.Warn("failed to close workbooks", "error", err)
		}
	}
	return a.Store.Close()
}
