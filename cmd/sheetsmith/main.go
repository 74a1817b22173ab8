package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Chris5934/SheetSmith/internal/config"
	"github.com/Chris5934/SheetSmith/internal/mcpserver"
	"github.com/Chris5934/SheetSmith/internal/server"
)

const version = "0.3.0"

var (
	port        = flag.Int("port", 0, "服务端口 (config.toml 优先；仅当未显式配置 port 时生效)")
	devMode     = flag.Bool("dev", false, "开发模式")
	dataDir     = flag.String("dataDir", "", "数据目录 (覆盖配置文件)")
	workbookDir = flag.String("workbookDir", "", "工作簿目录 (覆盖配置文件)")
	mcpMode     = flag.Bool("mcp", false, "以 MCP stdio 模式运行")
	initConfig  = flag.Bool("init-config", false, "写出默认 config.toml 后退出")
)

func main() {
	flag.Parse()

	// MCP 模式下 stdout 属于协议通道
	out := io.Writer(os.Stdout)
	if *mcpMode {
		out = os.Stderr
	}
	log.SetOutput(os.Stderr)

	fmt.Fprintln(out, "==========================================")
	fmt.Fprintln(out, "  SheetSmith - 表格逻辑坐标与安全批量编辑")
	fmt.Fprintln(out, "==========================================")

	if *initConfig {
		path, err := config.SaveConfig(config.DefaultConfig())
		if err != nil {
			log.Fatalf("写出默认配置失败: %v", err)
		}
		fmt.Fprintf(out, "已写出默认配置: %s\n", path)
		return
	}

	// 加载配置
	cfg, info, err := config.LoadConfigWithInfo()
	if err != nil {
		log.Printf("加载配置失败，使用默认配置: %v", err)
		cfg = config.DefaultConfig()
		info = config.LoadConfigInfo{}
	} else if info.Path != "" {
		fmt.Fprintf(out, "配置文件: %s\n", info.Path)
	}

	// 命令行参数覆盖配置
	if *port > 0 && !info.PortSpecified {
		cfg.Server.Port = *port
	}
	if *devMode {
		cfg.Server.DevMode = true
	}
	if *dataDir != "" {
		cfg.Data.DataDir = *dataDir
	}
	if *workbookDir != "" {
		cfg.Data.WorkbookDir = *workbookDir
	}

	// 确保数据目录存在
	dir, err := config.EnsureDataDir(cfg)
	if err != nil {
		log.Fatalf("创建数据目录失败: %v", err)
	}
	fmt.Fprintf(out, "数据目录: %s\n", dir)
	fmt.Fprintf(out, "工作簿目录: %s\n", config.WorkbookDir(cfg))

	logger := server.NewLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	app, err := server.NewApp(cfg, logger)
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	defer app.Close()

	if *mcpMode {
		srv := mcpserver.NewServer("sheetsmith", version, app.Resolver, app.Pipeline, logger)
		if err := srv.ServeStdio(); err != nil {
			logger.Error("mcp server stopped", "error", err)
		}
		return
	}

	srv := server.NewServer(app)
	addr := fmt.Sprintf(":%d", cfg.Server.Port)

	// 启动服务器
	go func() {
		fmt.Fprintf(out, "服务启动中，监听端口 %d ...\n", cfg.Server.Port)
		if err := srv.Run(addr); err != nil {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	fmt.Fprintf(out, "API: http://localhost:%d/api\n", cfg.Server.Port)
	fmt.Fprintln(out, "\n按 Ctrl+C 停止服务...")

	// 等待信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Fprintln(out, "\n正在关闭服务...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("关闭服务失败: %v", err)
	}
}
