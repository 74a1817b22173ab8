package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/Chris5934/SheetSmith/internal/mapping"
	"github.com/Chris5934/SheetSmith/internal/ops"
	"github.com/Chris5934/SheetSmith/internal/safety"
	"github.com/Chris5934/SheetSmith/internal/sheet"
)

// AppConfig 应用配置
type AppConfig struct {
	Server  ServerConfig  `toml:"server"`
	Data    DataConfig    `toml:"data"`
	Log     LogConfig     `toml:"log"`
	Mapping MappingConfig `toml:"mapping"`
	Safety  SafetyConfig  `toml:"safety"`
	Preview PreviewConfig `toml:"preview"`
	Store   StoreConfig   `toml:"store"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port    int  `toml:"port"`
	DevMode bool `toml:"dev_mode"`
}

// DataConfig 数据配置；相对路径以可执行文件目录为基准
type DataConfig struct {
	DataDir     string `toml:"data_dir"`
	WorkbookDir string `toml:"workbook_dir"`
	DBName      string `toml:"db_name"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text | json
}

// MappingConfig 映射解析配置
type MappingConfig struct {
	DisambiguationTTL Duration `toml:"disambiguation_ttl"`
	MaxScanColumns    int      `toml:"max_scan_columns"`
	MaxScanRows       int      `toml:"max_scan_rows"`
	HeaderSearchRows  int      `toml:"header_search_rows"`
	SampleValues      int      `toml:"sample_values"`
	RowLabelColumn    string   `toml:"row_label_column"`
}

// SafetyConfig 安全限制
type SafetyConfig struct {
	MaxCellsPerOperation     int                   `toml:"max_cells_per_operation"`
	MaxSheetsPerOperation    int                   `toml:"max_sheets_per_operation"`
	MaxFormulaLength         int                   `toml:"max_formula_length"`
	RequirePreviewAboveCells int                   `toml:"require_preview_above_cells"`
	PerCellCost              Duration              `toml:"per_cell_cost"`
	Risk                     safety.RiskThresholds `toml:"risk"`
}

// PreviewConfig 预览配置
type PreviewConfig struct {
	TTL Duration `toml:"ttl"`
	// TombstoneRetention 过期预览仍能报告终态的时长
	TombstoneRetention Duration `toml:"tombstone_retention"`
}

// StoreConfig 表格存储访问限速；reads_per_second <= 0 表示不限速
type StoreConfig struct {
	ReadsPerSecond float64 `toml:"reads_per_second"`
	Burst          int     `toml:"burst"`
}

// Duration 以 "300s"、"24h" 形式书写的时长
type Duration struct {
	time.Duration
}

// UnmarshalText 解析时长文本
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	d.Duration = v
	return nil
}

// MarshalText 输出时长文本
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// LoadConfigInfo 配置加载元信息
type LoadConfigInfo struct {
	PortSpecified bool
	// Path 实际读取的配置文件，未找到时为空
	Path string
}

// DefaultConfig 默认配置
func DefaultConfig() *AppConfig {
	limits := safety.DefaultLimits()
	scan := sheet.DefaultScanLimits()
	return &AppConfig{
		Server: ServerConfig{
			Port:    20262,
			DevMode: false,
		},
		Data: DataConfig{
			DataDir:     "data",
			WorkbookDir: "workbooks",
			DBName:      "sheetsmith.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Mapping: MappingConfig{
			DisambiguationTTL: Duration{mapping.DefaultDisambiguationTTL},
			MaxScanColumns:    scan.MaxColumns,
			MaxScanRows:       scan.MaxRows,
			HeaderSearchRows:  scan.HeaderSearchRows,
			SampleValues:      5,
			RowLabelColumn:    "A",
		},
		Safety: SafetyConfig{
			MaxCellsPerOperation:     limits.MaxCellsPerOperation,
			MaxSheetsPerOperation:    limits.MaxSheetsPerOperation,
			MaxFormulaLength:         limits.MaxFormulaLength,
			RequirePreviewAboveCells: limits.RequirePreviewAboveCells,
			PerCellCost:              Duration{safety.DefaultPerCellCost},
			Risk:                     safety.DefaultRiskThresholds(),
		},
		Preview: PreviewConfig{
			TTL:                Duration{ops.DefaultPreviewTTL},
			TombstoneRetention: Duration{ops.DefaultTombstoneRetention},
		},
		Store: StoreConfig{
			ReadsPerSecond: 0,
			Burst:          10,
		},
	}
}

func isPortSpecifiedInToml(data []byte) bool {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return false
	}

	serverAny, ok := raw["server"]
	if !ok {
		return false
	}

	serverMap, ok := serverAny.(map[string]any)
	if !ok {
		return false
	}

	_, ok = serverMap["port"]
	return ok
}

// GetExeDir 获取可执行文件所在目录
func GetExeDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

func baseDir() string {
	exeDir, err := GetExeDir()
	if err != nil {
		// 无法获取可执行文件目录，使用当前目录
		return "."
	}
	return exeDir
}

// LoadConfigWithInfo 从可执行文件同目录的 .env 与 config.toml 加载配置
func LoadConfigWithInfo() (*AppConfig, LoadConfigInfo, error) {
	dir := baseDir()
	// .env 不覆盖已存在的环境变量
	_ = godotenv.Load(filepath.Join(dir, ".env"))
	return LoadConfigFrom(filepath.Join(dir, "config.toml"))
}

// LoadConfigFrom 从指定路径加载配置；文件不存在时使用默认配置，随后应用环境变量覆盖
func LoadConfigFrom(configPath string) (*AppConfig, LoadConfigInfo, error) {
	info := LoadConfigInfo{}
	config := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		info.Path = configPath
		info.PortSpecified = isPortSpecifiedInToml(data)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, info, fmt.Errorf("failed to parse %s: %w", configPath, err)
		}
	case os.IsNotExist(err):
		// 配置文件不存在，使用默认配置
	default:
		return nil, info, err
	}

	// 环境变量覆盖
	if err := applyEnv(config, &info); err != nil {
		return nil, info, err
	}
	if err := config.Validate(); err != nil {
		return nil, info, err
	}
	return config, info, nil
}

func applyEnv(config *AppConfig, info *LoadConfigInfo) error {
	if v := os.Getenv("SHEETSMITH_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SHEETSMITH_PORT %q: %w", v, err)
		}
		config.Server.Port = port
		info.PortSpecified = true
	}
	if v := os.Getenv("SHEETSMITH_DATA_DIR"); v != "" {
		config.Data.DataDir = v
	}
	if v := os.Getenv("SHEETSMITH_WORKBOOK_DIR"); v != "" {
		config.Data.WorkbookDir = v
	}
	if v := os.Getenv("SHEETSMITH_LOG_LEVEL"); v != "" {
		config.Log.Level = v
	}
	if v := os.Getenv("SHEETSMITH_LOG_FORMAT"); v != "" {
		config.Log.Format = v
	}
	if v := os.Getenv("SHEETSMITH_PREVIEW_TTL"); v != "" {
		if err := config.Preview.TTL.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("invalid SHEETSMITH_PREVIEW_TTL: %w", err)
		}
	}
	if v := os.Getenv("SHEETSMITH_MAX_CELLS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SHEETSMITH_MAX_CELLS %q: %w", v, err)
		}
		config.Safety.MaxCellsPerOperation = n
	}
	return nil
}

// Validate 校验配置取值
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if _, err := sheet.ColumnIndex(c.Mapping.RowLabelColumn); err != nil {
		return fmt.Errorf("invalid mapping.row_label_column %q: %w", c.Mapping.RowLabelColumn, err)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	if c.Preview.TTL.Duration <= 0 {
		return fmt.Errorf("preview ttl must be positive")
	}
	if c.Preview.TombstoneRetention.Duration < c.Preview.TTL.Duration {
		return fmt.Errorf("preview tombstone_retention must not be shorter than ttl")
	}
	if c.Safety.MaxCellsPerOperation <= 0 {
		return fmt.Errorf("safety.max_cells_per_operation must be positive, got %d", c.Safety.MaxCellsPerOperation)
	}
	if c.Safety.MaxSheetsPerOperation <= 0 {
		return fmt.Errorf("safety.max_sheets_per_operation must be positive, got %d", c.Safety.MaxSheetsPerOperation)
	}
	if c.Safety.MaxFormulaLength <= 0 {
		return fmt.Errorf("safety.max_formula_length must be positive, got %d", c.Safety.MaxFormulaLength)
	}
	return nil
}

// LogLevel 日志级别
func (c *AppConfig) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	return level, nil
}

// ScanLimits 表头扫描范围
func (c *AppConfig) ScanLimits() sheet.ScanLimits {
	return sheet.ScanLimits{
		MaxColumns:       c.Mapping.MaxScanColumns,
		MaxRows:          c.Mapping.MaxScanRows,
		HeaderSearchRows: c.Mapping.HeaderSearchRows,
	}.WithDefaults()
}

// MappingOptions 解析器配置
func (c *AppConfig) MappingOptions() mapping.Options {
	col, err := sheet.ColumnIndex(c.Mapping.RowLabelColumn)
	if err != nil {
		col = 0
	}
	return mapping.Options{
		Limits:       c.ScanLimits(),
		LabelColumn:  col,
		SampleValues: c.Mapping.SampleValues,
	}
}

// SafetyLimits 安全限制
func (c *AppConfig) SafetyLimits() safety.Limits {
	return safety.Limits{
		MaxCellsPerOperation:     c.Safety.MaxCellsPerOperation,
		MaxSheetsPerOperation:    c.Safety.MaxSheetsPerOperation,
		MaxFormulaLength:         c.Safety.MaxFormulaLength,
		RequirePreviewAboveCells: c.Safety.RequirePreviewAboveCells,
	}
}

// SaveConfig 保存配置到可执行文件同目录的 config.toml
func SaveConfig(config *AppConfig) (string, error) {
	configPath := filepath.Join(baseDir(), "config.toml")

	data, err := toml.Marshal(config)
	if err != nil {
		return "", err
	}

	return configPath, os.WriteFile(configPath, data, 0644)
}

func resolveDir(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(baseDir(), dir)
}

// EnsureDataDir 确保数据目录与工作簿目录存在，返回数据目录
func EnsureDataDir(config *AppConfig) (string, error) {
	dataDir := resolveDir(config.Data.DataDir)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", err
	}
	if err := os.MkdirAll(WorkbookDir(config), 0755); err != nil {
		return "", err
	}
	return dataDir, nil
}

// WorkbookDir 工作簿目录；相对路径位于数据目录下
func WorkbookDir(config *AppConfig) string {
	if filepath.IsAbs(config.Data.WorkbookDir) {
		return config.Data.WorkbookDir
	}
	return filepath.Join(resolveDir(config.Data.DataDir), config.Data.WorkbookDir)
}

// DBPath 数据库文件路径
func DBPath(config *AppConfig) string {
	return filepath.Join(resolveDir(config.Data.DataDir), config.Data.DBName)
}
