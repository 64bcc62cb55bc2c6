package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Instrument  InstrumentConfig  `yaml:"instrument"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Output      OutputConfig      `yaml:"output"`
	Redis       RedisConfig       `yaml:"redis"`
	Log         LogConfig         `yaml:"log"`
	Monitor     MonitorConfig     `yaml:"monitor"`
}

type InstrumentConfig struct {
	// Address 连接串：tcp://host:port、host:port 或串口设备路径
	Address     string        `yaml:"address"`
	Timeout     time.Duration `yaml:"timeout"`
	SettleDelay time.Duration `yaml:"settle_delay"`
	KeepAlive   time.Duration `yaml:"keep_alive"`
	BaudRate    int           `yaml:"baud_rate"`
}

type AcquisitionConfig struct {
	Runs              int           `yaml:"runs"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	PollBackoff       time.Duration `yaml:"poll_backoff"`
	MaxRetries        int           `yaml:"max_retries"`
	StrictCalibration bool          `yaml:"strict_calibration"`
}

type OutputConfig struct {
	Dir    string `yaml:"dir"`
	Prefix string `yaml:"prefix"`
	// Format xlsx | csv | sr
	Format string `yaml:"format"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Channel  string `yaml:"channel"`
	// HistoryLimit 每台仪器保留的历史记录条数
	HistoryLimit int64 `yaml:"history_limit"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitorConfig struct {
	Enabled     bool `yaml:"enabled"`
	MetricsPort int  `yaml:"metrics_port"`
}

// LoadConfig 加载配置文件，未填写的字段取默认值。
// 不做取值检查，命令行覆盖之后由调用方执行 Validate。
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := GetDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return config, nil
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	if c.Instrument.Address == "" {
		return fmt.Errorf("instrument.address 不能为空")
	}
	if c.Instrument.Timeout <= 0 {
		return fmt.Errorf("instrument.timeout 必须大于0: %v", c.Instrument.Timeout)
	}
	if c.Acquisition.Runs < 1 {
		return fmt.Errorf("acquisition.runs 必须大于0: %d", c.Acquisition.Runs)
	}
	if c.Acquisition.MaxRetries < 0 {
		return fmt.Errorf("acquisition.max_retries 不能为负: %d", c.Acquisition.MaxRetries)
	}
	switch c.Output.Format {
	case "xlsx", "csv", "sr":
	default:
		return fmt.Errorf("不支持的输出格式: %q", c.Output.Format)
	}
	return nil
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Instrument: InstrumentConfig{
			Address:     "tcp://169.254.144.94:5025",
			Timeout:     time.Second,
			SettleDelay: 100 * time.Millisecond,
			KeepAlive:   30 * time.Second,
			BaudRate:    115200,
		},
		Acquisition: AcquisitionConfig{
			Runs:         10,
			PollInterval: 100 * time.Millisecond,
			PollBackoff:  500 * time.Millisecond,
			MaxRetries:   60,
		},
		Output: OutputConfig{
			Dir:    ".",
			Prefix: "channel_data",
			Format: "xlsx",
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			Password:     "",
			DB:           0,
			PoolSize:     10,
			Channel:      "scope_waveforms",
			HistoryLimit: 100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Monitor: MonitorConfig{
			Enabled:     false,
			MetricsPort: 9090,
		},
	}
}
