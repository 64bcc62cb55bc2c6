package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"scope-collector/internal/collector"
	"scope-collector/internal/config"
	"scope-collector/internal/monitor"
	"scope-collector/internal/storage"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
)

var (
	configFile string
	runs       int
	address    string
	outputDir  string
	format     string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "collector",
	Short: "示波器多通道波形采集",
	Long: `连接示波器，布防并等待采集完成，读取 4 个通道的原始波形，
换算为电压与时间后保存为表格文件，可选发布到 Redis。`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Scope Collector v%s (Build: %s)\n", Version, BuildTime)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "configs/config.yaml", "配置文件路径")
	rootCmd.Flags().IntVarP(&runs, "runs", "n", 10, "采集次数")
	rootCmd.Flags().StringVarP(&address, "address", "a", "", "仪器连接串, 例如 tcp://169.254.144.94:5025 或 /dev/ttyUSB0")
	rootCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "输出目录")
	rootCmd.Flags().StringVarP(&format, "format", "f", "", "输出格式 (xlsx, csv, sr)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "输出调试日志")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return execute(ctx, cmd)
}

// execute 加载配置并执行采集，ctx 取消视为用户终止，返回 nil
func execute(ctx context.Context, cmd *cobra.Command) error {
	// 加载配置
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		cfg = config.GetDefaultConfig()
		fmt.Println("使用默认配置")
	}

	// 命令行参数覆盖配置
	flags := cmd.Flags()
	if flags.Changed("runs") {
		cfg.Acquisition.Runs = runs
	}
	if flags.Changed("address") {
		cfg.Instrument.Address = address
	}
	if flags.Changed("output-dir") {
		cfg.Output.Dir = outputDir
	}
	if flags.Changed("format") {
		cfg.Output.Format = format
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// 初始化日志
	log := setupLogger(cfg.Log)
	log.Infof("Scope Collector v%s 启动中...", Version)
	log.Infof("配置文件: %s, 仪器: %s", configFile, cfg.Instrument.Address)

	c, err := collector.NewCollector(cfg, log)
	if err != nil {
		return err
	}

	if cfg.Redis.Enabled {
		mq, err := storage.NewMessageQueue(ctx, cfg.Redis, log)
		if err != nil {
			return err
		}
		defer mq.Close()
		c.SetStorage(mq)
	}

	if cfg.Monitor.Enabled {
		mon := monitor.NewMonitor(log, Version)
		srv := mon.StartMetricsServer(cfg.Monitor.MetricsPort)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		c.SetMonitor(mon)
	}

	err = c.Run(ctx, cfg.Acquisition.Runs)
	if errors.Is(err, context.Canceled) {
		fmt.Println("\n程序被用户终止")
		return nil
	}
	if err != nil {
		log.Errorf("采集中止: %v", err)
		return err
	}

	log.Infof("全部 %d 次采集完成", cfg.Acquisition.Runs)
	return nil
}

func setupLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()

	// 设置日志级别
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	// 设置日志格式
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	// 设置输出
	if cfg.Output == "file" && cfg.FilePath != "" {
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			log.SetOutput(file)
		} else {
			log.Warnf("打开日志文件失败: %v, 使用标准输出", err)
		}
	}

	return log
}
