// Package collector 编排一次完整的采集：连接、标定、布防轮询、读取波形、组装数据并输出。
package collector

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"scope-collector/internal/acquisition"
	"scope-collector/internal/calibration"
	"scope-collector/internal/config"
	"scope-collector/internal/export"
	"scope-collector/internal/monitor"
	"scope-collector/internal/parser"
	"scope-collector/internal/storage"
	"scope-collector/internal/transport"
	"scope-collector/pkg/protocol"
)

type Collector struct {
	cfg      *config.Config
	log      *logrus.Logger
	parser   *parser.Parser
	exporter export.Exporter
	storage  *storage.MessageQueue
	monitor  *monitor.Monitor
}

func NewCollector(cfg *config.Config, log *logrus.Logger) (*Collector, error) {
	exporter, err := export.New(cfg.Output.Format)
	if err != nil {
		return nil, err
	}

	return &Collector{
		cfg:      cfg,
		log:      log,
		parser:   parser.NewParser(log),
		exporter: exporter,
	}, nil
}

// SetStorage 启用 Redis 发布
func (c *Collector) SetStorage(mq *storage.MessageQueue) { c.storage = mq }

// SetMonitor 记录每次采集的摘要
func (c *Collector) SetMonitor(m *monitor.Monitor) { c.monitor = m }

// Run 依次执行 runs 次采集，任一次出现致命错误即停止
func (c *Collector) Run(ctx context.Context, runs int) error {
	for i := 1; i <= runs; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.log.Infof("===== 第 %d/%d 次采集 =====", i, runs)
		if _, err := c.RunOnce(ctx, i); err != nil {
			// 中断期间的链路错误按中断处理
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
	return nil
}

// RunOnce 执行一次采集并把数据集交给各输出。
// 返回 *FatalError 表示本次采集中止；ctx 取消时返回 ctx 的错误。
func (c *Collector) RunOnce(ctx context.Context, index int) (ds *protocol.Dataset, err error) {
	defer func() {
		switch {
		case err == nil:
			monitor.RunsTotal.WithLabelValues("success").Inc()
		case errors.Is(err, context.Canceled):
			monitor.RunsTotal.WithLabelValues("interrupted").Inc()
		default:
			monitor.RunsTotal.WithLabelValues("fatal").Inc()
		}
	}()

	icfg := c.cfg.Instrument
	link, err := transport.Dial(ctx, icfg.Address, transport.Options{
		Timeout:     icfg.Timeout,
		SettleDelay: icfg.SettleDelay,
		KeepAlive:   icfg.KeepAlive,
		BaudRate:    icfg.BaudRate,
		Log:         c.log,
	})
	if err != nil {
		return nil, fatal(StageConnect, err)
	}
	defer link.Close()
	// 中断时关闭链路，阻塞中的读写立即返回
	stop := context.AfterFunc(ctx, func() { link.Close() })
	defer stop()

	idn, err := link.Query(protocol.CmdIdentify)
	if err != nil {
		return nil, fatal(StageIdentify, err)
	}
	c.log.Info(idn)

	if err := link.Send(protocol.CmdHeaderOff); err != nil {
		return nil, fatal(StageHeader, err)
	}

	cal, fallbacks, err := calibration.NewReader(link, c.log).Read()
	if err != nil {
		return nil, fatal(StageCalibration, err)
	}
	if len(fallbacks) > 0 && c.cfg.Acquisition.StrictCalibration {
		errs := make([]error, len(fallbacks))
		for i, fb := range fallbacks {
			errs[i] = fb
		}
		return nil, fatal(StageCalibration, errors.Join(errs...))
	}

	acfg := c.cfg.Acquisition
	ctrl := acquisition.NewController(link, acquisition.Options{
		PollInterval: acfg.PollInterval,
		Backoff:      acfg.PollBackoff,
		MaxRetries:   acfg.MaxRetries,
	}, c.log)

	start := time.Now()
	if _, err := ctrl.Acquire(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fatal(StageAcquire, err)
	}

	results := make([]protocol.ChannelResult, 0, protocol.ChannelCount)
	for ch := 1; ch <= protocol.ChannelCount; ch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results = append(results, c.parser.FetchChannel(link, ch, cal.Channel(ch)))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ds = Assemble(*cal, results)
	ds.TransferTime = time.Since(start)
	ds.RunID = uuid.New()
	ds.RunIndex = index
	ds.Instrument = instrumentModel(idn)
	ds.AcquiredAt = time.Now()

	for _, f := range ds.Failed {
		monitor.ChannelFailures.WithLabelValues(strconv.Itoa(f.Channel)).Inc()
		c.log.Warnf("通道 %d 已剔除: %s", f.Channel, f.Reason)
	}
	if len(ds.Channels) == 0 {
		c.log.Warn("没有成功读取的通道")
	}

	monitor.TransferDuration.Observe(ds.TransferTime.Seconds())
	c.log.Infof("数据传输总耗时: %.2f 秒", ds.TransferTime.Seconds())

	c.deliver(ctx, ds)
	return ds, nil
}

// deliver 把数据集交给各输出，输出失败只记录不中止
func (c *Collector) deliver(ctx context.Context, ds *protocol.Dataset) {
	summary := ds.Summarize()

	path, err := export.WriteFile(c.exporter, c.cfg.Output.Dir, c.cfg.Output.Prefix, ds)
	if err != nil {
		monitor.SinkErrors.WithLabelValues("file").Inc()
		c.log.Errorf("保存数据失败: %v", err)
	} else {
		summary.Output = path
		c.log.Infof("数据已保存到 %s", path)
	}

	if c.storage != nil {
		if err := c.storage.Publish(ctx, ds); err != nil {
			monitor.SinkErrors.WithLabelValues("redis").Inc()
			c.log.Errorf("发布数据集失败: %v", err)
		}
		if err := c.storage.PublishChannels(ctx, ds); err != nil {
			monitor.SinkErrors.WithLabelValues("redis").Inc()
			c.log.Errorf("发布通道数据失败: %v", err)
		}
	}

	if c.monitor != nil {
		c.monitor.Record(summary)
	}
}

// instrumentModel 从 *IDN? 应答中取型号，例如
// "Siglent Technologies,SDS1104X-E,SDSMMEBX5R0001,8.2.6.1.37R9" -> "SDS1104X-E"
func instrumentModel(idn string) string {
	parts := strings.Split(idn, ",")
	if len(parts) >= 2 && strings.TrimSpace(parts[1]) != "" {
		return strings.TrimSpace(parts[1])
	}
	return strings.TrimSpace(idn)
}
