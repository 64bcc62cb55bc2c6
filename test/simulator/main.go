package main

import (
	"context"
	"flag"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"scope-collector/internal/simulator"
	"scope-collector/pkg/protocol"
)

func main() {
	listen := flag.String("listen", "127.0.0.1:5025", "监听地址")
	samples := flag.Int("samples", 1000, "每通道样本数")
	polls := flag.Int("polls", 2, "完成前返回未完成状态的次数")
	malformed := flag.Int("malformed", 0, "长度字段损坏的通道 (0=无)")
	byteDelay := flag.Duration("byte-delay", 0, "波形数据逐字节发送的间隔 (0=一次发送)")
	verbose := flag.Bool("verbose", false, "输出调试日志")
	flag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	script := simulator.DefaultScript()
	script.Status = nil
	for i := 0; i < *polls; i++ {
		script.Status = append(script.Status, "4096")
	}
	script.Status = append(script.Status, "8193")

	for i := 0; i < protocol.ChannelCount; i++ {
		script.Frames[i] = simulator.BuildFrame(simulator.SineSamples(*samples, 100, 2, float64(i)*math.Pi/2))
	}
	if *malformed >= 1 && *malformed <= protocol.ChannelCount {
		frame := script.Frames[*malformed-1]
		script.Frames[*malformed-1] = append([]byte("DAT2,#9?????????"), frame[16:]...)
	}
	script.ByteDelay = *byteDelay

	srv := simulator.NewServer(script, 4, log)
	if err := srv.Start(*listen); err != nil {
		log.Fatalf("启动失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	srv.Close()
	os.Exit(0)
}
