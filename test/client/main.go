package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"scope-collector/internal/parser"
	"scope-collector/internal/transport"
	"scope-collector/pkg/protocol"
)

func main() {
	address := flag.String("address", "tcp://127.0.0.1:5025", "仪器连接串")
	queries := flag.String("query", "*IDN?,tdiv?,sara?", "逗号分隔的查询指令")
	channel := flag.Int("channel", 0, "读取该通道的原始波形帧 (0=不读取)")
	timeout := flag.Duration("timeout", time.Second, "超时时间")
	flag.Parse()

	quiet := logrus.New()
	quiet.SetLevel(logrus.WarnLevel)

	c, err := transport.Dial(context.Background(), *address, transport.Options{Timeout: *timeout, Log: quiet})
	if err != nil {
		log.Fatalf("连接失败: %v", err)
	}
	defer c.Close()

	fmt.Printf("已连接到: %s\n", *address)

	if err := c.Send(protocol.CmdHeaderOff); err != nil {
		log.Fatalf("发送失败: %v", err)
	}

	for _, q := range strings.Split(*queries, ",") {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		resp, err := c.Query(q)
		if err != nil {
			fmt.Printf("%-12s -> (无应答) %v\n", q, err)
			continue
		}
		fmt.Printf("%-12s -> %s\n", q, resp)
	}

	if *channel < 1 || *channel > protocol.ChannelCount {
		return
	}

	if err := c.Send(protocol.WaveformCmd(*channel)); err != nil {
		log.Fatalf("发送失败: %v", err)
	}
	frame, err := parser.ReadFrame(c)
	if err != nil {
		log.Fatalf("读取波形帧失败: %v", err)
	}

	fmt.Printf("帧头: %q\n", frame.Header)
	fmt.Printf("长度: %d\n", frame.Length)
	fmt.Printf("结尾: % x\n", frame.Trailer)
	n := len(frame.Payload)
	if n > 32 {
		n = 32
	}
	fmt.Printf("前 %d 个样本: % x\n", n, frame.Payload[:n])
}
