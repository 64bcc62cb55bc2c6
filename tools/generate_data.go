package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"math/rand"
	"strings"

	"scope-collector/internal/parser"
	"scope-collector/internal/simulator"
	"scope-collector/pkg/protocol"
)

func main() {
	samples := flag.Int("samples", 16, "样本数")
	shape := flag.String("shape", "sine", "波形 (sine, ramp, random)")
	scale := flag.Float64("vdiv", 1.0, "垂直档位 (V/div)")
	offset := flag.Float64("ofst", 0.0, "垂直偏移 (V)")
	tdiv := flag.Float64("tdiv", 0.0005, "时基 (s/div)")
	sara := flag.Float64("sara", 500000, "采样率 (Sa/s)")
	count := flag.Int("count", 1, "生成数量")
	flag.Parse()

	cal := protocol.ChannelCalibration{VerticalScale: *scale, VerticalOffset: *offset}

	for i := 0; i < *count; i++ {
		var payload []byte
		switch *shape {
		case "ramp":
			payload = rampSamples(*samples)
		case "random":
			payload = randomSamples(*samples)
		default:
			payload = simulator.SineSamples(*samples, 100, 1, 0)
		}
		frame := simulator.BuildFrame(payload)

		fmt.Printf("波形帧 %d:\n", i+1)
		fmt.Printf("  十六进制: %s\n", hex.EncodeToString(frame))
		fmt.Printf("  字节数组: % x\n", frame)
		fmt.Printf("  Go格式:   []byte{%s}\n", toGoArray(frame))
		parseAndDisplay(frame, cal, *tdiv, *sara)
		fmt.Println()
	}
}

func rampSamples(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i)
	}
	return out
}

func randomSamples(n int) []byte {
	out := make([]byte, n)
	rand.Read(out)
	return out
}

// parseAndDisplay 解析帧并显示换算结果
func parseAndDisplay(data []byte, cal protocol.ChannelCalibration, tdiv, sara float64) {
	frame, err := parser.ParseFrame(data)
	if err != nil {
		fmt.Printf("  错误: %v\n", err)
		return
	}

	volts := parser.Decode(frame.Payload, cal)
	times := parser.TimeAxis(tdiv, sara, len(volts))

	fmt.Printf("  解析结果:\n")
	fmt.Printf("    帧头:   %q\n", frame.Header)
	fmt.Printf("    长度:   %d\n", frame.Length)
	fmt.Printf("    结尾:   % x\n", frame.Trailer)
	fmt.Printf("    %-14s %-8s %s\n", protocol.TimeLabel, "码值", "电压 (V)")
	for i, v := range volts {
		fmt.Printf("    %-14.6e %-8d %.4f\n", times[i], parser.SignedSample(frame.Payload[i]), v)
	}
}

func toGoArray(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("0x%02X", b)
	}
	return strings.Join(parts, ", ")
}
