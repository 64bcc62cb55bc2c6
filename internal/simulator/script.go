// Package simulator 模拟示波器的指令端口，用于端到端测试和台架联调。
package simulator

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"scope-collector/pkg/protocol"
)

// Script 仿真仪器的应答脚本。空字符串或 nil 表示该指令不应答。
type Script struct {
	Identity        string
	TimePerDivision string
	SampleRate      string
	Scales          [protocol.ChannelCount]string
	Offsets         [protocol.ChannelCount]string

	// Status 依次返回的 INR 值，用完后重复最后一个；每次 ARM 从头开始
	Status []string

	// Frames 每个通道的完整原始波形帧
	Frames [protocol.ChannelCount][]byte

	// ByteDelay 大于 0 时帧头之后的数据逐字节发送，模拟慢速链路
	ByteDelay time.Duration
}

// BuildFrame 按仪器格式组帧：7 字节帧头、9 字节长度、样本、2 字节结尾
func BuildFrame(samples []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("DAT2,#9")
	fmt.Fprintf(&buf, "%09d", len(samples))
	buf.Write(samples)
	buf.WriteString("\n\n")
	return buf.Bytes()
}

// SineSamples 生成 n 个正弦样本，幅度以码值计，cycles 为周期数
func SineSamples(n int, amplitude float64, cycles float64, phase float64) []byte {
	out := make([]byte, n)
	for i := range out {
		v := amplitude * math.Sin(2*math.Pi*cycles*float64(i)/float64(n)+phase)
		out[i] = byte(int8(math.Round(v)))
	}
	return out
}

// DefaultScript 四通道相位各差 90° 的正弦波，两次轮询后完成
func DefaultScript() Script {
	s := Script{
		Identity:        "Siglent Technologies,SDS1104X-E,SDSMMEBX5R0001,8.2.6.1.37R9",
		TimePerDivision: "5.00E-04S",
		SampleRate:      "5.00E+05Sa/s",
		Status:          []string{"4096", "4096", "8193"},
	}
	for i := 0; i < protocol.ChannelCount; i++ {
		s.Scales[i] = "1.00E+00V"
		s.Offsets[i] = "0.00E+00V"
		s.Frames[i] = BuildFrame(SineSamples(1000, 100, 2, float64(i)*math.Pi/2))
	}
	return s
}
