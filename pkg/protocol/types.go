package protocol

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// 仪器协议常量（单一仪器系列，不做通用化）
const (
	// 通道数量，通道编号 1..ChannelCount
	ChannelCount = 4

	// 屏幕水平格数，触发点位于中间
	HorizontalDivisions = 14

	// 每格对应的数字化码值
	CodesPerDivision = 25

	// INR 寄存器中表示采集完成的值
	StatusComplete = 8193

	// 波形帧结构
	HeaderSize      = 7
	LengthFieldSize = 9
	TrailerSize     = 2

	// 未应答时的默认垂直参数
	DefaultVerticalScale  = 1.0
	DefaultVerticalOffset = 0.0

	// 默认控制端口
	DefaultPort = 5025
)

// 指令
const (
	CmdIdentify       = "*IDN?"
	CmdHeaderOff      = "chdr off"
	CmdTimeDivision   = "tdiv?"
	CmdSampleRate     = "sara?"
	CmdArm            = "ARM"
	CmdStatusRegister = "INR?"
)

// ChannelScaleCmd 返回通道垂直档位查询指令
func ChannelScaleCmd(ch int) string { return fmt.Sprintf("c%d:vdiv?", ch) }

// ChannelOffsetCmd 返回通道垂直偏移查询指令
func ChannelOffsetCmd(ch int) string { return fmt.Sprintf("c%d:ofst?", ch) }

// WaveformCmd 返回通道原始波形读取指令
func WaveformCmd(ch int) string { return fmt.Sprintf("c%d:wf? dat2", ch) }

// ChannelLabel 返回数据表中通道列名
func ChannelLabel(ch int) string { return fmt.Sprintf("Channel %d (V)", ch) }

// TimeLabel 时间列名
const TimeLabel = "Time (s)"

// ChannelCalibration 单通道垂直参数
type ChannelCalibration struct {
	VerticalScale  float64 `json:"vertical_scale"`
	VerticalOffset float64 `json:"vertical_offset"`
	// Fallback 表示至少一个值使用了默认值
	Fallback bool `json:"fallback,omitempty"`
}

// Calibration 一次采集的标定参数
type Calibration struct {
	TimePerDivision float64                          `json:"time_per_division"`
	SampleRate      float64                          `json:"sample_rate"`
	Channels        [ChannelCount]ChannelCalibration `json:"channels"`
}

// Channel 返回通道 ch (1..ChannelCount) 的标定参数
func (c *Calibration) Channel(ch int) ChannelCalibration {
	return c.Channels[ch-1]
}

// ChannelResult 单通道解码结果：成功时 Voltages 有效，失败时 Err 非空
type ChannelResult struct {
	Channel   int
	Voltages  []float64
	RawLength int
	Err       error
}

// OK 通道是否解码成功
func (r ChannelResult) OK() bool { return r.Err == nil }

// ChannelData 数据集中的一列电压
type ChannelData struct {
	Channel  int       `json:"channel"`
	Label    string    `json:"label"`
	Voltages []float64 `json:"voltages"`
}

// ChannelFailure 被剔除的通道及原因
type ChannelFailure struct {
	Channel int    `json:"channel"`
	Reason  string `json:"reason"`
}

// Dataset 一次采集的完整数据，所有通道共用一条时间轴
type Dataset struct {
	RunID        uuid.UUID        `json:"run_id"`
	RunIndex     int              `json:"run_index"`
	Instrument   string           `json:"instrument"`
	AcquiredAt   time.Time        `json:"acquired_at"`
	Calibration  Calibration      `json:"calibration"`
	Time         []float64        `json:"time"`
	Channels     []ChannelData    `json:"channels"`
	Failed       []ChannelFailure `json:"failed,omitempty"`
	TransferTime time.Duration    `json:"transfer_time"`
}

// Rows 返回数据行数
func (d *Dataset) Rows() int { return len(d.Time) }

// Columns 返回表头：时间列加每个成功通道一列
func (d *Dataset) Columns() []string {
	cols := make([]string, 0, len(d.Channels)+1)
	cols = append(cols, TimeLabel)
	for _, ch := range d.Channels {
		cols = append(cols, ch.Label)
	}
	return cols
}

// Row 返回第 i 行：时间与各通道电压
func (d *Dataset) Row(i int) []float64 {
	row := make([]float64, 0, len(d.Channels)+1)
	row = append(row, d.Time[i])
	for _, ch := range d.Channels {
		row = append(row, ch.Voltages[i])
	}
	return row
}

// Summary 数据集摘要（不含样本）
type Summary struct {
	RunID        uuid.UUID        `json:"run_id"`
	RunIndex     int              `json:"run_index"`
	Instrument   string           `json:"instrument"`
	AcquiredAt   time.Time        `json:"acquired_at"`
	Rows         int              `json:"rows"`
	Channels     []int            `json:"channels"`
	Failed       []ChannelFailure `json:"failed,omitempty"`
	TransferTime string           `json:"transfer_time"`
	Output       string           `json:"output,omitempty"`
}

// Summarize 生成摘要
func (d *Dataset) Summarize() Summary {
	s := Summary{
		RunID:        d.RunID,
		RunIndex:     d.RunIndex,
		Instrument:   d.Instrument,
		AcquiredAt:   d.AcquiredAt,
		Rows:         d.Rows(),
		Failed:       d.Failed,
		TransferTime: d.TransferTime.String(),
	}
	for _, ch := range d.Channels {
		s.Channels = append(s.Channels, ch.Channel)
	}
	return s
}
