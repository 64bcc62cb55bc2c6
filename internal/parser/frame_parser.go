package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"scope-collector/pkg/protocol"
)

// 单帧最大样本数，超出视为长度字段损坏
const MaxPayloadLength = 140_000_000

var (
	ErrMalformedLength = errors.New("parser: malformed length field")
	ErrPayloadTooLarge = errors.New("parser: declared payload too large")
	ErrLengthMismatch  = errors.New("parser: sample count differs from time axis")
)

// ChannelError 单通道采集失败，只影响该通道
type ChannelError struct {
	Channel int
	Stage   string
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("通道 %d %s失败: %v", e.Channel, e.Stage, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// 帧读取阶段
const (
	StageRequest = "请求波形"
	StageHeader  = "读取帧头"
	StageLength  = "解析长度"
	StagePayload = "读取数据"
	StageAlign   = "对齐时间轴"
)

// ByteReader 按字节数读取的数据源
type ByteReader interface {
	ReadExact(n int) ([]byte, error)
}

// Commander 波形读取需要的通道操作
type Commander interface {
	ByteReader
	Send(cmd string) error
}

// Drainer 能丢弃链路残留输入的通道。
// 通道失败后残留的帧数据会被下一个通道当作帧头读取，需要先清空。
type Drainer interface {
	Drain() (int, error)
}

// Frame 一个原始波形帧
type Frame struct {
	Header  []byte
	Length  int
	Payload []byte // 前 Length 个字节为样本
	Trailer []byte // 结尾的 2 个帧字节，不是样本
}

// ParseLength 解析 9 字节 ASCII 十进制长度字段
func ParseLength(field []byte) (int, error) {
	s := strings.TrimSpace(string(field))
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedLength, field)
	}
	if n > MaxPayloadLength {
		return 0, fmt.Errorf("%w: %d", ErrPayloadTooLarge, n)
	}
	return int(n), nil
}

// readFrame 读取帧头、长度字段和 L+2 字节数据，返回出错的阶段
func readFrame(r ByteReader) (*Frame, string, error) {
	header, err := r.ReadExact(protocol.HeaderSize)
	if err != nil {
		return nil, StageHeader, err
	}

	field, err := r.ReadExact(protocol.LengthFieldSize)
	if err != nil {
		return nil, StageLength, err
	}
	length, err := ParseLength(field)
	if err != nil {
		return nil, StageLength, err
	}

	data, err := r.ReadExact(length + protocol.TrailerSize)
	if err != nil {
		return nil, StagePayload, err
	}

	return &Frame{
		Header:  header,
		Length:  length,
		Payload: data[:length],
		Trailer: data[length:],
	}, "", nil
}

// ReadFrame 从数据源读取一个波形帧
func ReadFrame(r ByteReader) (*Frame, error) {
	f, _, err := readFrame(r)
	return f, err
}

type sliceReader struct {
	r io.Reader
}

func (s sliceReader) ReadExact(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := io.ReadFull(s.r, b)
	return b, err
}

// ParseFrame 解析内存中的完整波形帧
func ParseFrame(data []byte) (*Frame, error) {
	return ReadFrame(sliceReader{bytes.NewReader(data)})
}

// SignedSample 把无符号字节按 8 位补码解释
func SignedSample(b byte) int {
	if b > 127 {
		return int(b) - 256
	}
	return int(b)
}

// Voltage 把有符号样本换算为电压
func Voltage(s int, cal protocol.ChannelCalibration) float64 {
	return float64(s)/protocol.CodesPerDivision*cal.VerticalScale - cal.VerticalOffset
}

// Decode 把样本字节换算为电压序列
func Decode(payload []byte, cal protocol.ChannelCalibration) []float64 {
	volts := make([]float64, len(payload))
	for i, b := range payload {
		volts[i] = Voltage(SignedSample(b), cal)
	}
	return volts
}

// TimeAxis 生成 n 个样本的时间轴，窗口覆盖 14 格，t=0 位于中点
func TimeAxis(timePerDivision, sampleRate float64, n int) []float64 {
	start := -(timePerDivision * protocol.HorizontalDivisions / 2)
	step := 1 / sampleRate
	t := make([]float64, n)
	for i := range t {
		t[i] = start + float64(i)*step
	}
	return t
}

type Parser struct {
	log *logrus.Logger
}

func NewParser(log *logrus.Logger) *Parser {
	return &Parser{log: log}
}

// FetchChannel 请求并解码一个通道。任何错误都封装为 ChannelError 放入结果，不向上传播。
func (p *Parser) FetchChannel(c Commander, channel int, cal protocol.ChannelCalibration) protocol.ChannelResult {
	result := protocol.ChannelResult{Channel: channel}

	if err := c.Send(protocol.WaveformCmd(channel)); err != nil {
		result.Err = &ChannelError{Channel: channel, Stage: StageRequest, Err: err}
		return result
	}

	frame, stage, err := readFrame(c)
	if err != nil {
		result.Err = &ChannelError{Channel: channel, Stage: stage, Err: err}
		p.resync(c, channel)
		return result
	}

	p.log.Debugf("通道 %d 帧头 %q, 长度 %d, 结尾 % x", channel, frame.Header, frame.Length, frame.Trailer)

	result.RawLength = frame.Length
	result.Voltages = Decode(frame.Payload, cal)
	return result
}

// resync 丢弃失败通道留在链路上的数据
func (p *Parser) resync(c Commander, channel int) {
	d, ok := c.(Drainer)
	if !ok {
		return
	}
	n, err := d.Drain()
	if err != nil {
		p.log.Warnf("通道 %d 清空残留数据失败: %v", channel, err)
		return
	}
	if n > 0 {
		p.log.Debugf("通道 %d 丢弃残留数据 %d 字节", channel, n)
	}
}
