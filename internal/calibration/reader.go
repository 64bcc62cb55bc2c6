// Package calibration 从仪器读取时基、采样率和各通道垂直参数。
package calibration

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"scope-collector/internal/monitor"
	"scope-collector/pkg/protocol"
)

var (
	ErrNotNumeric      = errors.New("calibration: reply is not a number")
	ErrInvalidRate     = errors.New("calibration: sample rate must be positive")
	ErrMissingTimebase = errors.New("calibration: time base unavailable")
)

// 参数名
const (
	ParamScale  = "vdiv"
	ParamOffset = "ofst"
)

// Querier 查询接口
type Querier interface {
	Query(cmd string) (string, error)
}

// FallbackError 通道参数未应答而使用了默认值。可恢复，由调用方决定是否升级为致命错误。
type FallbackError struct {
	Channel int
	Param   string
	Default float64
	Err     error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("通道 %d %s 未取得, 使用默认值 %g: %v", e.Channel, e.Param, e.Default, e.Err)
}

func (e *FallbackError) Unwrap() error { return e.Err }

type Reader struct {
	q   Querier
	log *logrus.Logger
}

func NewReader(q Querier, log *logrus.Logger) *Reader {
	return &Reader{q: q, log: log}
}

// ParseNumber 解析数值应答，容忍结尾的单位，例如 "5.00E-04S"、"1.00E+09Sa/s"
func ParseNumber(resp string) (float64, error) {
	s := strings.TrimSpace(resp)
	end := len(s)
	for end > 0 {
		c := s[end-1]
		if (c >= '0' && c <= '9') || c == '.' {
			break
		}
		end--
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNotNumeric, resp)
	}
	return v, nil
}

func (r *Reader) queryNumber(cmd string) (float64, error) {
	resp, err := r.q.Query(cmd)
	if err != nil {
		return 0, err
	}
	return ParseNumber(resp)
}

// TimePerDivision 读取时基（秒/格）
func (r *Reader) TimePerDivision() (float64, error) {
	v, err := r.queryNumber(protocol.CmdTimeDivision)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMissingTimebase, err)
	}
	return v, nil
}

// SampleRate 读取采样率（点/秒）
func (r *Reader) SampleRate() (float64, error) {
	v, err := r.queryNumber(protocol.CmdSampleRate)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMissingTimebase, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%w: %g", ErrInvalidRate, v)
	}
	return v, nil
}

// ChannelScale 读取通道垂直档位（伏/格），失败时返回默认值与 FallbackError
func (r *Reader) ChannelScale(ch int) (float64, *FallbackError) {
	v, err := r.queryNumber(protocol.ChannelScaleCmd(ch))
	if err != nil {
		return protocol.DefaultVerticalScale, &FallbackError{
			Channel: ch, Param: ParamScale, Default: protocol.DefaultVerticalScale, Err: err,
		}
	}
	return v, nil
}

// ChannelOffset 读取通道垂直偏移（伏），失败时返回默认值与 FallbackError
func (r *Reader) ChannelOffset(ch int) (float64, *FallbackError) {
	v, err := r.queryNumber(protocol.ChannelOffsetCmd(ch))
	if err != nil {
		return protocol.DefaultVerticalOffset, &FallbackError{
			Channel: ch, Param: ParamOffset, Default: protocol.DefaultVerticalOffset, Err: err,
		}
	}
	return v, nil
}

// Read 读取全部标定参数。时基或采样率缺失时返回错误；
// 通道参数缺失时使用默认值并在 fallbacks 中逐项报告。
func (r *Reader) Read() (cal *protocol.Calibration, fallbacks []*FallbackError, err error) {
	cal = &protocol.Calibration{}

	cal.TimePerDivision, err = r.TimePerDivision()
	if err != nil {
		return nil, nil, err
	}
	r.log.Infof("Tdiv = %g", cal.TimePerDivision)

	cal.SampleRate, err = r.SampleRate()
	if err != nil {
		return nil, nil, err
	}
	r.log.Infof("Sara = %g", cal.SampleRate)

	for ch := 1; ch <= protocol.ChannelCount; ch++ {
		c := &cal.Channels[ch-1]

		var fb *FallbackError
		c.VerticalScale, fb = r.ChannelScale(ch)
		if fb != nil {
			fallbacks = append(fallbacks, fb)
			c.Fallback = true
		}

		c.VerticalOffset, fb = r.ChannelOffset(ch)
		if fb != nil {
			fallbacks = append(fallbacks, fb)
			c.Fallback = true
		}

		r.log.Infof("通道 %d: Vdiv = %g, Ofst = %g", ch, c.VerticalScale, c.VerticalOffset)
	}

	for _, fb := range fallbacks {
		r.log.Warn(fb.Error())
		monitor.CalibrationFallbacks.WithLabelValues(strconv.Itoa(fb.Channel), fb.Param).Inc()
	}

	return cal, fallbacks, nil
}
