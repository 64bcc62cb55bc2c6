package collector

import (
	"fmt"

	"scope-collector/internal/parser"
	"scope-collector/pkg/protocol"
)

// Assemble 合并各通道结果。时间轴由第一个成功通道的样本数决定，
// 样本数与时间轴不一致的通道按失败处理。失败通道只出现在 Failed 中。
func Assemble(cal protocol.Calibration, results []protocol.ChannelResult) *protocol.Dataset {
	ds := &protocol.Dataset{Calibration: cal}

	for _, r := range results {
		if !r.OK() {
			ds.Failed = append(ds.Failed, protocol.ChannelFailure{Channel: r.Channel, Reason: r.Err.Error()})
			continue
		}

		if ds.Time == nil {
			ds.Time = parser.TimeAxis(cal.TimePerDivision, cal.SampleRate, len(r.Voltages))
		} else if len(r.Voltages) != len(ds.Time) {
			err := &parser.ChannelError{
				Channel: r.Channel,
				Stage:   parser.StageAlign,
				Err:     fmt.Errorf("%w: %d != %d", parser.ErrLengthMismatch, len(r.Voltages), len(ds.Time)),
			}
			ds.Failed = append(ds.Failed, protocol.ChannelFailure{Channel: r.Channel, Reason: err.Error()})
			continue
		}

		ds.Channels = append(ds.Channels, protocol.ChannelData{
			Channel:  r.Channel,
			Label:    protocol.ChannelLabel(r.Channel),
			Voltages: r.Voltages,
		})
	}

	return ds
}
