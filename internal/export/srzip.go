package export

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"scope-collector/pkg/protocol"
)

// 每个数据分片的最大样本数
const srSamplesLimit = 0x280000

// SR sigrok v2 会话文件（srzip），每个成功通道一个模拟量通道
// 参见 https://sigrok.org/wiki/File_format:Sigrok/v2
type SR struct{}

func (SR) Ext() string { return FormatSR }

func (SR) Write(ds *protocol.Dataset, w io.Writer) error {
	zw := zip.NewWriter(w)

	if err := zipText(zw, "version", "2\n"); err != nil {
		return err
	}

	var meta strings.Builder
	fmt.Fprintf(&meta, "[device 1]\nsamplerate=%d\ntotal analog=%d\n",
		uint64(ds.Calibration.SampleRate), len(ds.Channels))
	for i, ch := range ds.Channels {
		fmt.Fprintf(&meta, "analog%d=CH%d\n", i+1, ch.Channel)
	}
	if err := zipText(zw, "metadata", meta.String()); err != nil {
		return err
	}

	for i, ch := range ds.Channels {
		if err := writeAnalog(zw, i+1, ch.Voltages); err != nil {
			return fmt.Errorf("通道 %d: %w", ch.Channel, err)
		}
	}

	return zw.Close()
}

func zipText(zw *zip.Writer, name, contents string) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, contents)
	return err
}

// writeAnalog 按 float32 小端写出一个通道，超过分片上限时新建分片
func writeAnalog(zw *zip.Writer, index int, volts []float64) error {
	buf := make([]byte, 4)
	var w io.Writer
	for i, v := range volts {
		if i%srSamplesLimit == 0 {
			part, err := zw.Create(fmt.Sprintf("analog-1-%d-%d", index, i/srSamplesLimit+1))
			if err != nil {
				return err
			}
			w = part
		}
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}
