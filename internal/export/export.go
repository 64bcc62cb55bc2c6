// Package export 把一次采集的数据集写成表格文件。
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"scope-collector/pkg/protocol"
)

// 支持的输出格式
const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
	FormatSR   = "sr"
)

// Exporter 数据集输出格式
type Exporter interface {
	// Ext 返回文件扩展名（不含点）
	Ext() string
	Write(ds *protocol.Dataset, w io.Writer) error
}

// New 按格式名创建 Exporter
func New(format string) (Exporter, error) {
	switch format {
	case FormatXLSX, "":
		return XLSX{}, nil
	case FormatCSV:
		return CSV{}, nil
	case FormatSR:
		return SR{}, nil
	default:
		return nil, fmt.Errorf("不支持的输出格式: %q", format)
	}
}

// FileName 返回第 index 次采集的文件名，例如 channel_data_3.xlsx
func FileName(prefix string, index int, e Exporter) string {
	return fmt.Sprintf("%s_%d.%s", prefix, index, e.Ext())
}

// WriteFile 把数据集写入 dir 下的文件，返回文件路径
func WriteFile(e Exporter, dir, prefix string, ds *protocol.Dataset) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("创建输出目录失败: %w", err)
	}

	path := filepath.Join(dir, FileName(prefix, ds.RunIndex, e))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("创建输出文件失败: %w", err)
	}

	if err := e.Write(ds, f); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("写入 %s 失败: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("关闭 %s 失败: %w", path, err)
	}
	return path, nil
}
