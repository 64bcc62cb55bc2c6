package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
	"scope-collector/pkg/protocol"
)

// SheetName 第一个工作表名，后续工作表依次为 Sheet2、Sheet3 ...
const SheetName = "Sheet1"

// 每个工作表最多容纳的数据行，首行留给列名
var sheetRows = excelize.TotalRows - 1

// XLSX 电子表格输出：首行为列名，其后每个样本一行。
// 样本数超过单表行数上限时续写到下一个工作表，每个工作表都带列名。
type XLSX struct{}

func (XLSX) Ext() string { return FormatXLSX }

func (XLSX) Write(ds *protocol.Dataset, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	cols := ds.Columns()
	header := make([]interface{}, len(cols))
	for i, c := range cols {
		header[i] = c
	}

	rows := ds.Rows()
	for sheet, first := 1, 0; sheet == 1 || first < rows; sheet, first = sheet+1, first+sheetRows {
		name := fmt.Sprintf("Sheet%d", sheet)
		if sheet > 1 {
			if _, err := f.NewSheet(name); err != nil {
				return err
			}
		}
		if err := writeSheet(f, name, header, ds, first, min(first+sheetRows, rows)); err != nil {
			return fmt.Errorf("工作表 %s: %w", name, err)
		}
	}

	return f.Write(w)
}

// writeSheet 写入列名和 [from, to) 行
func writeSheet(f *excelize.File, name string, header []interface{}, ds *protocol.Dataset, from, to int) error {
	sw, err := f.NewStreamWriter(name)
	if err != nil {
		return err
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	for i := from; i < to; i++ {
		cell, err := excelize.CoordinatesToCellName(1, i-from+2)
		if err != nil {
			return err
		}
		row := ds.Row(i)
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := sw.SetRow(cell, values); err != nil {
			return fmt.Errorf("第 %d 行: %w", i-from+2, err)
		}
	}

	return sw.Flush()
}
