package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"scope-collector/pkg/protocol"
)

type CSV struct{}

func (CSV) Ext() string { return FormatCSV }

func (CSV) Write(ds *protocol.Dataset, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ds.Columns()); err != nil {
		return err
	}

	record := make([]string, len(ds.Channels)+1)
	for i := 0; i < ds.Rows(); i++ {
		for j, v := range ds.Row(i) {
			record[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
