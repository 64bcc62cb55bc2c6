package export

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
	"scope-collector/pkg/protocol"
)

// testDataset 3 行，通道 1、2、4 成功，通道 3 失败
func testDataset() *protocol.Dataset {
	return &protocol.Dataset{
		RunIndex:    3,
		Calibration: protocol.Calibration{TimePerDivision: 0.0005, SampleRate: 500000},
		Time:        []float64{-0.0035, -0.003498, -0.003496},
		Channels: []protocol.ChannelData{
			{Channel: 1, Label: protocol.ChannelLabel(1), Voltages: []float64{0, 0.5, 1}},
			{Channel: 2, Label: protocol.ChannelLabel(2), Voltages: []float64{-1, -0.5, 0}},
			{Channel: 4, Label: protocol.ChannelLabel(4), Voltages: []float64{2.5, 2.5, 2.5}},
		},
		Failed: []protocol.ChannelFailure{{Channel: 3, Reason: "malformed length"}},
	}
}

func parseRow(t *testing.T, cells []string) []float64 {
	t.Helper()
	out := make([]float64, len(cells))
	for i, c := range cells {
		v, err := strconv.ParseFloat(c, 64)
		if err != nil {
			t.Fatalf("cell %q is not a number: %v", c, err)
		}
		out[i] = v
	}
	return out
}

func checkTable(t *testing.T, ds *protocol.Dataset, rows [][]string) {
	t.Helper()
	if len(rows) != ds.Rows()+1 {
		t.Fatalf("got %d rows, want %d", len(rows), ds.Rows()+1)
	}
	want := []string{"Time (s)", "Channel 1 (V)", "Channel 2 (V)", "Channel 4 (V)"}
	if strings.Join(rows[0], "|") != strings.Join(want, "|") {
		t.Errorf("header = %v, want %v", rows[0], want)
	}
	for i := 0; i < ds.Rows(); i++ {
		got := parseRow(t, rows[i+1])
		exp := ds.Row(i)
		if len(got) != len(exp) {
			t.Fatalf("row %d has %d cells, want %d", i, len(got), len(exp))
		}
		for j := range exp {
			if math.Abs(got[j]-exp[j]) > 1e-12 {
				t.Errorf("row %d col %d = %v, want %v", i, j, got[j], exp[j])
			}
		}
	}
}

func TestNew(t *testing.T) {
	for format, ext := range map[string]string{"": "xlsx", "xlsx": "xlsx", "csv": "csv", "sr": "sr"} {
		e, err := New(format)
		if err != nil {
			t.Fatalf("New(%q) failed: %v", format, err)
		}
		if e.Ext() != ext {
			t.Errorf("New(%q).Ext() = %s, want %s", format, e.Ext(), ext)
		}
	}
	if _, err := New("parquet"); err == nil {
		t.Error("New(parquet) expected error")
	}
}

func TestCSV(t *testing.T) {
	ds := testDataset()
	var buf bytes.Buffer
	if err := (CSV{}).Write(ds, &buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	checkTable(t, ds, rows)
}

func TestXLSX(t *testing.T) {
	ds := testDataset()
	var buf bytes.Buffer
	if err := (XLSX{}).Write(ds, &buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	checkTable(t, ds, rows)
}

func TestXLSX_SplitsSheets(t *testing.T) {
	saved := sheetRows
	sheetRows = 2
	t.Cleanup(func() { sheetRows = saved })

	ds := testDataset()
	var buf bytes.Buffer
	if err := (XLSX{}).Write(ds, &buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if strings.Join(sheets, ",") != "Sheet1,Sheet2" {
		t.Fatalf("sheets = %v, want [Sheet1 Sheet2]", sheets)
	}

	first, err := f.GetRows("Sheet1")
	if err != nil {
		t.Fatalf("GetRows Sheet1: %v", err)
	}
	second, err := f.GetRows("Sheet2")
	if err != nil {
		t.Fatalf("GetRows Sheet2: %v", err)
	}
	if len(first) != 3 || len(second) != 2 {
		t.Fatalf("sheet rows = %d, %d, want 3, 2", len(first), len(second))
	}
	if strings.Join(second[0], "|") != strings.Join(first[0], "|") {
		t.Errorf("Sheet2 header = %v, want %v", second[0], first[0])
	}
	checkTable(t, ds, append(first, second[1:]...))
}

func TestSR(t *testing.T) {
	ds := testDataset()
	var buf bytes.Buffer
	if err := (SR{}).Write(ds, &buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	files := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		files[f.Name] = data
	}

	if string(files["version"]) != "2\n" {
		t.Errorf("version = %q", files["version"])
	}
	meta := string(files["metadata"])
	for _, line := range []string{"samplerate=500000", "total analog=3", "analog1=CH1", "analog3=CH4"} {
		if !strings.Contains(meta, line) {
			t.Errorf("metadata missing %q:\n%s", line, meta)
		}
	}

	part, ok := files["analog-1-2-1"]
	if !ok {
		t.Fatal("missing analog-1-2-1")
	}
	if len(part) != 4*ds.Rows() {
		t.Fatalf("analog-1-2-1 has %d bytes, want %d", len(part), 4*ds.Rows())
	}
	for i, want := range ds.Channels[1].Voltages {
		got := math.Float32frombits(binary.LittleEndian.Uint32(part[4*i:]))
		if got != float32(want) {
			t.Errorf("sample %d = %v, want %v", i, got, want)
		}
	}
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	ds := testDataset()

	path, err := WriteFile(CSV{}, dir, "channel_data", ds)
	if err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if filepath.Base(path) != "channel_data_3.csv" {
		t.Errorf("path = %s, want channel_data_3.csv", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.HasPrefix(string(data), "Time (s),Channel 1 (V)") {
		t.Errorf("unexpected file content: %q", data)
	}
}

func TestEmptyDataset(t *testing.T) {
	ds := &protocol.Dataset{RunIndex: 1, Calibration: protocol.Calibration{SampleRate: 1}}
	for _, e := range []Exporter{CSV{}, XLSX{}, SR{}} {
		if err := e.Write(ds, io.Discard); err != nil {
			t.Errorf("%s: Write on empty dataset failed: %v", e.Ext(), err)
		}
	}
}
