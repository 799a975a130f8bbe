package parquet

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tickvault/tickvault/internal/dataset"
)

func testBars(n int, startMs int64) []dataset.Bar {
	bars := make([]dataset.Bar, n)
	for i := range bars {
		bars[i] = dataset.Bar{
			Ticker:      "AAPL",
			TimestampMs: startMs + int64(i)*86400000,
			Open:        100 + float64(i),
			High:        101 + float64(i),
			Low:         99 + float64(i),
			Close:       100.5 + float64(i),
			AdjClose:    100.5 + float64(i),
			Volume:      int64(1000 * (i + 1)),
			Sequence:    1,
		}
	}
	return bars
}

func TestBarWriterBasic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bars.parquet")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	w := NewBarWriter(f, DefaultOptions())
	if err := w.Write(testBars(2, 1704412800000)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("file Close: %v", err)
	}

	// Verify file exists
	stat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("file should exist: %v", err)
	}
	if stat.Size() == 0 {
		t.Error("file should not be empty")
	}
}

func TestBarWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bars.parquet")

	bars := []dataset.Bar{
		{
			Ticker:      "AAPL",
			TimestampMs: 1704412800000,
			Open:        184.9,
			High:        186.4,
			Low:         184.3,
			Close:       185.5,
			AdjClose:    185.2,
			Volume:      48087700,
			Sequence:    7,
		},
		{
			Ticker:      "MSFT",
			TimestampMs: 1704499200000,
			Open:        368.0,
			High:        370.1,
			Low:         366.5,
			Close:       367.8,
			AdjClose:    367.8,
			Volume:      20412200,
			Sequence:    7,
		},
	}

	if err := WriteFile(path, bars, DefaultOptions()); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r, err := OpenBarReader(path)
	if err != nil {
		t.Fatalf("OpenBarReader: %v", err)
	}
	defer r.Close()

	readBars, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if len(readBars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(readBars))
	}

	b := readBars[0]
	if b.Ticker != "AAPL" {
		t.Errorf("expected ticker=AAPL, got %s", b.Ticker)
	}
	if b.Close != 185.5 {
		t.Errorf("expected close=185.5, got %f", b.Close)
	}
	if b.Sequence != 7 {
		t.Errorf("expected sequence=7, got %d", b.Sequence)
	}

	b = readBars[1]
	if b.Ticker != "MSFT" {
		t.Errorf("expected ticker=MSFT, got %s", b.Ticker)
	}
	if b.Volume != 20412200 {
		t.Errorf("expected volume=20412200, got %d", b.Volume)
	}
}

func TestLargeWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "large.parquet")

	if err := WriteFile(path, testBars(10000, time.Now().UnixMilli()), DefaultOptions()); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r, err := OpenBarReader(path)
	if err != nil {
		t.Fatalf("OpenBarReader: %v", err)
	}
	defer r.Close()

	if r.NumRows() != 10000 {
		t.Errorf("expected 10000 rows, got %d", r.NumRows())
	}

	readBars, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if len(readBars) != 10000 {
		t.Errorf("expected 10000 bars, got %d", len(readBars))
	}
}

func TestCompressionTypes(t *testing.T) {
	compressions := []struct {
		name string
		ct   CompressionType
	}{
		{"none", CompressionNone},
		{"snappy", CompressionSnappy},
		{"zstd", CompressionZstd},
		{"lz4", CompressionLZ4},
	}

	for _, tc := range compressions {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "test.parquet")

			opts := DefaultOptions()
			opts.Compression = tc.ct

			if err := WriteFile(path, testBars(1, 1704412800000), opts); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}

			readBars, err := ReadFile(path)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			if len(readBars) != 1 {
				t.Errorf("expected 1 bar, got %d", len(readBars))
			}
		})
	}
}

func TestParseCompressionType(t *testing.T) {
	tests := []struct {
		input    string
		expected CompressionType
	}{
		{"snappy", CompressionSnappy},
		{"zstd", CompressionZstd},
		{"lz4", CompressionLZ4},
		{"gzip", CompressionGzip},
		{"none", CompressionNone},
		{"", CompressionNone},
		{"invalid", CompressionZstd}, // Default
	}

	for _, tt := range tests {
		result := ParseCompressionType(tt.input)
		if result != tt.expected {
			t.Errorf("ParseCompressionType(%s): expected %d, got %d", tt.input, tt.expected, result)
		}
	}
}

func TestOpenBarReaderRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "garbage.parquet")

	if err := os.WriteFile(path, []byte("this is not a parquet file"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := OpenBarReader(path); err == nil {
		t.Fatal("expected error opening garbage file")
	}
}

func TestOpenBarReaderRejectsTruncated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bars.parquet")

	if err := WriteFile(path, testBars(100, 1704412800000), DefaultOptions()); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// Chop off the footer.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if err := os.WriteFile(path, data[:len(data)/2], 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := OpenBarReader(path); err == nil {
		t.Fatal("expected error opening truncated file")
	}
}

func TestEmptyWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.parquet")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	w := NewBarWriter(f, DefaultOptions())

	// Empty write should be no-op
	if err := w.Write(nil); err != nil {
		t.Errorf("nil write should succeed: %v", err)
	}
	if err := w.Write([]dataset.Bar{}); err != nil {
		t.Errorf("empty write should succeed: %v", err)
	}

	if w.RowCount() != 0 {
		t.Errorf("expected 0 rows, got %d", w.RowCount())
	}

	w.Close()
}

func TestWriteToClosedWriter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.parquet")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	w := NewBarWriter(f, DefaultOptions())
	w.Close()

	err = w.Write(testBars(1, 1000))
	if err != ErrWriterClosed {
		t.Errorf("expected ErrWriterClosed, got %v", err)
	}
}

func TestGetFileInfo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.parquet")

	if err := WriteFile(path, testBars(100, 1704412800000), DefaultOptions()); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	info, err := GetFileInfo(path)
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}

	if info.NumRows != 100 {
		t.Errorf("expected 100 rows, got %d", info.NumRows)
	}
	if info.Size <= 0 {
		t.Error("expected positive size")
	}
}

func BenchmarkBarWrite(b *testing.B) {
	dir := b.TempDir()
	path := filepath.Join(dir, "bench.parquet")

	f, err := os.Create(path)
	if err != nil {
		b.Fatalf("Create: %v", err)
	}
	defer f.Close()

	w := NewBarWriter(f, DefaultOptions())
	defer w.Close()

	bars := testBars(1, time.Now().UnixMilli())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.Write(bars)
	}
}

func BenchmarkBarWriteBatch1000(b *testing.B) {
	dir := b.TempDir()
	path := filepath.Join(dir, "bench.parquet")

	f, err := os.Create(path)
	if err != nil {
		b.Fatalf("Create: %v", err)
	}
	defer f.Close()

	w := NewBarWriter(f, DefaultOptions())
	defer w.Close()

	batch := testBars(1000, time.Now().UnixMilli())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.Write(batch)
	}
}
