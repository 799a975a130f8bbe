package parquet

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/tickvault/tickvault/internal/dataset"
)

// BarReader reads bars from a Parquet file.
type BarReader struct {
	file   *os.File
	reader *parquet.GenericReader[dataset.Bar]
	path   string
}

// OpenBarReader opens a Parquet file for reading. The file metadata is
// parsed eagerly, so a truncated or garbage file fails here with an
// error rather than blowing up during row reads.
func OpenBarReader(path string) (*BarReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("parse parquet file: %w", err)
	}

	return &BarReader{
		file:   f,
		reader: parquet.NewGenericReader[dataset.Bar](pf),
		path:   path,
	}, nil
}

// Read reads up to n bars from the file.
func (r *BarReader) Read(n int) ([]dataset.Bar, error) {
	rows := make([]dataset.Bar, n)
	count, err := r.reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return rows[:count], nil
}

// ReadAll reads all bars from the file.
func (r *BarReader) ReadAll() ([]dataset.Bar, error) {
	numRows := r.reader.NumRows()
	rows := make([]dataset.Bar, numRows)

	n, err := r.reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	return rows[:n], nil
}

// NumRows returns the total number of rows in the file.
func (r *BarReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *BarReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *BarReader) Path() string {
	return r.path
}

// ReadFile reads every bar in a Parquet file.
func ReadFile(path string) ([]dataset.Bar, error) {
	r, err := OpenBarReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return r.ReadAll()
}

// FileInfo holds information about a Parquet file.
type FileInfo struct {
	Path    string
	Size    int64
	NumRows int64
}

// GetFileInfo returns information about a Parquet file without reading
// its rows.
func GetFileInfo(path string) (*FileInfo, error) {
	r, err := OpenBarReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	return &FileInfo{
		Path:    path,
		Size:    stat.Size(),
		NumRows: r.NumRows(),
	}, nil
}
