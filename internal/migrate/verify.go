package migrate

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/tickvault/tickvault/internal/storage/parquet"
)

// RowCounter counts rows across a set of parquet files. Verification
// compares a legacy count against a partition count through the same
// counter, so any systematic bias cancels out.
type RowCounter interface {
	// CountRows returns the total row count of the given files. An
	// empty list counts zero.
	CountRows(ctx context.Context, files []string) (int64, error)

	// Method names the counting method for the verification record.
	Method() string
}

// DuckDBCounter counts rows through an embedded DuckDB instance,
// reading the files the same way analytical consumers will. This is
// the production counter: it exercises the full parquet decode path,
// not just the footer metadata.
type DuckDBCounter struct {
	db *sql.DB
}

// NewDuckDBCounter opens an in-memory DuckDB database for counting.
func NewDuckDBCounter() (*DuckDBCounter, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &DuckDBCounter{db: db}, nil
}

// CountRows sums row counts over the files, one query per file.
func (c *DuckDBCounter) CountRows(ctx context.Context, files []string) (int64, error) {
	var total int64
	for _, path := range files {
		var n int64
		row := c.db.QueryRowContext(ctx, "SELECT count(*) FROM read_parquet($1)", path)
		if err := row.Scan(&n); err != nil {
			return 0, fmt.Errorf("count rows in %s: %w", path, err)
		}
		total += n
	}
	return total, nil
}

// Method implements RowCounter.
func (c *DuckDBCounter) Method() string {
	return "duckdb_row_count"
}

// Close releases the embedded database.
func (c *DuckDBCounter) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// FooterCounter counts rows from parquet footer metadata without
// decoding row data. Fast, and independent of DuckDB, but it trusts
// the footers it reads.
type FooterCounter struct{}

// CountRows sums the footer row counts of the files.
func (FooterCounter) CountRows(ctx context.Context, files []string) (int64, error) {
	var total int64
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		info, err := parquet.GetFileInfo(path)
		if err != nil {
			return 0, fmt.Errorf("read footer of %s: %w", path, err)
		}
		total += info.NumRows
	}
	return total, nil
}

// Method implements RowCounter.
func (FooterCounter) Method() string {
	return "parquet_footer"
}
