// Package layout derives filesystem paths for the partitioned store.
//
// All functions are pure: they compute paths from a key without touching
// the filesystem. The partition scheme is hive-style,
//
//	root/<market>/<source>/<dataset>_<interval>/ticker=<TICKER>/year=<YYYY>/month=<MM>[/day=<DD>]/data.parquet
//
// with a flat legacy fallback root/<dataset>_<interval>/<TICKER>.parquet
// for stores written before partitioning existed.
package layout

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tickvault/tickvault/internal/errors"
)

// DataFileName is the leaf file name of every partition.
const DataFileName = "data.parquet"

// tempInfix separates a final file name from its temp-write suffix.
const tempInfix = ".tmp-"

// Granularity selects how deep the time directories of a partition go.
type Granularity int

const (
	// GranularityDay partitions into year/month/day directories.
	GranularityDay Granularity = iota
	// GranularityMonth partitions into year/month directories.
	GranularityMonth
)

// Key addresses one partition of one ticker's series.
type Key struct {
	Market      string
	Source      string
	Dataset     string
	Interval    string
	Ticker      string
	TimestampMs int64
}

// IntervalGranularity classifies an interval string into a partition
// granularity. Daily and finer intervals get day directories; anything
// coarser gets month directories.
func IntervalGranularity(interval string) (Granularity, error) {
	count, unit, err := splitInterval(interval)
	if err != nil {
		return GranularityDay, err
	}

	switch unit {
	case "m", "h":
		return GranularityDay, nil
	case "d":
		if count == 1 {
			return GranularityDay, nil
		}
		return GranularityMonth, nil
	case "wk", "mo":
		return GranularityMonth, nil
	default:
		return GranularityDay, fmt.Errorf("interval '%s': %w", interval, errors.ErrInvalidInterval)
	}
}

// splitInterval parses strings like "5m", "1h", "1d", "1wk", "3mo".
func splitInterval(interval string) (int, string, error) {
	s := strings.TrimSpace(interval)
	if s == "" {
		return 0, "", fmt.Errorf("interval: %w", errors.ErrMissingField)
	}

	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i == len(s) {
		return 0, "", fmt.Errorf("interval '%s': %w", interval, errors.ErrInvalidInterval)
	}

	count, err := strconv.Atoi(s[:i])
	if err != nil || count <= 0 {
		return 0, "", fmt.Errorf("interval '%s': %w", interval, errors.ErrInvalidInterval)
	}
	return count, s[i:], nil
}

// ValidateTicker checks that a ticker is usable as a path segment.
func ValidateTicker(ticker string) error {
	t := strings.TrimSpace(ticker)
	if t == "" {
		return fmt.Errorf("ticker: %w", errors.ErrMissingField)
	}
	if strings.ContainsAny(t, `/\`) || strings.Contains(t, "..") {
		return fmt.Errorf("ticker '%s': %w", ticker, errors.ErrInvalidTicker)
	}
	return nil
}

// tickerSegment normalizes a ticker for use in paths.
func tickerSegment(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// datasetDir returns the <dataset>_<interval> directory name.
func datasetDir(dataset, interval string) string {
	return dataset + "_" + interval
}

// validateKey checks the fields every path form needs.
func validateKey(k Key) error {
	if strings.TrimSpace(k.Dataset) == "" {
		return fmt.Errorf("dataset: %w", errors.ErrMissingField)
	}
	if _, err := IntervalGranularity(k.Interval); err != nil {
		return err
	}
	return ValidateTicker(k.Ticker)
}

// Path routes a key to its canonical storage path. Keys carrying both
// market and source map into the partitioned tree; keys carrying neither
// map to the flat legacy file. A key with only one of the two is
// rejected, there is no half-addressed form.
func Path(root string, k Key) (string, error) {
	hasMarket := strings.TrimSpace(k.Market) != ""
	hasSource := strings.TrimSpace(k.Source) != ""

	switch {
	case hasMarket && hasSource:
		return PartitionPath(root, k)
	case !hasMarket && !hasSource:
		return LegacyPath(root, k.Dataset, k.Interval, k.Ticker)
	case hasMarket:
		return "", fmt.Errorf("source: %w", errors.ErrMissingField)
	default:
		return "", fmt.Errorf("market: %w", errors.ErrMissingField)
	}
}

// PartitionPath returns the partition file path for a fully addressed key.
// The time bucket is derived from k.TimestampMs in UTC.
func PartitionPath(root string, k Key) (string, error) {
	if strings.TrimSpace(k.Market) == "" {
		return "", fmt.Errorf("market: %w", errors.ErrMissingField)
	}
	if strings.TrimSpace(k.Source) == "" {
		return "", fmt.Errorf("source: %w", errors.ErrMissingField)
	}
	if err := validateKey(k); err != nil {
		return "", err
	}
	if k.TimestampMs <= 0 {
		return "", fmt.Errorf("timestamp: %w", errors.ErrMissingField)
	}

	gran, err := IntervalGranularity(k.Interval)
	if err != nil {
		return "", err
	}

	t := time.UnixMilli(k.TimestampMs).UTC()
	dir := filepath.Join(
		root,
		k.Market,
		k.Source,
		datasetDir(k.Dataset, k.Interval),
		"ticker="+tickerSegment(k.Ticker),
		fmt.Sprintf("year=%04d", t.Year()),
		fmt.Sprintf("month=%02d", int(t.Month())),
	)
	if gran == GranularityDay {
		dir = filepath.Join(dir, fmt.Sprintf("day=%02d", t.Day()))
	}
	return filepath.Join(dir, DataFileName), nil
}

// TickerRoot returns the directory holding every partition of one ticker.
// Bulk operations scan from here instead of probing individual buckets.
func TickerRoot(root string, k Key) (string, error) {
	if strings.TrimSpace(k.Market) == "" {
		return "", fmt.Errorf("market: %w", errors.ErrMissingField)
	}
	if strings.TrimSpace(k.Source) == "" {
		return "", fmt.Errorf("source: %w", errors.ErrMissingField)
	}
	if err := validateKey(k); err != nil {
		return "", err
	}

	return filepath.Join(
		root,
		k.Market,
		k.Source,
		datasetDir(k.Dataset, k.Interval),
		"ticker="+tickerSegment(k.Ticker),
	), nil
}

// LegacyPath returns the flat pre-partitioning file path. It exists for
// reading old stores during migration; new writes never target it.
func LegacyPath(root, dataset, interval, ticker string) (string, error) {
	if strings.TrimSpace(dataset) == "" {
		return "", fmt.Errorf("dataset: %w", errors.ErrMissingField)
	}
	if _, err := IntervalGranularity(interval); err != nil {
		return "", err
	}
	if err := ValidateTicker(ticker); err != nil {
		return "", err
	}

	return filepath.Join(root, datasetDir(dataset, interval), tickerSegment(ticker)+".parquet"), nil
}

// TempName builds the temp-write name for a partition file. The pid and
// token make concurrent writers collision-free and let the cleanup scan
// recognize abandoned writes.
func TempName(pid int, token string) string {
	return fmt.Sprintf("%s%s%d-%s", DataFileName, tempInfix, pid, token)
}

// IsTempName reports whether name is a partition temp file.
func IsTempName(name string) bool {
	return strings.HasPrefix(name, DataFileName+tempInfix)
}

// FinalFromTemp maps a temp file name back to its final name. The second
// return is false when name is not a temp file.
func FinalFromTemp(name string) (string, bool) {
	if !IsTempName(name) {
		return "", false
	}
	return DataFileName, true
}
