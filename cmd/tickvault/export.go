package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/tickvault/tickvault/internal/dataset"
	"github.com/tickvault/tickvault/internal/storage"
)

// Export writes data to stdout, which is why logs go to stderr.
var exportCmd = &cli.Command{
	Name:  "export",
	Usage: "write one ticker's stored series to stdout",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "market", Required: true, Usage: "venue market, e.g. us"},
		&cli.StringFlag{Name: "source", Required: true, Usage: "venue source, e.g. yahoo"},
		&cli.StringFlag{Name: "interval", Required: true, Usage: "bar interval, e.g. 1d"},
		&cli.StringFlag{Name: "ticker", Required: true, Usage: "ticker symbol"},
		&cli.StringFlag{Name: "format", Value: "csv", Usage: "output format: csv|json"},
	},
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}

		format := cctx.String("format")
		if format != "csv" && format != "json" {
			return fmt.Errorf("unknown format %q (want csv or json)", format)
		}

		backend := storage.New(cfg.Root, dataset.BarCodec{}, storageOptions(cfg))
		frame, err := backend.Read(storage.Request{
			Market:   cctx.String("market"),
			Source:   cctx.String("source"),
			Dataset:  cfg.Dataset,
			Interval: cctx.String("interval"),
			Ticker:   cctx.String("ticker"),
		})
		if err != nil {
			return err
		}

		if format == "json" {
			return writeJSON(cctx.App.Writer, frame)
		}
		return writeCSV(cctx.App.Writer, frame)
	},
}

func writeCSV(w io.Writer, frame *dataset.Frame) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(dataset.BarCodec{}.Columns()); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i := range frame.Rows {
		b := &frame.Rows[i]
		record := []string{
			b.Ticker,
			strconv.FormatInt(b.TimestampMs, 10),
			strconv.FormatFloat(b.Open, 'g', -1, 64),
			strconv.FormatFloat(b.High, 'g', -1, 64),
			strconv.FormatFloat(b.Low, 'g', -1, 64),
			strconv.FormatFloat(b.Close, 'g', -1, 64),
			strconv.FormatFloat(b.AdjClose, 'g', -1, 64),
			strconv.FormatInt(b.Volume, 10),
			strconv.FormatInt(b.Sequence, 10),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeJSON(w io.Writer, frame *dataset.Frame) error {
	rows := frame.Rows
	if rows == nil {
		rows = []dataset.Bar{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
