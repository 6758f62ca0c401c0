// Package main implements the strata-inspect tool.
// It dumps segment file footers and optionally the row data, for debugging
// rowsets on disk.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/stratadb/strata/internal/chunk"
	"github.com/stratadb/strata/internal/segment"
)

// Config holds the tool configuration.
type Config struct {
	SegmentPath string
	DumpRows    int
	ChunkSize   int
}

func main() {
	cfg := parseFlags()

	desc, err := segment.Describe(cfg.SegmentPath)
	if err != nil {
		log.Fatalf("Failed to read segment: %v", err)
	}

	fmt.Printf("segment:     %s\n", desc.Path)
	fmt.Printf("rows:        %d\n", desc.NumRows)
	fmt.Printf("keys type:   %s\n", desc.KeysType)
	fmt.Printf("key columns: %d\n", desc.NumKeyColumns)
	fmt.Printf("key filter:  %v\n", desc.HasKeyFilter)
	if desc.MinKey != nil {
		fmt.Printf("min key:     %s\n", hex.EncodeToString(desc.MinKey))
		fmt.Printf("max key:     %s\n", hex.EncodeToString(desc.MaxKey))
	}
	fmt.Printf("columns:\n")
	for _, c := range desc.Columns {
		fmt.Printf("  %3d  %-20s %-8s %4d pages  %8d bytes\n",
			c.ID, c.Name, c.Type, c.NumPages, c.DataSize)
	}

	if cfg.DumpRows > 0 {
		if err := dumpRows(cfg, desc); err != nil {
			log.Fatalf("Failed to dump rows: %v", err)
		}
	}
}

// dumpRows prints up to cfg.DumpRows rows in on-disk order.
func dumpRows(cfg Config, desc *segment.Description) error {
	schema := desc.Schema()
	r, err := segment.Open(cfg.SegmentPath, schema)
	if err != nil {
		return err
	}
	defer r.Close()
	it, err := r.NewIterator(schema, segment.IteratorOptions{ChunkSize: cfg.ChunkSize})
	if err != nil {
		return err
	}
	defer it.Close()

	buf, err := chunk.New(schema, cfg.ChunkSize)
	if err != nil {
		return err
	}
	printed := 0
	for printed < cfg.DumpRows {
		buf.Reset()
		err := it.Next(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		for row := 0; row < buf.NumRows() && printed < cfg.DumpRows; row++ {
			fmt.Printf("%v\n", buf.Row(row))
			printed++
		}
	}
	return nil
}

func parseFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.SegmentPath, "segment", "", "Path to the segment file")
	flag.IntVar(&cfg.DumpRows, "rows", 0, "Number of rows to dump (0 = footer only)")
	flag.IntVar(&cfg.ChunkSize, "chunk-size", 4096, "Rows per read batch")
	flag.Parse()

	if cfg.SegmentPath == "" {
		fmt.Fprintln(os.Stderr, "usage: strata-inspect -segment <file> [-rows N]")
		os.Exit(2)
	}
	return cfg
}
