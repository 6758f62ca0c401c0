// Package main implements the strata-ship tool.
// It uploads built rowsets to object storage and fetches shipped rowsets
// back to local disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/stratadb/strata/internal/config"
	"github.com/stratadb/strata/internal/metastore"
	"github.com/stratadb/strata/internal/rowset"
	"github.com/stratadb/strata/internal/segment"
	"github.com/stratadb/strata/internal/storage"
	"github.com/stratadb/strata/pkg/types"
)

// Config holds the tool configuration.
type Config struct {
	ConfigPath string
	Mode       string
	TabletID   int64
	RowsetID   string
	DestDir    string
	Timeout    time.Duration
}

func main() {
	cfg := parseFlags()

	appCfg, err := config.Load(cfg.ConfigPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	store, err := openStorage(ctx, appCfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	switch cfg.Mode {
	case "upload":
		if err := runUpload(ctx, cfg, appCfg, store); err != nil {
			log.Fatalf("Upload failed: %v", err)
		}
	case "fetch":
		if err := runFetch(ctx, cfg, appCfg, store); err != nil {
			log.Fatalf("Fetch failed: %v", err)
		}
	default:
		log.Fatalf("Unknown mode %q (must be upload or fetch)", cfg.Mode)
	}
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.ObjectStorage, error) {
	if cfg.Storage.Type == "s3" {
		return storage.NewS3Storage(ctx, cfg.Storage.S3.Bucket, storage.S3Config{
			Region:       cfg.Storage.S3.Region,
			Endpoint:     cfg.Storage.S3.Endpoint,
			UsePathStyle: cfg.Storage.S3.UsePathStyle,
		})
	}
	return storage.NewLocalStorage(cfg.Storage.Path)
}

// runUpload ships one catalogued rowset.
func runUpload(ctx context.Context, cfg Config, appCfg *config.Config, store storage.ObjectStorage) error {
	id, err := types.ParseRowsetID(cfg.RowsetID)
	if err != nil {
		return err
	}
	meta, err := openMeta(ctx, appCfg, id)
	if err != nil {
		return err
	}
	schema, err := schemaFromSegments(appCfg.TabletDir(meta.TabletID), meta)
	if err != nil {
		return err
	}
	rs, err := rowset.Open(appCfg.TabletDir(meta.TabletID), meta, schema)
	if err != nil {
		return err
	}
	defer rs.Close()

	prefix, err := rowset.Upload(ctx, store, rs, appCfg.Writer.ShipConcurrency)
	if err != nil {
		return err
	}
	log.Printf("Uploaded rowset %s (%d segments, %d rows) to %s",
		id, rs.NumSegments(), rs.NumRows(), prefix)
	return nil
}

// runFetch downloads one shipped rowset into the destination directory.
func runFetch(ctx context.Context, cfg Config, appCfg *config.Config, store storage.ObjectStorage) error {
	id, err := types.ParseRowsetID(cfg.RowsetID)
	if err != nil {
		return err
	}
	prefix := rowset.ShipPrefix(cfg.TabletID, id)

	// Pull the first segment's footer for the schema, then fetch the rest.
	tmpDir, err := os.MkdirTemp("", "strata-fetch-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)
	probe := tmpDir + "/seg_0.dat"
	if err := store.Download(ctx, prefix+"/seg_0.dat", probe); err != nil {
		return err
	}
	desc, err := segment.Describe(probe)
	if err != nil {
		return err
	}

	rs, err := rowset.Fetch(ctx, store, prefix, cfg.DestDir, desc.Schema(), appCfg.Writer.ShipConcurrency)
	if err != nil {
		return err
	}
	defer rs.Close()
	log.Printf("Fetched rowset %s (%d segments, %d rows) into %s",
		id, rs.NumSegments(), rs.NumRows(), cfg.DestDir)
	return nil
}

func openMeta(ctx context.Context, appCfg *config.Config, id types.RowsetID) (*rowset.Meta, error) {
	ms, err := metastore.Open(appCfg.MetastorePath())
	if err != nil {
		return nil, err
	}
	defer ms.Close()
	return ms.Get(ctx, id)
}

// schemaFromSegments reconstructs the rowset's schema from its first
// segment footer.
func schemaFromSegments(dir string, meta *rowset.Meta) (*types.Schema, error) {
	if meta.NumSegments == 0 {
		return nil, fmt.Errorf("rowset %s has no segments", meta.RowsetID)
	}
	desc, err := segment.Describe(rowset.SegmentFilePath(dir, meta.RowsetID, 0))
	if err != nil {
		return nil, err
	}
	return desc.Schema(), nil
}

func parseFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.ConfigPath, "config", "", "Path to the config file (YAML or JSON)")
	flag.StringVar(&cfg.Mode, "mode", "", "Operation: upload or fetch")
	flag.Int64Var(&cfg.TabletID, "tablet", 0, "Tablet id (fetch only)")
	flag.StringVar(&cfg.RowsetID, "rowset", "", "Rowset id")
	flag.StringVar(&cfg.DestDir, "dest", ".", "Destination directory (fetch only)")
	flag.DurationVar(&cfg.Timeout, "timeout", 10*time.Minute, "Overall operation timeout")
	flag.Parse()

	if cfg.Mode == "" || cfg.RowsetID == "" {
		fmt.Fprintln(os.Stderr, "usage: strata-ship -mode upload|fetch -rowset <id> [-tablet N] [-dest dir]")
		os.Exit(2)
	}
	return cfg
}
