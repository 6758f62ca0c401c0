package rowset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/internal/storage"
	"github.com/stratadb/strata/pkg/types"
)

// shipMetaObject is the metadata object name under a shipped rowset's
// prefix.
const shipMetaObject = "meta.json"

// ShipPrefix returns the object-store prefix a rowset is shipped under.
func ShipPrefix(tabletID int64, id types.RowsetID) string {
	return fmt.Sprintf("tablets/%d/%s", tabletID, id)
}

func shipSegmentObject(prefix string, segID int) string {
	return fmt.Sprintf("%s/seg_%d.dat", prefix, segID)
}

// Upload ships a built rowset: all segment files in parallel, then the
// metadata object last, so a prefix with meta.json present is complete.
// Returns the object-store prefix.
func Upload(ctx context.Context, store storage.ObjectStorage, rs *Rowset, concurrency int) (string, error) {
	prefix := ShipPrefix(rs.meta.TabletID, rs.meta.RowsetID)
	items := make([]storage.TransferItem, 0, rs.NumSegments())
	for i := 0; i < rs.NumSegments(); i++ {
		items = append(items, storage.TransferItem{
			ObjectPath: shipSegmentObject(prefix, i),
			LocalPath:  SegmentFilePath(rs.pathPrefix, rs.meta.RowsetID, i),
		})
	}
	if err := storage.NewTransferer(store, concurrency).UploadAll(ctx, items); err != nil {
		return "", serrors.NewStorageError(serrors.CodeUploadFailed, "ship segments of "+prefix, err)
	}

	metaBytes, err := MarshalMeta(rs.meta)
	if err != nil {
		return "", serrors.NewStorageError(serrors.CodeUploadFailed, "encode rowset meta", err)
	}
	tmp, err := os.CreateTemp(rs.pathPrefix, "shipmeta-*.json")
	if err != nil {
		return "", serrors.NewStorageError(serrors.CodeUploadFailed, "stage rowset meta", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(metaBytes); err != nil {
		tmp.Close()
		return "", serrors.NewStorageError(serrors.CodeUploadFailed, "stage rowset meta", err)
	}
	if err := tmp.Close(); err != nil {
		return "", serrors.NewStorageError(serrors.CodeUploadFailed, "stage rowset meta", err)
	}
	if err := store.Upload(ctx, tmp.Name(), prefix+"/"+shipMetaObject); err != nil {
		return "", err
	}
	return prefix, nil
}

// Fetch downloads a shipped rowset into destDir and opens it. The segments
// land under their canonical local names, so the result is
// indistinguishable from a locally built rowset.
func Fetch(ctx context.Context, store storage.ObjectStorage, prefix, destDir string, schema *types.Schema, concurrency int) (*Rowset, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, serrors.NewStorageError(serrors.CodeDownloadFailed, "create "+destDir, err)
	}
	metaLocal := filepath.Join(destDir, "fetchmeta.json")
	if err := store.Download(ctx, prefix+"/"+shipMetaObject, metaLocal); err != nil {
		return nil, err
	}
	defer os.Remove(metaLocal)
	metaBytes, err := os.ReadFile(metaLocal)
	if err != nil {
		return nil, serrors.NewStorageError(serrors.CodeDownloadFailed, "read fetched meta", err)
	}
	meta, err := UnmarshalMeta(metaBytes)
	if err != nil {
		return nil, serrors.NewStorageError(serrors.CodeDownloadFailed, "decode fetched meta", err)
	}

	items := make([]storage.TransferItem, 0, meta.NumSegments)
	for i := 0; i < meta.NumSegments; i++ {
		items = append(items, storage.TransferItem{
			ObjectPath: shipSegmentObject(prefix, i),
			LocalPath:  SegmentFilePath(destDir, meta.RowsetID, i),
		})
	}
	if err := storage.NewTransferer(store, concurrency).DownloadAll(ctx, items); err != nil {
		return nil, serrors.NewStorageError(serrors.CodeDownloadFailed, "fetch segments of "+prefix, err)
	}
	return Open(destDir, meta, schema)
}
