package storage

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// TransferItem pairs one object path with its local counterpart.
type TransferItem struct {
	ObjectPath string
	LocalPath  string
}

// Transferer moves batches of objects in parallel. Segment files of one
// rowset are independent, so shipping runs them concurrently under a
// semaphore.
type Transferer struct {
	store       ObjectStorage
	concurrency int
}

// NewTransferer bounds parallelism at concurrency; values below one mean 4.
func NewTransferer(store ObjectStorage, concurrency int) *Transferer {
	if concurrency < 1 {
		concurrency = 4
	}
	return &Transferer{store: store, concurrency: concurrency}
}

// UploadAll uploads every item, failing fast on the first error.
func (t *Transferer) UploadAll(ctx context.Context, items []TransferItem) error {
	return t.runAll(ctx, items, func(ctx context.Context, item TransferItem) error {
		return t.store.Upload(ctx, item.LocalPath, item.ObjectPath)
	})
}

// DownloadAll downloads every item, failing fast on the first error.
func (t *Transferer) DownloadAll(ctx context.Context, items []TransferItem) error {
	return t.runAll(ctx, items, func(ctx context.Context, item TransferItem) error {
		return t.store.Download(ctx, item.ObjectPath, item.LocalPath)
	})
}

func (t *Transferer) runAll(ctx context.Context, items []TransferItem, op func(context.Context, TransferItem) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(t.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for _, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			fail(err)
			break
		}
		wg.Add(1)
		go func(item TransferItem) {
			defer sem.Release(1)
			defer wg.Done()
			if err := op(ctx, item); err != nil {
				fail(err)
			}
		}(item)
	}
	wg.Wait()
	return firstErr
}
