package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"supplychain-iq-api/pkg/logging"
)

const defaultWatchDebounce = 500 * time.Millisecond

// DataWatcher はデータディレクトリのテーブルファイルを監視し、
// 変更がまとまって落ち着いたら onChange を1回呼ぶ。
type DataWatcher struct {
	dir      string
	debounce time.Duration
	onChange func(ctx context.Context)
	logger   *zap.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
	ctx     context.Context
	done    chan struct{}
	stop    sync.Once
}

// NewDataWatcher creates a watcher for dir. debounce <= 0 uses 500ms.
func NewDataWatcher(dir string, debounce time.Duration, onChange func(ctx context.Context), logger *zap.Logger) *DataWatcher {
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}
	return &DataWatcher{
		dir:      dir,
		debounce: debounce,
		onChange: onChange,
		logger:   logging.OrNop(logger),
		done:     make(chan struct{}),
	}
}

// ReloadOnChange invalidates the dataset cache and rebuilds the index.
func ReloadOnChange(datasets *DatasetService, retrieval *RetrievalService, logger *zap.Logger) func(ctx context.Context) {
	logger = logging.OrNop(logger)
	return func(ctx context.Context) {
		datasets.Invalidate()
		if _, err := retrieval.Rebuild(ctx); err != nil {
			logger.Warn("rebuild after data change failed", zap.Error(err))
		}
	}
}

// Start begins watching until ctx is cancelled or Stop is called.
func (w *DataWatcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return err
	}

	w.mu.Lock()
	w.watcher = fw
	w.ctx = ctx
	w.mu.Unlock()

	w.logger.Info("watching data directory", zap.String("dir", w.dir), zap.Duration("debounce", w.debounce))
	go w.run(ctx, fw)
	return nil
}

func (w *DataWatcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if !isTableFile(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("data file event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
			w.schedule()
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// schedule restarts the debounce timer.
func (w *DataWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		ctx := w.ctx
		w.timer = nil
		w.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		w.logger.Info("data directory changed, reloading")
		w.onChange(ctx)
	})
}

// Stop stops watching and cancels a pending reload.
func (w *DataWatcher) Stop() {
	w.stop.Do(func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		if w.watcher != nil {
			_ = w.watcher.Close()
			w.watcher = nil
		}
		w.mu.Unlock()
		close(w.done)
	})
}

// isTableFile は4テーブルのCSV/XLSXかどうか（書き込み中の一時ファイルは除く）
func isTableFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	if ext != ".csv" && ext != ".xlsx" {
		return false
	}
	name := strings.TrimSuffix(base, filepath.Ext(base))
	for _, table := range TableNames() {
		if name == table {
			return true
		}
	}
	return false
}
