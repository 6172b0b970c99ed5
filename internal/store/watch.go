package store

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"marketcache/internal/logger"

	"github.com/fsnotify/fsnotify"
)

// Watch 监听缓存根目录，sidecar 被删除或改名时回调其相对路径（不含 sidecar 后缀）。
// 用于运维在进程运行期间清理文件后，驱逐内存中的分段副本。ctx 结束时返回。
func (s *FileStore) Watch(ctx context.Context, onRemoved func(rel string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := addTree(w, s.root); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(w, ev.Name); err != nil {
						logger.Warnf("[store] watch %s: %v", ev.Name, err)
					}
				}
				continue
			}
			if !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !strings.HasSuffix(ev.Name, manifestSuffix) {
				continue
			}
			rel, err := filepath.Rel(s.root, strings.TrimSuffix(ev.Name, manifestSuffix))
			if err != nil {
				continue
			}
			onRemoved(filepath.ToSlash(rel))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("[store] watcher error: %v", err)
		}
	}
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
