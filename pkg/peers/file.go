package peers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const fileLogPrefix = "peers:file"

const fileReloadDebounce = 100 * time.Millisecond

// peersFile is the YAML layout of a peers file.
type peersFile struct {
	Peers []Peer `yaml:"peers"`
}

// FileDirectory serves peers from a YAML file and reloads it when it changes.
type FileDirectory struct {
	*MemoryDirectory
	path string
}

// NewFileDirectory loads path. The file must exist and parse.
func NewFileDirectory(path string) (*FileDirectory, error) {
	d := &FileDirectory{MemoryDirectory: NewMemoryDirectory(), path: path}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// ParsePeersFile decodes the YAML peers layout.
func ParsePeersFile(data []byte) ([]Peer, error) {
	var f peersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%s - parse: %w", fileLogPrefix, err)
	}
	for i, p := range f.Peers {
		if p.Address == "" {
			return nil, fmt.Errorf("%s - peer %d (entry %d) has no address", fileLogPrefix, p.ID, i)
		}
	}
	return f.Peers, nil
}

// Reload re-reads the file. On error the previous peers stay in place.
func (d *FileDirectory) Reload() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("%s - read %s: %w", fileLogPrefix, d.path, err)
	}
	peers, err := ParsePeersFile(data)
	if err != nil {
		return err
	}
	d.Replace(peers)
	slog.Info(fmt.Sprintf("%s - loaded %d peers from %s", fileLogPrefix, len(peers), d.path))
	return nil
}

// Watch reloads the file on every change until ctx ends. The parent directory is watched
// so editors that replace the file by rename are seen too.
func (d *FileDirectory) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%s - create watcher: %w", fileLogPrefix, err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(d.path)); err != nil {
		return fmt.Errorf("%s - watch %s: %w", fileLogPrefix, d.path, err)
	}
	target := filepath.Clean(d.path)

	var timer *time.Timer
	reload := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(fileReloadDebounce, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(fileReloadDebounce)
			}
		case <-reload:
			if err := d.Reload(); err != nil {
				slog.Warn(fmt.Sprintf("%s - keeping previous peers: %v", fileLogPrefix, err))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn(fmt.Sprintf("%s - watcher error: %v", fileLogPrefix, err))
		}
	}
}
