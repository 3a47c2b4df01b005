// Package logwatch locates and follows per-run log files.
package logwatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hochfrequenz/agent-runloop/internal/backend"
)

// timestampLayout matches the trailing timestamp in log file names
const timestampLayout = "20060102-150405"

// backendNames is the closed set of backend discriminators that can
// appear in a log file name
var backendNames = map[string]bool{
	string(backend.Gptme):      true,
	string(backend.ClaudeCode): true,
	string(backend.Codex):      true,
}

// logTimestamp parses the timestamp out of a
// <runName>-<backend>-<timestamp>.log file name. Names that do not
// match that shape exactly are rejected, so a run name never picks up
// logs of a longer run name it happens to prefix.
func logTimestamp(name, runName string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(name, runName+"-")
	if !ok {
		return time.Time{}, false
	}
	rest, ok = strings.CutSuffix(rest, ".log")
	if !ok {
		return time.Time{}, false
	}

	// rest is <backend>-<timestamp>; the backend may itself contain a
	// hyphen, the timestamp has fixed width.
	sep := len(rest) - len(timestampLayout) - 1
	if sep < 1 || rest[sep] != '-' || !backendNames[rest[:sep]] {
		return time.Time{}, false
	}
	ts, err := time.Parse(timestampLayout, rest[sep+1:])
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// Latest returns the newest log file for a run name in dir, by the
// timestamp embedded in the <runName>-<backend>-<timestamp>.log name.
func Latest(dir, runName string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var newest string
	var newestTS time.Time
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ts, ok := logTimestamp(name, runName)
		if !ok {
			continue
		}
		if newest == "" || ts.After(newestTS) {
			newest = name
			newestTS = ts
		}
	}

	if newest == "" {
		return "", fmt.Errorf("no logs found for run %q in %s", runName, dir)
	}
	return filepath.Join(dir, newest), nil
}

// Follow copies the current contents of path to w, then streams bytes
// as they are appended until ctx is done. A filesystem watcher drives
// the reads, with a short poll fallback for filesystems that drop
// events.
func Follow(ctx context.Context, path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: write events on the file itself are not
	// delivered reliably on all platforms.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	if _, err := io.Copy(w, f); err != nil {
		return err
	}

	poll := time.NewTicker(500 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name == path && ev.Op&fsnotify.Write != 0 {
				if _, err := io.Copy(w, f); err != nil {
					return err
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		case <-poll.C:
			if _, err := io.Copy(w, f); err != nil {
				return err
			}
		}
	}
}
