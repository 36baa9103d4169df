// cmd/hookbot/config_manager.go
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigManager holds the current Settings and reloads them when the
// settings file changes.
type ConfigManager struct {
	settingsPath   string
	reloadInterval time.Duration
	current        atomic.Pointer[Settings]

	mutex        sync.Mutex
	lastModified time.Time
	onReload     func(*Settings)

	watcher  *fsnotify.Watcher
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewConfigManager loads the settings file and prepares a watcher on its
// directory.
func NewConfigManager(settingsPath string, reloadInterval time.Duration) (*ConfigManager, error) {
	settings, err := LoadSettings(settingsPath)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	dir := filepath.Dir(settingsPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to create settings directory %s: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	var modTime time.Time
	if info, err := os.Stat(settingsPath); err == nil {
		modTime = info.ModTime()
	}

	cm := &ConfigManager{
		settingsPath:   filepath.Clean(settingsPath),
		reloadInterval: reloadInterval,
		lastModified:   modTime,
		watcher:        watcher,
		stop:           make(chan struct{}),
	}
	cm.current.Store(settings)
	return cm, nil
}

// Settings returns the current settings
func (cm *ConfigManager) Settings() *Settings {
	return cm.current.Load()
}

// Permissions returns the current permission groups
func (cm *ConfigManager) Permissions() PermissionGroups {
	return cm.Settings().Permissions
}

// Baseline returns the permissions the global check requires
func (cm *ConfigManager) Baseline() []string {
	return cm.Settings().Baseline()
}

// SetReloadHandler sets the callback run after each successful reload
func (cm *ConfigManager) SetReloadHandler(handler func(*Settings)) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.onReload = handler
}

// StartWatching starts watching for settings changes
func (cm *ConfigManager) StartWatching() {
	cm.wg.Add(1)
	go cm.watchForChanges()
	if cm.reloadInterval > 0 {
		cm.wg.Add(1)
		go cm.periodicCheck()
	}
}

// Stop stops the watcher and waits for its goroutines
func (cm *ConfigManager) Stop() {
	cm.stopOnce.Do(func() {
		close(cm.stop)
		cm.watcher.Close()
	})
	cm.wg.Wait()
}

func (cm *ConfigManager) watchForChanges() {
	defer cm.wg.Done()
	for {
		select {
		case event, ok := <-cm.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) == cm.settingsPath && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				cm.checkAndReload()
			}

		case err, ok := <-cm.watcher.Errors:
			if !ok {
				return
			}
			Log().Warning("Error watching settings file: %v", err)

		case <-cm.stop:
			return
		}
	}
}

func (cm *ConfigManager) periodicCheck() {
	defer cm.wg.Done()
	ticker := time.NewTicker(cm.reloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cm.checkAndReload()
		case <-cm.stop:
			return
		}
	}
}

// checkAndReload reloads the file if it changed since the last load. A
// file that fails to parse or validate leaves the current settings in
// place.
func (cm *ConfigManager) checkAndReload() {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	info, err := os.Stat(cm.settingsPath)
	if err != nil {
		Log().Warning("Error checking settings file: %v", err)
		return
	}
	if !info.ModTime().After(cm.lastModified) {
		return
	}

	Log().Info("Settings file changed, reloading...")
	settings, err := LoadSettings(cm.settingsPath)
	if err != nil {
		Log().Error("Error reloading settings, keeping previous: %v", err)
		return
	}

	cm.lastModified = info.ModTime()
	cm.current.Store(settings)
	if cm.onReload != nil {
		cm.onReload(settings)
	}
	Log().Info("Settings successfully reloaded")
}
