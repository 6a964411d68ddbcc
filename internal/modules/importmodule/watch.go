package importmodule

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gorm.io/gorm"

	"github.com/modelbay/modelbay/internal/database"
	"github.com/modelbay/modelbay/internal/events"
	"github.com/modelbay/modelbay/internal/logger"
	"github.com/modelbay/modelbay/internal/modules/importmodule/importer"
	"github.com/modelbay/modelbay/internal/utils"
)

// Watcher monitors registered watch folders and starts an import job
// when a folder goes quiet. Every filesystem event under a folder
// resets that folder's debounce timer, so a long file copy produces a
// single job after it finishes instead of one per file.
type Watcher struct {
	db       *gorm.DB
	manager  *Manager
	bus      events.EventBus
	debounce time.Duration

	fsw    *fsnotify.Watcher
	cancel func()
	wg     sync.WaitGroup

	mu     sync.Mutex
	roots  map[uint]string // enabled folder id -> clean path
	timers map[uint]*time.Timer
	closed bool
}

// NewWatcher creates the watcher; Start attaches the registered folders
func NewWatcher(db *gorm.DB, manager *Manager, bus events.EventBus, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create filesystem watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 5 * time.Second
	}
	return &Watcher{
		db:       db,
		manager:  manager,
		bus:      bus,
		debounce: debounce,
		fsw:      fsw,
		roots:    make(map[uint]string),
		timers:   make(map[uint]*time.Timer),
	}, nil
}

// Start attaches every enabled folder and begins processing events
func (w *Watcher) Start() error {
	var folders []database.WatchFolder
	if err := w.db.Where("enabled = ?", true).Find(&folders).Error; err != nil {
		return fmt.Errorf("load watch folders: %w", err)
	}
	for _, folder := range folders {
		if err := w.watchRoot(folder.ID, folder.Path); err != nil {
			logger.Warn("⚠️ Could not watch folder %d (%s): %v", folder.ID, folder.Path, err)
		}
	}

	done := make(chan struct{})
	w.cancel = func() { close(done) }
	w.wg.Add(1)
	go w.run(done)

	logger.Info("👀 Watch service started with %d folders", len(folders))
	return nil
}

// Stop tears down the watcher and any armed debounce timers
func (w *Watcher) Stop() error {
	w.mu.Lock()
	w.closed = true
	for id, timer := range w.timers {
		timer.Stop()
		delete(w.timers, id)
	}
	w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

// run is the event loop; it exits when the watcher closes
func (w *Watcher) run(done <-chan struct{}) {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Error("Watch service error: %v", err)
		case <-done:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	rootID := w.rootFor(event.Name)
	if rootID == 0 {
		return
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return
	}

	// New directories need their own watch; a moved-in tree emits only
	// one event for its top directory.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(event.Name); err != nil {
				logger.Debug("Could not watch new directory %s: %v", event.Name, err)
			}
			w.bump(rootID)
			return
		}
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	if utils.NormalizeFileType(event.Name) == "" {
		return
	}
	w.bump(rootID)
}

// rootFor maps an event path to its watch folder, or 0
func (w *Watcher) rootFor(path string) uint {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, root := range w.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return id
		}
	}
	return 0
}

// bump resets the folder's debounce timer, arming it if needed
func (w *Watcher) bump(folderID uint) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if timer, ok := w.timers[folderID]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.timers[folderID] = time.AfterFunc(w.debounce, func() {
		w.trigger(folderID)
	})
}

// trigger fires after a quiet period and starts the import job
func (w *Watcher) trigger(folderID uint) {
	w.mu.Lock()
	delete(w.timers, folderID)
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	// Re-read the row; the folder may have been disabled or removed
	// while the timer was armed.
	var folder database.WatchFolder
	if err := w.db.First(&folder, folderID).Error; err != nil || !folder.Enabled {
		return
	}

	job := &database.ImportJob{
		SourceType:         importer.SourceTypeWatch,
		SourcePath:         folder.Path,
		GeneratePreviews:   true,
		GenerateAIMetadata: true,
		DetectDuplicates:   true,
		AdaptiveThrottle:   true,
	}
	if err := w.manager.StartJob(job); err != nil {
		if errors.Is(err, ErrTooManyJobs) {
			logger.Warn("Watch folder %d settled but job capacity is full, retrying in %s", folderID, w.debounce)
			w.bump(folderID)
			return
		}
		logger.Error("Watch folder %d could not start import: %v", folderID, err)
		return
	}

	if err := w.db.Model(&database.WatchFolder{}).Where("id = ?", folderID).
		Update("last_job_id", job.ID).Error; err != nil {
		logger.Warn("Could not record last job for watch folder %d: %v", folderID, err)
	}
	if w.bus != nil {
		w.bus.PublishAsync(events.NewEvent(job.ID, events.WatchTriggeredPayload{
			FolderID: folderID,
			Path:     folder.Path,
		}))
	}
	logger.Info("📁 Watch folder %s settled, started import job %d", folder.Path, job.ID)
}

// watchRoot attaches the folder and its non-hidden subdirectories
func (w *Watcher) watchRoot(folderID uint, path string) error {
	if err := w.fsw.Add(path); err != nil {
		return err
	}
	err := filepath.WalkDir(path, func(sub string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() || sub == path {
			return nil
		}
		if strings.HasPrefix(entry.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(sub); err != nil {
			logger.Debug("Could not watch subdirectory %s: %v", sub, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.roots[folderID] = filepath.Clean(path)
	w.mu.Unlock()
	return nil
}

// unwatchRoot detaches the folder and everything under it
func (w *Watcher) unwatchRoot(folderID uint) {
	w.mu.Lock()
	root, ok := w.roots[folderID]
	delete(w.roots, folderID)
	if timer, armed := w.timers[folderID]; armed {
		timer.Stop()
		delete(w.timers, folderID)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	for _, watched := range w.fsw.WatchList() {
		if watched == root || strings.HasPrefix(watched, root+string(filepath.Separator)) {
			_ = w.fsw.Remove(watched)
		}
	}
}

// Folders lists the registered watch folders
func (w *Watcher) Folders() ([]database.WatchFolder, error) {
	var folders []database.WatchFolder
	if err := w.db.Order("id ASC").Find(&folders).Error; err != nil {
		return nil, &importer.DatabaseError{Op: "list watch folders", Err: err}
	}
	return folders, nil
}

// AddFolder registers a directory for watching. Enabled folders start
// receiving events immediately.
func (w *Watcher) AddFolder(path string, enabled bool) (*database.WatchFolder, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, importer.NewValidationError("path", "path is not resolvable")
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, importer.NewValidationError("path", "path does not exist")
	}
	if !info.IsDir() {
		return nil, importer.NewValidationError("path", "path is not a directory")
	}

	var existing database.WatchFolder
	if err := w.db.Where("path = ?", abs).First(&existing).Error; err == nil {
		return nil, importer.NewValidationError("path", "path is already watched")
	}

	folder := &database.WatchFolder{Path: abs, Enabled: enabled}
	if err := w.db.Create(folder).Error; err != nil {
		return nil, &importer.DatabaseError{Op: "create watch folder", Err: err}
	}
	if enabled {
		if err := w.watchRoot(folder.ID, folder.Path); err != nil {
			logger.Warn("⚠️ Watch folder %d created but not watchable: %v", folder.ID, err)
		}
	}
	return folder, nil
}

// SetEnabled flips watching for one folder
func (w *Watcher) SetEnabled(folderID uint, enabled bool) (*database.WatchFolder, error) {
	var folder database.WatchFolder
	if err := w.db.First(&folder, folderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWatchFolderNotFound
		}
		return nil, &importer.DatabaseError{Op: "load watch folder", Err: err}
	}
	if folder.Enabled == enabled {
		return &folder, nil
	}
	if err := w.db.Model(&folder).Update("enabled", enabled).Error; err != nil {
		return nil, &importer.DatabaseError{Op: "update watch folder", Err: err}
	}
	folder.Enabled = enabled
	if enabled {
		if err := w.watchRoot(folder.ID, folder.Path); err != nil {
			logger.Warn("⚠️ Watch folder %d enabled but not watchable: %v", folder.ID, err)
		}
	} else {
		w.unwatchRoot(folder.ID)
	}
	return &folder, nil
}

// RemoveFolder deletes the registration and detaches its watches
func (w *Watcher) RemoveFolder(folderID uint) error {
	var folder database.WatchFolder
	if err := w.db.First(&folder, folderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrWatchFolderNotFound
		}
		return &importer.DatabaseError{Op: "load watch folder", Err: err}
	}
	if err := w.db.Delete(&folder).Error; err != nil {
		return &importer.DatabaseError{Op: "delete watch folder", Err: err}
	}
	w.unwatchRoot(folderID)
	return nil
}

// ErrWatchFolderNotFound means the watch folder id does not exist
var ErrWatchFolderNotFound = errors.New("watch folder not found")
