// Package devicetest provides an in-memory device.Client backed by a fake
// filesystem, with per-operation failure injection for exercising retry,
// circuit-breaker and partial-failure paths without a real device.
package devicetest

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"

	"inkpost/pkg/device"
)

// Fake is an in-memory device.Client. The zero value is not usable; create
// with NewFake.
type Fake struct {
	mu      sync.Mutex
	files   map[string][]byte   // path -> content
	folders map[string]struct{} // path -> present

	// FailUploads, FailDeletes and FailLists inject N transient failures
	// before the matching operation succeeds. Keyed by device path; the
	// key "*" applies to every path.
	FailUploads map[string]int
	FailDeletes map[string]int
	FailLists   map[string]int

	// RejectDeletes marks paths whose deletion permanently fails with
	// ErrDeviceRejected (a "stubborn" file).
	RejectDeletes map[string]bool

	// LostDeletes marks paths whose first deletion lands but whose response
	// is lost: the entry is removed, the call still reports ErrUnreachable.
	LostDeletes map[string]bool

	// Reachable controls CheckReachability.
	Reachable bool

	// Uploads records every successful upload in order.
	Uploads []string

	moveRename bool
}

// NewFake returns an empty reachable fake speaking the crosspoint feature
// set (move/rename supported).
func NewFake() *Fake {
	return &Fake{
		files:         make(map[string][]byte),
		folders:       map[string]struct{}{"/": {}},
		FailUploads:   make(map[string]int),
		FailDeletes:   make(map[string]int),
		FailLists:     make(map[string]int),
		RejectDeletes: make(map[string]bool),
		LostDeletes:   make(map[string]bool),
		Reachable:     true,
		moveRename:    true,
	}
}

func (f *Fake) Label() string            { return "Fake device" }
func (f *Fake) BaseURL() string          { return "http://fake.invalid" }
func (f *Fake) SupportsMoveRename() bool { return f.moveRename }

// AddFile seeds a file, creating parent folders.
func (f *Fake) AddFile(p string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = normalize(p)
	f.files[p] = data
	f.addParentsLocked(p)
}

// AddFolder seeds a folder, creating parents.
func (f *Fake) AddFolder(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = normalize(p)
	f.folders[p] = struct{}{}
	f.addParentsLocked(p)
}

// HasFile reports whether a file exists.
func (f *Fake) HasFile(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[normalize(p)]
	return ok
}

// HasFolder reports whether a folder exists.
func (f *Fake) HasFolder(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.folders[normalize(p)]
	return ok
}

// EntryCount returns how many files and folders remain under root.
func (f *Fake) EntryCount(root string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	root = normalize(root)
	n := 0
	for p := range f.files {
		if strings.HasPrefix(p, root+"/") {
			n++
		}
	}
	for p := range f.folders {
		if strings.HasPrefix(p, root+"/") {
			n++
		}
	}
	return n
}

func (f *Fake) ListFiles(ctx context.Context, dir string) ([]device.FileEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir = normalize(dir)

	if err := f.consumeFailureLocked(f.FailLists, dir); err != nil {
		return nil, err
	}
	if _, ok := f.folders[dir]; !ok {
		return nil, device.ErrDeviceRejected
	}

	var entries []device.FileEntry
	for p, data := range f.files {
		if parentOf(p) == dir {
			entries = append(entries, device.FileEntry{
				Name: path.Base(p), Path: p, Size: int64(len(data)),
			})
		}
	}
	for p := range f.folders {
		if p != "/" && parentOf(p) == dir {
			entries = append(entries, device.FileEntry{
				Name: path.Base(p), Path: p, IsDir: true,
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (f *Fake) CreateFolder(ctx context.Context, name, parent string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := normalize(path.Join(parent, name))
	if _, ok := f.folders[p]; ok {
		return device.ErrAlreadyExists
	}
	f.folders[p] = struct{}{}
	f.addParentsLocked(p)
	return nil
}

func (f *Fake) DeleteFile(ctx context.Context, filePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	filePath = normalize(filePath)

	if f.RejectDeletes[filePath] {
		return device.ErrDeviceRejected
	}
	if err := f.consumeFailureLocked(f.FailDeletes, filePath); err != nil {
		return err
	}
	if _, ok := f.files[filePath]; !ok {
		return device.ErrDeviceRejected
	}
	delete(f.files, filePath)
	if f.LostDeletes[filePath] {
		delete(f.LostDeletes, filePath)
		return device.ErrUnreachable
	}
	return nil
}

func (f *Fake) DeleteFolder(ctx context.Context, folderPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	folderPath = normalize(folderPath)

	if f.RejectDeletes[folderPath] {
		return device.ErrDeviceRejected
	}
	if err := f.consumeFailureLocked(f.FailDeletes, folderPath); err != nil {
		return err
	}
	if _, ok := f.folders[folderPath]; !ok {
		return device.ErrDeviceRejected
	}
	for p := range f.files {
		if parentOf(p) == folderPath {
			return device.ErrFolderNotEmpty
		}
	}
	for p := range f.folders {
		if p != folderPath && parentOf(p) == folderPath {
			return device.ErrFolderNotEmpty
		}
	}
	delete(f.folders, folderPath)
	if f.LostDeletes[folderPath] {
		delete(f.LostDeletes, folderPath)
		return device.ErrUnreachable
	}
	return nil
}

func (f *Fake) MoveFile(ctx context.Context, filePath, destination string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	filePath = normalize(filePath)
	data, ok := f.files[filePath]
	if !ok {
		return device.ErrDeviceRejected
	}
	delete(f.files, filePath)
	f.files[normalize(path.Join(destination, path.Base(filePath)))] = data
	return nil
}

func (f *Fake) RenameFile(ctx context.Context, filePath, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	filePath = normalize(filePath)
	data, ok := f.files[filePath]
	if !ok {
		return device.ErrDeviceRejected
	}
	delete(f.files, filePath)
	f.files[normalize(path.Join(parentOf(filePath), newName))] = data
	return nil
}

func (f *Fake) EnsureFolder(ctx context.Context, folderPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := normalize(folderPath)
	f.folders[p] = struct{}{}
	f.addParentsLocked(p)
	return nil
}

func (f *Fake) UploadFile(ctx context.Context, data []byte, filename, folder string, onProgress device.ProgressFunc) error {
	if onProgress != nil {
		onProgress(0)
	}

	f.mu.Lock()
	p := normalize(path.Join(folder, filename))
	if err := f.consumeFailureLocked(f.FailUploads, p); err != nil {
		f.mu.Unlock()
		return err
	}
	f.files[p] = data
	f.addParentsLocked(p)
	f.Uploads = append(f.Uploads, p)
	f.mu.Unlock()

	if onProgress != nil {
		onProgress(1)
	}
	return nil
}

func (f *Fake) FetchStatus(ctx context.Context) (*device.DeviceStatus, error) {
	return nil, nil
}

func (f *Fake) CheckReachability(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Reachable
}

// consumeFailureLocked pops one injected transient failure for p, checking
// the wildcard entry as well.
func (f *Fake) consumeFailureLocked(m map[string]int, p string) error {
	for _, key := range []string{p, "*"} {
		if m[key] > 0 {
			m[key]--
			return device.ErrUnreachable
		}
	}
	return nil
}

func (f *Fake) addParentsLocked(p string) {
	for dir := parentOf(p); ; dir = parentOf(dir) {
		f.folders[dir] = struct{}{}
		if dir == "/" {
			return
		}
	}
}

func normalize(p string) string {
	p = path.Clean("/" + strings.TrimPrefix(p, "/"))
	return p
}

func parentOf(p string) string {
	parent := path.Dir(normalize(p))
	if parent == "." || parent == "" {
		return "/"
	}
	return parent
}
