package journalsync

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/agentworkforce/relayjournal/internal/fsutil"
)

// Vault is the note store the merger writes into. Paths are slash-separated
// and relative to the vault root.
//
// CreateFolder reports an error matching fs.ErrExist when the folder is
// already there; Create fails the same way for an existing note, and Modify
// with fs.ErrNotExist for a missing one.
type Vault interface {
	Exists(path string) (bool, error)
	Read(path string) (string, error)
	CreateFolder(path string) error
	Create(path, content string) error
	Modify(path, content string) error
}

// OSVault is a Vault over a directory on disk.
type OSVault struct {
	root string
}

func NewOSVault(root string) (*OSVault, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("vault directory is required")
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &OSVault{root: root}, nil
}

func (v *OSVault) Root() string {
	return v.root
}

func (v *OSVault) Exists(notePath string) (bool, error) {
	local, err := v.localPath(notePath)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(local)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (v *OSVault) Read(notePath string) (string, error) {
	local, err := v.localPath(notePath)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (v *OSVault) CreateFolder(folder string) error {
	local, err := v.localPath(folder)
	if err != nil {
		return err
	}
	if info, statErr := os.Stat(local); statErr == nil {
		if info.IsDir() {
			return &fs.PathError{Op: "mkdir", Path: folder, Err: fs.ErrExist}
		}
		return fmt.Errorf("%s exists and is not a folder", folder)
	}
	return os.MkdirAll(local, 0o755)
}

func (v *OSVault) Create(notePath, content string) error {
	local, err := v.localPath(notePath)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(local); statErr == nil {
		return &fs.PathError{Op: "create", Path: notePath, Err: fs.ErrExist}
	}
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(local, []byte(content), 0o644)
}

func (v *OSVault) Modify(notePath, content string) error {
	local, err := v.localPath(notePath)
	if err != nil {
		return err
	}
	info, err := os.Stat(local)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(local, []byte(content), info.Mode().Perm())
}

func (v *OSVault) localPath(notePath string) (string, error) {
	rel, err := cleanVaultPath(notePath)
	if err != nil {
		return "", err
	}
	return filepath.Join(v.root, filepath.FromSlash(rel)), nil
}

func cleanVaultPath(notePath string) (string, error) {
	notePath = strings.TrimSpace(strings.ReplaceAll(notePath, "\\", "/"))
	cleaned := path.Clean("/" + notePath)
	rel := strings.TrimPrefix(cleaned, "/")
	if rel == "" || rel == "." {
		return "", fmt.Errorf("vault path %q does not name an entry", notePath)
	}
	if strings.Contains("/"+notePath+"/", "/../") {
		return "", fmt.Errorf("vault path %q escapes the vault", notePath)
	}
	return rel, nil
}

// MemVault is an in-memory Vault. Writes to a path registered with FailWrites
// return that error.
type MemVault struct {
	mu      sync.Mutex
	files   map[string]string
	folders map[string]struct{}
	failing map[string]error
	writes  int
}

func NewMemVault() *MemVault {
	return &MemVault{
		files:   map[string]string{},
		folders: map[string]struct{}{},
		failing: map[string]error{},
	}
}

func (v *MemVault) Exists(notePath string) (bool, error) {
	rel, err := cleanVaultPath(notePath)
	if err != nil {
		return false, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.files[rel]; ok {
		return true, nil
	}
	_, ok := v.folders[rel]
	return ok, nil
}

func (v *MemVault) Read(notePath string) (string, error) {
	rel, err := cleanVaultPath(notePath)
	if err != nil {
		return "", err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	content, ok := v.files[rel]
	if !ok {
		return "", &fs.PathError{Op: "read", Path: notePath, Err: fs.ErrNotExist}
	}
	return content, nil
}

func (v *MemVault) CreateFolder(folder string) error {
	rel, err := cleanVaultPath(folder)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.folders[rel]; ok {
		return &fs.PathError{Op: "mkdir", Path: folder, Err: fs.ErrExist}
	}
	for dir := rel; dir != "." && dir != ""; dir = path.Dir(dir) {
		v.folders[dir] = struct{}{}
	}
	return nil
}

func (v *MemVault) Create(notePath, content string) error {
	rel, err := cleanVaultPath(notePath)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.failing[rel]; err != nil {
		return err
	}
	if _, ok := v.files[rel]; ok {
		return &fs.PathError{Op: "create", Path: notePath, Err: fs.ErrExist}
	}
	v.files[rel] = content
	v.writes++
	return nil
}

func (v *MemVault) Modify(notePath, content string) error {
	rel, err := cleanVaultPath(notePath)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.failing[rel]; err != nil {
		return err
	}
	if _, ok := v.files[rel]; !ok {
		return &fs.PathError{Op: "modify", Path: notePath, Err: fs.ErrNotExist}
	}
	v.files[rel] = content
	v.writes++
	return nil
}

// FailWrites makes Create and Modify on notePath return err; nil clears it.
func (v *MemVault) FailWrites(notePath string, err error) {
	rel, cleanErr := cleanVaultPath(notePath)
	if cleanErr != nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err == nil {
		delete(v.failing, rel)
		return
	}
	v.failing[rel] = err
}

// Files returns a copy of every note keyed by path.
func (v *MemVault) Files() map[string]string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]string, len(v.files))
	for k, content := range v.files {
		out[k] = content
	}
	return out
}

// Paths lists note paths in sorted order.
func (v *MemVault) Paths() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, 0, len(v.files))
	for k := range v.files {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Writes counts successful Create and Modify calls.
func (v *MemVault) Writes() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.writes
}
