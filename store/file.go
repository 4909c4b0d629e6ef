package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/giuliop/ceremony/log"
)

const (
	dirPerm  = 0740
	filePerm = 0640
)

var removeFile = os.Remove

// FileStore keeps artifacts as files in a single directory. Staged files
// are hidden dot files in the same directory so promotion is a link or
// rename within one filesystem.
type FileStore struct {
	dir string
	log log.Logger
}

// NewFileStore opens (creating if needed) a store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("error creating store folder: %v", err)
	}
	return &FileStore{dir: dir, log: log.DefaultLogger().Named("store")}, nil
}

func (f *FileStore) SetLogger(l log.Logger) {
	f.log = l
}

// Dir is the folder backing the store.
func (f *FileStore) Dir() string {
	return f.dir
}

// Path is the file path of name.
func (f *FileStore) Path(name string) string {
	return filepath.Join(f.dir, name)
}

func (f *FileStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if err := CheckName(name); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(f.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return b, err
}

func (f *FileStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := CheckName(name); err != nil {
		return false, err
	}
	_, err := os.Stat(f.Path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (f *FileStore) Stage(ctx context.Context, name string, data []byte) (Staged, error) {
	if err := checkCtx(ctx); err != nil {
		return Staged{}, err
	}
	if err := CheckName(name); err != nil {
		return Staged{}, err
	}
	tmp, err := os.CreateTemp(f.dir, "."+name+".tmp-*")
	if err != nil {
		return Staged{}, err
	}
	staged := Staged{Name: name, Temp: filepath.Base(tmp.Name())}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return Staged{}, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return Staged{}, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return Staged{}, err
	}
	if err := os.Chmod(tmp.Name(), filePerm); err != nil {
		os.Remove(tmp.Name())
		return Staged{}, err
	}
	return staged, nil
}

// Promote links the staged file under its name, which fails atomically if
// the name is taken, then drops the temporary name. Once linked the artifact
// is promoted: a leftover temporary name is only logged.
func (f *FileStore) Promote(ctx context.Context, s Staged) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if err := CheckName(s.Name); err != nil {
		return err
	}
	err := os.Link(f.Path(s.Temp), f.Path(s.Name))
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s", ErrExists, s.Name)
	}
	if err != nil {
		return err
	}
	if err := removeFile(f.Path(s.Temp)); err != nil {
		f.log.Warnw("error removing staged file", "name", s.Name, "temp", s.Temp, "err", err)
	}
	return nil
}

func (f *FileStore) Replace(ctx context.Context, s Staged) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if err := CheckName(s.Name); err != nil {
		return err
	}
	return os.Rename(f.Path(s.Temp), f.Path(s.Name))
}

func (f *FileStore) Discard(ctx context.Context, s Staged) error {
	if s.Temp == "" {
		return nil
	}
	err := os.Remove(f.Path(s.Temp))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (f *FileStore) Delete(ctx context.Context, name string) error {
	if err := CheckName(name); err != nil {
		return err
	}
	err := os.Remove(f.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return err
}

// List returns the visible artifact names, sorted.
func (f *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
