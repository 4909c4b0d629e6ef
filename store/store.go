// Package store holds ceremony artifacts by name.
//
// Writes go through a staging area: Stage writes the bytes somewhere they
// are not visible under their final name, and only Promote (or Replace)
// makes them visible. A crash between the two leaves the previous content
// in place.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when reading a name that does not exist.
	ErrNotFound = errors.New("artifact not found")
	// ErrExists is returned when promoting over an existing name.
	ErrExists = errors.New("artifact already exists")
	// ErrInvalidName is returned for names that are not a single path element.
	ErrInvalidName = errors.New("invalid artifact name")
)

// Staged is a written but not yet visible artifact.
type Staged struct {
	Name string
	Temp string
}

// Store is an addressable collection of artifacts.
type Store interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Exists(ctx context.Context, name string) (bool, error)
	// Stage writes data to a temporary location for name.
	Stage(ctx context.Context, name string, data []byte) (Staged, error)
	// Promote makes a staged artifact visible under its name. It fails with
	// ErrExists if the name is taken.
	Promote(ctx context.Context, s Staged) error
	// Replace makes a staged artifact visible, overwriting any previous one.
	Replace(ctx context.Context, s Staged) error
	// Discard drops a staged artifact.
	Discard(ctx context.Context, s Staged) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
}

// Put stages and promotes data in one go.
func Put(ctx context.Context, s Store, name string, data []byte) error {
	staged, err := s.Stage(ctx, name, data)
	if err != nil {
		return err
	}
	if err := s.Promote(ctx, staged); err != nil {
		_ = s.Discard(ctx, staged)
		return err
	}
	return nil
}

// Overwrite stages and replaces data in one go.
func Overwrite(ctx context.Context, s Store, name string, data []byte) error {
	staged, err := s.Stage(ctx, name, data)
	if err != nil {
		return err
	}
	if err := s.Replace(ctx, staged); err != nil {
		_ = s.Discard(ctx, staged)
		return err
	}
	return nil
}

// CheckName rejects names that would escape the store or collide with the
// staging area.
func CheckName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
	case strings.ContainsAny(name, `/\`):
	case strings.HasPrefix(name, "."):
	default:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidName, name)
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
