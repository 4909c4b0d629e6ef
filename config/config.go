// Package config holds the coordinator configuration, read from a TOML file
// and overridden by command line flags.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/giuliop/ceremony"
	"github.com/giuliop/ceremony/artifact"
	"github.com/giuliop/ceremony/attest"
	"github.com/giuliop/ceremony/log"
	"github.com/giuliop/ceremony/store"
)

const (
	FileBackend = "file"
	S3Backend   = "s3"

	DefaultListen = "127.0.0.1:8855"
)

type Beacon struct {
	Seed   string `toml:"seed"`
	Rounds int    `toml:"rounds"`
}

type Store struct {
	Backend string `toml:"backend"`
	Dir     string `toml:"dir"`
	Bucket  string `toml:"bucket"`
	Region  string `toml:"region"`
	Prefix  string `toml:"prefix"`
}

type Journal struct {
	// Dir is the folder of the journal database, the store folder when
	// empty.
	Dir string `toml:"dir"`
}

type Log struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

type Server struct {
	Listen string `toml:"listen"`
	// Token is the operator token the server requires to issue challenges
	// and import responses. Empty leaves them open.
	Token string `toml:"token"`
}

type Attest struct {
	Mnemonic      string `toml:"mnemonic"`
	RequireSigned bool   `toml:"require_signed"`
}

// Config is the content of a coordinator configuration file.
type Config struct {
	Beacon  Beacon          `toml:"beacon"`
	Naming  artifact.Naming `toml:"naming"`
	Store   Store           `toml:"store"`
	Journal Journal         `toml:"journal"`
	Log     Log             `toml:"log"`
	Server  Server          `toml:"server"`
	Attest  Attest          `toml:"attest"`
}

// Default reproduces the snarkjs ceremony: default beacon and naming, files
// in the working directory.
func Default() *Config {
	return &Config{
		Beacon: Beacon{Seed: ceremony.DefaultBeaconSeed, Rounds: ceremony.DefaultBeaconRounds},
		Naming: artifact.DefaultNaming(),
		Store:  Store{Backend: FileBackend, Dir: "."},
		Log:    Log{Level: "info"},
		Server: Server{Listen: DefaultListen},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default value.
func Load(path string) (*Config, error) {
	c := Default()
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("error reading config %s: %v", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys in %s: %v", path, undecoded)
	}
	return c, c.Validate()
}

// Write encodes c as TOML.
func (c *Config) Write(w io.Writer) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func (c *Config) Validate() error {
	if _, err := c.BeaconValue(); err != nil {
		return err
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	switch c.Store.Backend {
	case FileBackend:
		if c.Store.Dir == "" {
			return fmt.Errorf("file store needs a dir")
		}
	case S3Backend:
		if c.Store.Bucket == "" || c.Store.Region == "" {
			return fmt.Errorf("s3 store needs a bucket and a region")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Naming.FinalKey != "" {
		if err := store.CheckName(c.Naming.FinalKey); err != nil {
			return fmt.Errorf("invalid final key name: %v", err)
		}
	}
	return nil
}

func (c *Config) BeaconValue() (ceremony.Beacon, error) {
	return ceremony.ParseBeacon(c.Beacon.Seed, c.Beacon.Rounds)
}

// Logger builds the configured logger writing to stderr.
func (c *Config) Logger() (log.Logger, error) {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	return log.New(os.Stderr, level, c.Log.JSON), nil
}

// OpenStore opens the configured artifact store, logging to l or the
// default logger when nil.
func (c *Config) OpenStore(l log.Logger) (store.Store, error) {
	if l == nil {
		l = log.DefaultLogger()
	}
	l = l.Named("store")
	switch c.Store.Backend {
	case FileBackend:
		s, err := store.NewFileStore(c.Store.Dir)
		if err != nil {
			return nil, err
		}
		s.SetLogger(l)
		return s, nil
	case S3Backend:
		s, err := store.NewS3Store(c.Store.Region, c.Store.Bucket, c.Store.Prefix)
		if err != nil {
			return nil, err
		}
		s.SetLogger(l)
		return s, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", c.Store.Backend)
}

// JournalDir is the folder of the journal database.
func (c *Config) JournalDir() string {
	if c.Journal.Dir != "" {
		return c.Journal.Dir
	}
	if c.Store.Backend == FileBackend {
		return c.Store.Dir
	}
	return "."
}

// Signer loads the coordinator account, nil when none is configured.
func (c *Config) Signer() (*attest.Signer, error) {
	if c.Attest.Mnemonic == "" {
		return nil, nil
	}
	return attest.NewSigner(c.Attest.Mnemonic)
}

// Options are the coordinator options of c, the journal excluded.
func (c *Config) Options(l log.Logger) ([]ceremony.Option, error) {
	b, err := c.BeaconValue()
	if err != nil {
		return nil, err
	}
	if l == nil {
		l = log.DefaultLogger()
	}
	opts := []ceremony.Option{
		ceremony.WithLogger(l),
		ceremony.WithNaming(c.Naming),
		ceremony.WithBeacon(b),
	}
	signer, err := c.Signer()
	if err != nil {
		return nil, err
	}
	if signer != nil {
		opts = append(opts, ceremony.WithSigner(signer))
	}
	if c.Attest.RequireSigned {
		opts = append(opts, ceremony.RequireSignedResponses())
	}
	return opts, nil
}
