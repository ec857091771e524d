// Package config replaces the teacher's single package-level
// flag.String("config", ...) with small structs populated by pflag and
// validated the same way service/config.Run validated its directory
// argument: Validate returns a plain error, never panics, and callers
// decide what to do with it.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/willbryant/kitchen-sync/internal/applier"
	"github.com/willbryant/kitchen-sync/internal/rowhash"
)

// Source holds the flags kitchen-sync-source needs: just where to listen.
// Schema and filter parsing are out of scope, so there's nothing else to
// configure on this side.
type Source struct {
	Listen string
}

func (c *Source) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Listen, "listen", ":7601", "address to accept target connections on")
}

func (c *Source) Validate() error {
	if len(c.Listen) == 0 {
		return errors.New("missing listen address")
	}
	return nil
}

// Target holds the flags kitchen-sync-target needs to drive a sync run.
type Target struct {
	Connect       string
	Workers       int
	Commit        string
	HashAlgorithm string
	BlockSize     int64
	Tables        []string
	IgnoreTables  []string
	InsertOnly    bool
	Snapshot      bool
	Verbose       int
}

func (c *Target) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Connect, "connect", "", "address of the kitchen-sync-source to connect to")
	fs.IntVar(&c.Workers, "workers", 1, "number of concurrent worker connections")
	fs.StringVar(&c.Commit, "commit", "at-end", "commit policy: at-end or often")
	fs.StringVar(&c.HashAlgorithm, "hash-algorithm", string(rowhash.BLAKE3), "row hash algorithm: md5, xxh64, or blake3")
	fs.Int64Var(&c.BlockSize, "block-size", 64*1024*1024, "maximum bytes of row data hashed in a single round trip")
	fs.StringSliceVar(&c.Tables, "tables", nil, "only sync these tables (default: all)")
	fs.StringSliceVar(&c.IgnoreTables, "ignore-tables", nil, "skip these tables")
	fs.BoolVar(&c.InsertOnly, "insert-only", false, "skip pre-clearing deletes; the target is known append-only")
	fs.BoolVar(&c.Snapshot, "snapshot", true, "coordinate a consistent snapshot across workers")
	fs.CountVarP(&c.Verbose, "verbose", "v", "increase log verbosity (repeatable)")
}

// Validate checks the flags that can be checked before any connection is
// made; CommitLevel/Algorithm return the typed values Validate confirmed
// are parseable, so callers never re-parse the strings.
func (c *Target) Validate() error {
	if len(c.Connect) == 0 {
		return errors.New("missing connect address")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if _, err := c.CommitLevel(); err != nil {
		return err
	}
	if _, err := c.Algorithm(); err != nil {
		return err
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("block-size must be positive, got %d", c.BlockSize)
	}
	if len(c.Tables) > 0 && len(c.IgnoreTables) > 0 {
		return errors.New("--tables and --ignore-tables are mutually exclusive")
	}
	return nil
}

func (c *Target) CommitLevel() (applier.CommitLevel, error) {
	switch c.Commit {
	case "at-end":
		return applier.CommitAtEnd, nil
	case "often":
		return applier.CommitOften, nil
	default:
		return 0, fmt.Errorf("unrecognized --commit %q, expected at-end or often", c.Commit)
	}
}

func (c *Target) Algorithm() (rowhash.Algorithm, error) {
	switch rowhash.Algorithm(c.HashAlgorithm) {
	case rowhash.MD5, rowhash.XXH64, rowhash.BLAKE3:
		return rowhash.Algorithm(c.HashAlgorithm), nil
	default:
		return "", fmt.Errorf("unrecognized --hash-algorithm %q, expected md5, xxh64, or blake3", c.HashAlgorithm)
	}
}

// WantsTable applies the --tables/--ignore-tables filter to a table name
// discovered via FetchSchema.
func (c *Target) WantsTable(name string) bool {
	if len(c.Tables) > 0 {
		for _, t := range c.Tables {
			if t == name {
				return true
			}
		}
		return false
	}
	for _, t := range c.IgnoreTables {
		if t == name {
			return false
		}
	}
	return true
}
