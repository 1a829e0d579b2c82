// Package manifest describes an image: the parameters a decoder needs that the
// chunk stream does not carry, plus the digests and statistics of the run.
package manifest

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zhengshuai-xiao/blkimg/internal"
	"github.com/zhengshuai-xiao/blkimg/pkg/chunk"
	"github.com/zhengshuai-xiao/blkimg/pkg/digest"
	"github.com/zhengshuai-xiao/blkimg/pkg/imager"
	"github.com/zhengshuai-xiao/blkimg/pkg/sink"
)

const FormatVersion = 1

type Stats struct {
	Blocks     uint64 `yaml:"blocks"`
	Zero       uint64 `yaml:"zero"`
	Raw        uint64 `yaml:"raw"`
	Compressed uint64 `yaml:"compressed"`
	Duplicate  uint64 `yaml:"duplicate"`
	Verbatim   uint64 `yaml:"verbatim"`
	BytesIn    uint64 `yaml:"bytes_in"`
	BytesOut   uint64 `yaml:"bytes_out"`
	MaxPending int    `yaml:"max_pending"`
}

type Manifest struct {
	Format      int          `yaml:"format"`
	RunID       string       `yaml:"run_id"`
	Tool        string       `yaml:"tool"`
	Created     time.Time    `yaml:"created"`
	Source      string       `yaml:"source"`
	SourceSize  uint64       `yaml:"source_size"`
	SourceKind  string       `yaml:"source_kind,omitempty"`
	Output      string       `yaml:"output"`
	BlockSize   int          `yaml:"block_size"`
	NBlocks     uint64       `yaml:"nblocks,omitempty"`
	Mode        string       `yaml:"mode"`
	Compression string       `yaml:"compression,omitempty"`
	Dedup       string       `yaml:"dedup,omitempty"`
	Digests     []digest.Sum `yaml:"digests,omitempty"`
	Stats       Stats        `yaml:"stats"`
	Elapsed     string       `yaml:"elapsed"`
}

// New records a finished run. SourceSize is the number of bytes actually
// read, which together with BlockSize sizes the trailing zero record.
func New(cfg *imager.Config, output string, res *imager.Result, elapsed time.Duration) *Manifest {
	m := &Manifest{
		Format:     FormatVersion,
		RunID:      cfg.RunID,
		Tool:       "blkimg " + internal.Version(),
		Created:    time.Now().UTC().Truncate(time.Second),
		Source:     cfg.Input,
		SourceSize: res.Stats.BytesIn,
		Output:     output,
		BlockSize:  cfg.BlockSize,
		NBlocks:    cfg.NBlocks,
		Digests:    res.Digests,
		Elapsed:    elapsed.Round(time.Millisecond).String(),
		Stats: Stats{
			Blocks:     res.Stats.Blocks,
			Zero:       res.Stats.Count(chunk.FullOfZeros),
			Raw:        res.Stats.Count(chunk.Raw),
			Compressed: res.Stats.Count(chunk.Compressed),
			Duplicate:  res.Stats.Count(chunk.Duplicate),
			Verbatim:   res.Stats.Count(chunk.Verbatim),
			BytesIn:    res.Stats.BytesIn,
			BytesOut:   res.Stats.BytesOut,
			MaxPending: res.Stats.MaxPending,
		},
	}
	switch {
	case cfg.Verbatim:
		m.Mode = "verbatim"
	case cfg.Compressed():
		m.Mode = "compressed"
		m.Compression = cfg.Compression
	default:
		m.Mode = "default"
	}
	if !cfg.Verbatim {
		switch {
		case cfg.DedupRedis != "":
			m.Dedup = "redis"
		case cfg.Dedup:
			m.Dedup = "memory"
		}
	}
	return m
}

func (m *Manifest) Marshal() ([]byte, error) {
	return yaml.Marshal(m)
}

// Write stores the manifest at target, a local path or s3://bucket/key.
func (m *Manifest) Write(ctx context.Context, target string, s3opts *sink.S3Options) error {
	data, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := sink.PutBytes(ctx, target, data, s3opts); err != nil {
		return err
	}
	logger.Infof("manifest written to %s", target)
	return nil
}

func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, internal.NewIoError("read", path, err)
	}
	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.Format != FormatVersion {
		return nil, fmt.Errorf("manifest %s: unsupported format %d", path, m.Format)
	}
	return m, nil
}

var logger = internal.GetLogger("manifest")
