package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/zhengshuai-xiao/blkimg/internal"
	"github.com/zhengshuai-xiao/blkimg/pkg/dedup"
	"github.com/zhengshuai-xiao/blkimg/pkg/device"
	"github.com/zhengshuai-xiao/blkimg/pkg/imager"
	"github.com/zhengshuai-xiao/blkimg/pkg/manifest"
	"github.com/zhengshuai-xiao/blkimg/pkg/sink"
)

func setupLogging(c *cli.Context) error {
	internal.SetLogLevel(internal.VerbosityLevel(c.Count("verbose")))
	if path := c.String("log"); path != "" {
		return internal.SetOutFile(path)
	}
	return nil
}

// configFromContext returns the run configuration and the output target.
func configFromContext(c *cli.Context) (*imager.Config, string, error) {
	cfg := imager.DefaultConfig()
	cfg.Input = c.String("input")
	output := c.String("output")

	args := c.Args().Slice()
	if cfg.Input == "" && len(args) > 0 {
		cfg.Input, args = args[0], args[1:]
	}
	if output == "" && len(args) > 0 {
		output, args = args[0], args[1:]
	}
	if len(args) > 0 {
		return nil, "", fmt.Errorf("%w: unexpected arguments %v", internal.ErrInvalidConfig, args)
	}
	if cfg.Input == "" || output == "" {
		return nil, "", fmt.Errorf("%w: both INPUT and OUTPUT are required", internal.ErrInvalidConfig)
	}

	bs, err := internal.ParseSize(c.String("bs"))
	if err != nil || bs == 0 || bs > 1<<30 {
		return nil, "", fmt.Errorf("%w: invalid block size %q", internal.ErrInvalidConfig, c.String("bs"))
	}
	cfg.BlockSize = int(bs)
	cfg.Threads = c.Int("threads")
	cfg.Buffers = c.Int("buffers")
	cfg.NBlocks = c.Uint64("nblocks")
	cfg.Direct = !c.Bool("no-direct")
	cfg.Verbatim = c.Bool("dd")
	cfg.Compression = c.String("compress")
	cfg.Hashes = c.StringSlice("hash")
	cfg.Dedup = c.Bool("dedup")
	cfg.DedupRedis = c.String("dedup-redis")
	cfg.RunID = uuid.NewString()

	if rate := c.String("rate-limit"); rate != "" {
		if cfg.RateLimit, err = internal.ParseSize(rate); err != nil {
			return nil, "", fmt.Errorf("%w: invalid rate limit %q", internal.ErrInvalidConfig, rate)
		}
	}
	return cfg, output, cfg.Validate()
}

func s3Options(c *cli.Context, cfg *imager.Config) (*sink.S3Options, error) {
	partSize, err := internal.ParseSize(c.String("part-size"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid part size %q", internal.ErrInvalidConfig, c.String("part-size"))
	}
	return &sink.S3Options{
		Endpoint:  c.String("s3-endpoint"),
		AccessKey: c.String("access-key"),
		SecretKey: c.String("secret-key"),
		UseSSL:    !c.Bool("no-ssl"),
		PartSize:  partSize,
		Metadata: map[string]string{
			"Block-Size":  fmt.Sprint(cfg.BlockSize),
			"Compression": cfg.Compression,
			"Run-Id":      cfg.RunID,
		},
	}, nil
}

func openIndex(cfg *imager.Config) (dedup.Index, error) {
	switch {
	case cfg.Verbatim || !cfg.DedupEnabled():
		return nil, nil
	case cfg.DedupRedis != "":
		return dedup.NewRedisIndex(cfg.DedupRedis, cfg.RunID, nil)
	default:
		return dedup.NewMemoryIndex(), nil
	}
}

// progressTotal is the expected number of bytes, 0 when unknown.
func progressTotal(cfg *imager.Config) int64 {
	size, err := device.Size(cfg.Input)
	if err != nil {
		logger.Warnf("cannot size %s: %s", cfg.Input, err)
		return 0
	}
	if limit := cfg.Limit(); limit > 0 && limit < size {
		size = limit
	}
	return int64(size)
}

func image(c *cli.Context) error {
	if err := setupLogging(c); err != nil {
		return err
	}
	cfg, output, err := configFromContext(c)
	if err != nil {
		return err
	}
	s3opts, err := s3Options(c, cfg)
	if err != nil {
		return err
	}

	kind := device.Hint(cfg.Input)
	total := progressTotal(cfg)
	logger.Infof("input:%s kind:%s size:%s pid:%d threads:%d block_size:%d buffers:%d run:%s",
		cfg.Input, kind, internal.FormatBytes(uint64(total)), os.Getpid(), cfg.Threads, cfg.BlockSize, cfg.Buffers, cfg.RunID)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	index, err := openIndex(cfg)
	if err != nil {
		return err
	}
	if index != nil {
		defer index.Close()
	}

	out, err := sink.Open(ctx, output, s3opts)
	if err != nil {
		return err
	}

	bar := internal.NewProgressBar(cfg.Input, total, c.Bool("quiet") || output == "-")
	im, err := imager.New(cfg, out, bar, index)
	if err != nil {
		out.Abort(err)
		return err
	}
	res, err := im.Run(ctx)
	if err != nil {
		logger.Errorf("imaging %s failed: %s", cfg.Input, err)
		out.Abort(err)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if index != nil {
		logger.Infof("dedup index holds %d unique blocks", index.Len())
	}
	report(reportWriter(c, output), res, im.Elapsed)

	if path := c.String("manifest"); path != "" {
		m := manifest.New(cfg, out.Location(), res, im.Elapsed)
		m.SourceKind = kind.String()
		if err := m.Write(ctx, path, s3opts); err != nil {
			return err
		}
	}
	return nil
}

// reportWriter keeps the report out of the stream when it goes to stdout.
func reportWriter(c *cli.Context, output string) io.Writer {
	if output == "-" {
		return c.App.ErrWriter
	}
	return c.App.Writer
}

func report(w io.Writer, res *imager.Result, elapsed time.Duration) {
	fmt.Fprintf(w, "elapsed: %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "read: %s, written: %s\n", internal.FormatBytes(res.Stats.BytesIn), internal.FormatBytes(res.Stats.BytesOut))
	fmt.Fprintf(w, "throughput: %s\n", internal.Throughput(res.Stats.BytesIn, elapsed.Seconds()))
	for _, sum := range res.Digests {
		fmt.Fprintln(w, sum)
	}
}

