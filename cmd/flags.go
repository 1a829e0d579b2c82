package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"

	"github.com/zhengshuai-xiao/blkimg/internal/compression"
	"github.com/zhengshuai-xiao/blkimg/pkg/digest"
)

func envVars(name string) []string {
	return []string{"BLKIMG_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))}
}

// globalFlags are all loadable from the --config YAML file except config,
// verbose and the S3 credentials.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "YAML file holding any of the options below, keyed by long name",
			EnvVars: envVars("config"),
		},
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "input",
			Aliases: []string{"i"},
			Usage:   "device or file to image (or first positional argument)",
			EnvVars: envVars("input"),
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output path, \"-\" for stdout or s3://bucket/key (or second positional argument)",
			EnvVars: envVars("output"),
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "bs",
			Value:   "32K",
			Usage:   "block size, binary units (32K = 32768)",
			EnvVars: envVars("bs"),
		}),
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:    "threads",
			Aliases: []string{"t"},
			Value:   runtime.NumCPU(),
			Usage:   "number of reader workers",
			EnvVars: envVars("threads"),
		}),
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:    "buffers",
			Aliases: []string{"b"},
			Value:   4,
			Usage:   "concurrent reads kept in flight by each worker",
			EnvVars: envVars("buffers"),
		}),
		altsrc.NewUint64Flag(&cli.Uint64Flag{
			Name:    "nblocks",
			Aliases: []string{"n"},
			Usage:   "stop after reading N blocks",
			EnvVars: envVars("nblocks"),
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "log",
			Usage:   "log file path, rotated daily (default: stderr)",
			EnvVars: envVars("log"),
		}),
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "more logging, repeat for debug (-vv) and trace (-vvv)",
			Count:   new(int),
		},
		altsrc.NewBoolFlag(&cli.BoolFlag{
			Name:    "dd",
			Usage:   "write raw blocks with no framing, byte identical to the source",
			EnvVars: envVars("dd"),
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "compress",
			Usage:   fmt.Sprintf("compress blocks with ALGO: %s", strings.Join(compression.Names(), "/")),
			EnvVars: envVars("compress"),
		}),
		altsrc.NewStringSliceFlag(&cli.StringSliceFlag{
			Name:    "hash",
			Usage:   fmt.Sprintf("content digest to compute, repeatable: %s", strings.Join(digest.Names(), "/")),
			EnvVars: envVars("hash"),
		}),
		altsrc.NewBoolFlag(&cli.BoolFlag{
			Name:    "dedup",
			Usage:   "replace repeated blocks with references, index kept in memory",
			EnvVars: envVars("dedup"),
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "dedup-redis",
			Usage:   "keep the dedup index in Redis at ADDR (host:port[/db], cluster or sentinel list)",
			EnvVars: envVars("dedup-redis"),
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "rate-limit",
			Usage:   "cap read bandwidth per second, binary units (e.g. 200M)",
			EnvVars: envVars("rate-limit"),
		}),
		altsrc.NewBoolFlag(&cli.BoolFlag{
			Name:    "no-direct",
			Usage:   "read through the page cache instead of O_DIRECT",
			EnvVars: envVars("no-direct"),
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "manifest",
			Usage:   "write a YAML manifest of the run to PATH (local or s3://)",
			EnvVars: envVars("manifest"),
		}),
		altsrc.NewBoolFlag(&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "hide the progress bar",
			EnvVars: envVars("quiet"),
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "s3-endpoint",
			Value:   "localhost:9000",
			Usage:   "S3 endpoint for s3:// outputs",
			EnvVars: envVars("s3-endpoint"),
		}),
		&cli.StringFlag{
			Name:    "access-key",
			Usage:   "S3 access key",
			EnvVars: []string{"BLKIMG_ACCESS_KEY", "MINIO_ROOT_USER"},
		},
		&cli.StringFlag{
			Name:    "secret-key",
			Usage:   "S3 secret key",
			EnvVars: []string{"BLKIMG_SECRET_KEY", "MINIO_ROOT_PASSWORD"},
		},
		altsrc.NewBoolFlag(&cli.BoolFlag{
			Name:    "no-ssl",
			Usage:   "disable TLS for the S3 connection",
			EnvVars: envVars("no-ssl"),
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "part-size",
			Value:   "64M",
			Usage:   "multipart upload part size for s3:// outputs",
			EnvVars: envVars("part-size"),
		}),
	}
}
