package cmd

import (
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"

	"github.com/zhengshuai-xiao/blkimg/internal"
)

var logger = internal.GetLogger("blkimg_cmd")

func Main(args []string) error {
	cli.VersionFlag = &cli.BoolFlag{
		Name: "version", Aliases: []string{"V"},
		Usage: "print version only",
	}
	flags := globalFlags()
	app := &cli.App{
		Name:                   "blkimg",
		Usage:                  "Image a block device or file into a compact chunk stream.",
		Version:                internal.Version(),
		Copyright:              "Apache License 2.0",
		ArgsUsage:              "INPUT OUTPUT",
		HideHelpCommand:        true,
		UseShortOptionHandling: true,
		Flags:                  flags,
		Before:                 altsrc.InitInputSourceWithContext(flags, altsrc.NewYamlSourceFromFlagFunc("config")),
		Action:                 image,
		Description: `
			Reads INPUT with many concurrent reads per worker and writes an ordered stream
			of chunk records to OUTPUT, a local path, "-" for stdout or s3://bucket/key.

			Examples:
			$ blkimg /dev/nvme0n1 disk.img --hash sha256
			$ blkimg -t 8 -b 16 --bs 1M --compress lz4 --dedup /dev/sda s3://images/sda.img
			$ blkimg --dd -n 2048 /dev/sdb head.raw`,
	}

	err := app.Run(reorderOptions(app, args))
	if errno, ok := err.(syscall.Errno); ok && errno == 0 {
		err = nil
	}

	return err
}

// reorderOptions moves every recognised option in front of the positional
// arguments, since flag parsing stops at the first positional.
func reorderOptions(app *cli.App, args []string) []string {
	var newArgs = []string{args[0]}
	var others []string
	flags := append(app.Flags, cli.VersionFlag, cli.HelpFlag)
	for i := 1; i < len(args); i++ {
		option := args[i]
		if option == "--" {
			others = append(others, args[i+1:]...)
			break
		}
		if ok, hasValue := isFlag(flags, option); ok {
			newArgs = append(newArgs, option)
			if hasValue {
				i++
				if i >= len(args) {
					logger.Fatalf("option %s requires value", option)
				}
				newArgs = append(newArgs, args[i])
			}
		} else {
			if strings.HasPrefix(option, "-") && option != "-" && !internal.StringContains(args, "--generate-bash-completion") {
				logger.Fatalf("unknown option: %s", option)
			}
			others = append(others, option)
		}
	}
	return append(newArgs, others...)
}

func isFlag(flags []cli.Flag, option string) (bool, bool) {
	if !strings.HasPrefix(option, "-") || option == "-" {
		return false, false
	}
	long := strings.HasPrefix(option, "--")
	option = strings.TrimLeft(option, "-")
	for _, flag := range flags {
		isBool := isBoolFlag(flag)
		for _, name := range flag.Names() {
			if option == name || strings.HasPrefix(option, name+"=") {
				return true, !isBool && !strings.Contains(option, "=")
			}
		}
	}
	// -vvv or -qv: a cluster of single letter bool flags
	if !long && len(option) > 1 {
		for _, letter := range option {
			if !isShortBool(flags, string(letter)) {
				return false, false
			}
		}
		return true, false
	}
	return false, false
}

func isBoolFlag(flag cli.Flag) bool {
	switch flag.(type) {
	case *cli.BoolFlag, *altsrc.BoolFlag:
		return true
	}
	return false
}

func isShortBool(flags []cli.Flag, letter string) bool {
	for _, flag := range flags {
		if !isBoolFlag(flag) {
			continue
		}
		for _, name := range flag.Names() {
			if name == letter {
				return true
			}
		}
	}
	return false
}
