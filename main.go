package main

import (
	"os"

	"github.com/zhengshuai-xiao/blkimg/cmd"
	"github.com/zhengshuai-xiao/blkimg/internal"
)

var logger = internal.GetLogger("blkimg_main")

func main() {
	err := cmd.Main(os.Args)
	if err != nil {
		logger.Fatal(err)
	}
}
