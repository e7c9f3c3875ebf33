package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "dreamer"}

	root.AddCommand(serveCMD(), consumeCMD(), migrateCMD())
	_ = root.Execute()
}
