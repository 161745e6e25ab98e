package main

import (
	"context"
	"os"

	"github.com/datasetsync/hfsync/cmd"
)

func main() {
	os.Exit(cmd.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
