package main

import (
	"os"

	"github.com/Iron-Ham/conductor/internal/cmd"
)

func main() {
	os.Exit(cmd.ExitStatus(cmd.Execute()))
}
