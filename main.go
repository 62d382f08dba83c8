package main

import (
	"github.com/BioHazard786/discushy/cmd"
	"github.com/BioHazard786/discushy/internal/logging"
)

func main() {
	logging.Init()
	cmd.Execute()
}
