package main

import (
	"github.com/azure-vm-tools/ephemeral-disk-setup/cmd/ephemeral-disk-setup/run"
)

func main() {
	run.Execute()
}
