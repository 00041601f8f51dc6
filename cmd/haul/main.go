// Command haul retrieves media collections from remote-backed vaults.
package main

import (
	"os"

	"github.com/ferryhill/haul/cmd/haul/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
