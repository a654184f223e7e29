// Command ledgerd runs the token launch ledger: the HTTP API, the reward
// distribution scheduler, the live feed and the analytics mirror.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"launchpad-ledger/cmd/ledgerd/cli"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}
}

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
