package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fleetaudit/fleetaudit/cmd/fleetaudit/commands"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)

	if err := commands.NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
