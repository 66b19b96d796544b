package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pysugar/go-sonar/internal/db"
	"github.com/pysugar/go-sonar/internal/store"
)

var PurgeCommand = &cli.Command{
	Name:   "purge",
	Usage:  "Delete every captured request and entry",
	Action: Purge,
	Flags: flags(
		[]cli.Flag{
			&cli.BoolFlag{
				Name:        "no-input",
				Usage:       "Do not ask for confirmation.",
				Destination: &purgeOpts.noInput,
			},
		},
	),
}

var purgeOpts struct {
	noInput bool
}

func Purge(cc *cli.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if !purgeOpts.noInput {
		if !confirm(fmt.Sprintf("This will delete all captured data in %s. Continue? [y/N] ", cfg.Database)) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	gdb, err := db.InitDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	result, err := store.New(gdb, logger).Purge(cc.Context)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d requests and %d entries.\n", result.Requests, result.Entries)
	return nil
}

// confirm reads a yes/no answer from stdin. EOF counts as no.
func confirm(prompt string) bool {
	fmt.Print(prompt)
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
