// Command reformctl runs migrations, seeding, ingestion, enrichment,
// merges and geocoding against the reforms database.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/EmpoweredVote/EV-Reforms/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := &app{}
	if err := a.rootCommand().ExecuteContext(ctx); err != nil {
		logging.Default().Error().Err(err).Msg("reformctl failed")
		a.close()
		os.Exit(1)
	}
	a.close()
}
