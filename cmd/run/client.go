package run

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Mmx233/klf/client"
	"github.com/Mmx233/klf/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	clientCmd = &cobra.Command{
		Use:   "client",
		Short: "Start client",
		Args:  cobra.NoArgs,
		RunE:  runClient,
	}
)

func runClient(cmd *cobra.Command, args []string) error {
	logger := log.With().Str("com", "client-cmd").Logger()

	logger.Info().Str("config", configFile).Msg("loading configuration")
	cfg, err := config.LoadClientConfig(configFile)
	if err != nil {
		return err
	}

	c, err := client.New(cfg, os.Stdout)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Msg("starting KLF client")
		errCh <- c.Run(ctx)
	}()
	go func() {
		if err := c.RunConsole(ctx, os.Stdin); err != nil {
			logger.Warn().Err(err).Msg("console stopped")
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
		err = <-errCh
	case err = <-errCh:
	}
	if err != nil {
		logger.Error().Err(err).Msg("client stopped")
		return err
	}

	logger.Info().Msg("client stopped")
	return nil
}
