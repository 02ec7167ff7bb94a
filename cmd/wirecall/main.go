package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirecall/internal/config"
	"github.com/vovakirdan/wirecall/internal/log"
)

var (
	flagConfig string
	flagAPIURL string

	cfg config.Config
)

func main() {
	root := &cobra.Command{
		Use:           "wirecall",
		Short:         "WireCall voice and video call client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, _, err := config.Load(log.Nop(), flagConfig)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&flagAPIURL, "api-url", "http://localhost:8080", "relay REST base URL")

	root.AddCommand(newRegisterCmd(), newLoginCmd(), newConnectCmd())

	if err := root.Execute(); err != nil {
		log.New("info").Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
