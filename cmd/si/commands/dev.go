package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Tensibai/si/pkg/bus"
	"github.com/Tensibai/si/pkg/telemetry"
)

func newDevCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Development mode commands",
		Long: `Commands for running si locally.

These commands start in-process stand-ins for the services a deployment
normally provides.`,
	}

	cmd.AddCommand(newDevBrokerCommand())

	return cmd
}

func newDevBrokerCommand() *cobra.Command {
	var (
		address string
		tail    bool
	)

	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run an embedded MQTT broker",
		Long: `Run an MQTT broker in-process so other si commands can publish change
notifications with bus.url set to mqtt://ADDRESS. With --tail every message
received is printed.`,
		Example: `  # Terminal 1
  si dev broker --tail

  # Terminal 2
  SI_BUS_URL=mqtt://localhost:1883 si component set web /root/domain/image nginx`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := telemetry.NewWriterLogger(cmd.ErrOrStderr(), "info")
			broker, err := bus.NewBroker(address, logger)
			if err != nil {
				return err
			}
			broker.Start()
			defer broker.Close()

			if tail {
				err := broker.Subscribe(cmd.Context(), ">", func(subject string, payload []byte) {
					fmt.Printf("%s %s\n", subject, payload)
				})
				if err != nil {
					return err
				}
			}

			log.Info().Str("address", address).Msg("Broker running, press Ctrl+C to stop")
			<-cmd.Context().Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", ":1883", "listen address")
	cmd.Flags().BoolVar(&tail, "tail", false, "print every message")

	return cmd
}
