package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "relayctl",
		Short: "Relay framed APDUs between a host link and a secure element",
		Long: `relayctl runs the APDU relay service, or acts as the host side of the
link to push a single framed APDU through a running relay.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newSendCmd())
	return root
}
