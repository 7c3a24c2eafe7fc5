package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/progrium/hydna-go/mux"
)

func relayCmd(cl *client) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "relay EXPR EXPR",
		Short: "relay data and signals between two channels",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := mux.ParseMode(mode)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := cl.open(ctx, args[0], m, "")
			if err != nil {
				return err
			}
			b, err := cl.open(ctx, args[1], m, "")
			if err != nil {
				a.Close()
				return err
			}
			cl.log.Info("relaying", "from", a.Path(), "to", b.Path())
			if err := mux.Bridge(ctx, a, b); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "rwe", "open mode of both channels")
	return cmd
}
