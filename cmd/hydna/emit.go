package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/progrium/hydna-go/mux"
)

func emitCmd(cl *client) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "emit EXPR MESSAGE...",
		Short: "emit a signal on a channel",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ch, err := cl.open(ctx, args[0], mux.ModeEmit, token)
			if err != nil {
				return err
			}
			if err := ch.EmitString(strings.Join(args[1:], " ")); err != nil {
				return err
			}
			return shutdown(ctx, ch)
		},
	}
	cmd.Flags().StringVarP(&token, "token", "t", "", "token sent with the open request")
	return cmd
}
