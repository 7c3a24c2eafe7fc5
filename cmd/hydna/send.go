package main

import (
	"io"

	"github.com/progrium/clon-go"
	"github.com/spf13/cobra"

	"github.com/progrium/hydna-go/codec"
	"github.com/progrium/hydna-go/frame"
	"github.com/progrium/hydna-go/mux"
)

func sendCmd(cl *client) *cobra.Command {
	var (
		token    string
		priority int
		useCBOR  bool
		text     bool
	)
	cmd := &cobra.Command{
		Use:   "send EXPR [ARGS...]",
		Short: "send data to a channel",
		Long: `send opens EXPR for writing and sends one message built from ARGS.
ARGS use CLON notation (key=value, key[]=item, ...) and are encoded as
JSON, or as CBOR with --cbor. With --text the arguments are sent as is.
Without ARGS the message is read from stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, ctype, err := buildPayload(args[1:], cmd.InOrStdin(), useCBOR, text)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			ch, err := cl.open(ctx, args[0], mux.ModeWrite, token)
			if err != nil {
				return err
			}
			if err := ch.WriteBytes(payload, priority, ctype); err != nil {
				return err
			}
			return shutdown(ctx, ch)
		},
	}
	cmd.Flags().StringVarP(&token, "token", "t", "", "token sent with the open request")
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "data priority, 0 (highest) to 7")
	cmd.Flags().BoolVar(&useCBOR, "cbor", false, "encode arguments as CBOR")
	cmd.Flags().BoolVar(&text, "text", false, "send arguments as plain text")
	return cmd
}

// buildPayload encodes args as a message. Text and JSON are sent as UTF8,
// CBOR and stdin as binary.
func buildPayload(args []string, stdin io.Reader, useCBOR, text bool) ([]byte, frame.ContentType, error) {
	if len(args) == 0 {
		b, err := io.ReadAll(stdin)
		return b, frame.Binary, err
	}
	if text {
		var b []byte
		for i, arg := range args {
			if i > 0 {
				b = append(b, ' ')
			}
			b = append(b, arg...)
		}
		return b, frame.UTF8, nil
	}
	v, err := clon.Parse(args)
	if err != nil {
		return nil, 0, err
	}
	var c codec.Codec = codec.JSONCodec{}
	if useCBOR {
		c = codec.CBORCodec{}
	}
	b, err := codec.Marshal(c, v)
	return b, c.ContentType(), err
}
