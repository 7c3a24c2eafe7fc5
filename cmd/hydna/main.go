package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/progrium/hydna-go/frame"
	"github.com/progrium/hydna-go/internal/config"
	"github.com/progrium/hydna-go/mux"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// client is the state shared by every subcommand, set up before it runs.
type client struct {
	cfgFile     string
	logLevel    string
	debugFrames bool

	log      hclog.Logger
	registry *mux.Registry
}

func newRootCmd() *cobra.Command {
	cl := &client{}
	root := &cobra.Command{
		Use:   "hydna",
		Short: "hydna is a utility for talking to hydna channels",
		Long: `hydna opens channels on a hydna server to send data, emit signals
and listen for both. Channels are addressed by expressions such as
tcp://example.com:7010/chat?token or wss://example.com/x1f.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cl.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return cl.registry.Close()
		},
	}
	root.PersistentFlags().StringVar(&cl.cfgFile, "config", "", "config file (YAML)")
	root.PersistentFlags().StringVar(&cl.logLevel, "log-level", "", "log level: trace, debug, info, warn or error")
	root.PersistentFlags().BoolVar(&cl.debugFrames, "debug-frames", false, "print every frame sent and received to stderr")

	root.AddCommand(sendCmd(cl))
	root.AddCommand(emitCmd(cl))
	root.AddCommand(listenCmd(cl))
	root.AddCommand(benchCmd(cl))
	root.AddCommand(relayCmd(cl))
	return root
}

func (cl *client) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(cl.cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cl.logLevel != "" {
		cfg.LogLevel = cl.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if cl.debugFrames {
		frame.SetDebug(cmd.ErrOrStderr())
	}
	cl.log = hclog.New(&hclog.LoggerOptions{
		Name:   "hydna",
		Level:  cfg.Level(),
		Output: cmd.ErrOrStderr(),
	})
	cl.registry = mux.NewRegistry(cfg.Options(cl.log))
	return nil
}

// open connects a new channel and waits for the server to allow it.
func (cl *client) open(ctx context.Context, expr string, mode mux.Mode, token string) (*mux.Channel, error) {
	ch := cl.registry.Channel(nil)
	if err := ch.Connect(expr, mode, token); err != nil {
		return nil, err
	}
	if err := ch.Wait(ctx); err != nil {
		if ch.State() != mux.StateDestroyed {
			ch.Close()
		}
		return nil, err
	}
	cl.log.Debug("channel open", "channel", ch.ID(), "path", ch.Path(), "message", ch.Message())
	return ch, nil
}

// shutdown ends ch and waits for the server to acknowledge.
func shutdown(ctx context.Context, ch *mux.Channel) error {
	if err := ch.Close(); err != nil {
		return err
	}
	select {
	case <-ch.Done():
		return ch.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
