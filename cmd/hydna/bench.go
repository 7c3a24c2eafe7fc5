package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/progrium/hydna-go/frame"
	"github.com/progrium/hydna-go/mux"
)

type benchConfig struct {
	channels int
	messages int
	size     int
	echo     bool
}

func benchCmd(cl *client) *cobra.Command {
	var bc benchConfig
	cmd := &cobra.Command{
		Use:   "bench EXPR",
		Short: "measure throughput over concurrent channels",
		Long: `bench opens --channels channels to EXPR at once, sharing one connection,
and writes --messages messages of --size bytes on each. With --echo it
also waits for every message to come back.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sink, err := benchMetrics()
			if err != nil {
				return err
			}
			start := time.Now()
			if err := bench(cmd.Context(), cl, args[0], bc); err != nil {
				return err
			}
			elapsed := time.Since(start)
			total := bc.channels * bc.messages
			fmt.Fprintln(cmd.OutOrStdout(),
				"Channels:", bc.channels,
				"Messages:", total,
				"Time:", elapsed,
				"Rate:", int(float64(total)/elapsed.Seconds()), "msg/s",
				"Thru:", int(float64(total*bc.size)/elapsed.Seconds()/1024), "KB/s")
			fmt.Fprintln(cmd.OutOrStdout(),
				"Frames sent:", counter(sink, "hydna.frames.sent"),
				"received:", counter(sink, "hydna.frames.received"))
			return nil
		},
	}
	cmd.Flags().IntVarP(&bc.channels, "channels", "n", 10, "concurrent channels")
	cmd.Flags().IntVarP(&bc.messages, "messages", "m", 100, "messages per channel")
	cmd.Flags().IntVarP(&bc.size, "size", "s", 64, "message size in bytes")
	cmd.Flags().BoolVar(&bc.echo, "echo", false, "wait for the server to echo every message")
	return cmd
}

// benchMetrics collects the connection counters in memory for the report.
func benchMetrics() (*metrics.InmemSink, error) {
	sink := metrics.NewInmemSink(time.Minute, time.Hour)
	cfg := metrics.DefaultConfig("")
	cfg.EnableHostname = false
	cfg.EnableRuntimeMetrics = false
	if _, err := metrics.NewGlobal(cfg, sink); err != nil {
		return nil, err
	}
	return sink, nil
}

func counter(sink *metrics.InmemSink, name string) int {
	var n float64
	for _, interval := range sink.Data() {
		interval.RLock()
		if v, ok := interval.Counters[name]; ok && v.AggregateSample != nil {
			n += v.Sum
		}
		interval.RUnlock()
	}
	return int(n)
}

// bench opens every channel on its own numbered path under expr.
func bench(ctx context.Context, cl *client, expr string, bc benchConfig) error {
	if bc.size > frame.PayloadMaxLimit {
		return frame.ErrPayloadTooLarge
	}
	t, err := mux.ParseExpr(expr)
	if err != nil {
		return err
	}
	base, ok := t.Channel()
	if !ok {
		base = 1
	}

	payload := make([]byte, bc.size)
	rand.Read(payload)

	mode := mux.ModeWrite
	if bc.echo {
		mode = mux.ModeReadWrite
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < bc.channels; i++ {
		target := t
		target.Path = fmt.Sprintf("/%d", base+uint32(i))
		g.Go(func() error {
			ch, err := cl.open(ctx, target.String(), mode, t.Token)
			if err != nil {
				return err
			}
			for n := 0; n < bc.messages; n++ {
				if err := ch.WriteBytes(payload, 0, frame.Binary); err != nil {
					return err
				}
			}
			if bc.echo {
				for n := 0; n < bc.messages; n++ {
					if _, err := ch.ReadData(ctx); err != nil {
						return err
					}
				}
			}
			return shutdown(ctx, ch)
		})
	}
	return g.Wait()
}
