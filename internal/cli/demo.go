package cli

import (
	"context"
	"io"
	"time"

	"github.com/relaykit/go-relay/relay"
	"github.com/relaykit/go-relay/transport"
	"github.com/spf13/cobra"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a listener and sender in-process over the in-memory relay",
	Long: `demo - exercise the full connect/accept/stream lifecycle without Azure.

A listener and a client are wired through an in-process relay; the client
sends a message, the listener echoes it, and both sides close cleanly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		memory := transport.NewMemoryRelay()
		memory.CreateEndpoint("demo", "")

		rc := &relay.Config{
			Namespace:  "demo.relay.local",
			EntityPath: "demo",
			Connector:  memory,
			Logger:     logger,
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		listener, err := relay.NewListener(rc)
		if err != nil {
			return err
		}
		if err := listener.Open(ctx); err != nil {
			return err
		}
		defer func() { _ = listener.Close(ctx) }()

		echoDone := make(chan error, 1)
		go func() {
			stream, err := listener.Accept(ctx)
			if err != nil || stream == nil {
				echoDone <- err
				return
			}
			defer func() { _ = stream.Close(ctx) }()
			rw := streamIO{ctx: ctx, stream: stream}
			_, err = io.Copy(rw, rw)
			_ = stream.Shutdown()
			echoDone <- err
		}()

		client, err := relay.NewClient(rc)
		if err != nil {
			return err
		}
		stream, err := client.CreateConnection(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = stream.Close(ctx) }()

		message := []byte("hello through the relay")
		if _, err := stream.Write(ctx, message); err != nil {
			return err
		}
		if err := stream.Shutdown(); err != nil {
			return err
		}

		echoed, err := io.ReadAll(streamIO{ctx: ctx, stream: stream})
		if err != nil {
			return err
		}
		cmd.Printf("echoed: %s\n", echoed)
		return <-echoDone
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
}
