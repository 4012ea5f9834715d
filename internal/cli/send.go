package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaykit/go-relay/internal/logging"
	"github.com/relaykit/go-relay/relay"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Originate a relay connection and pipe stdin/stdout through it",
	Long: `send - establish one stream to the hybrid connection's listener.

Bytes from stdin travel to the listener; bytes from the listener are written
to stdout. When stdin ends, the write direction is shut down and remaining
data is drained before closing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rc, err := relayConfig()
		if err != nil {
			return err
		}

		client, err := relay.NewClient(rc)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		stream, err := client.CreateConnection(ctx)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = stream.Close(closeCtx)
		}()

		logger.Info("Connected",
			logging.String("entity_path", rc.EntityPath),
			logging.String("stream_id", stream.ID()))

		rw := streamIO{ctx: ctx, stream: stream}
		go func() {
			_, _ = io.Copy(rw, os.Stdin)
			_ = stream.Shutdown()
		}()

		// Drain until the listener half-closes its side.
		if _, err := io.Copy(os.Stdout, rw); err != nil && !relay.IsCancelled(err) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
