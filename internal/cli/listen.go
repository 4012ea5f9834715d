package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaykit/go-relay/internal/logging"
	"github.com/relaykit/go-relay/relay"
	"github.com/spf13/cobra"
)

var listenPort int

// openTimeout bounds listener registration with the relay.
const openTimeout = 30 * time.Second

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Accept relay connections and forward them to a local port",
	Long: `listen - register as the listener for a hybrid connection and serve inbound streams.

Each accepted stream is forwarded to localhost:<port>. With no port, the
stream is echoed back to the sender.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rc, err := relayConfig()
		if err != nil {
			return err
		}

		listener, err := relay.NewListener(rc)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		openCtx, cancel := context.WithTimeout(ctx, openTimeout)
		defer cancel()
		if err := listener.Open(openCtx); err != nil {
			return fmt.Errorf("failed to open listener: %w", err)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = listener.Close(closeCtx)
		}()

		logger.Info("Listening for relay connections",
			logging.String("entity_path", rc.EntityPath),
			logging.Int("forward_port", listenPort))

		for {
			stream, err := listener.Accept(ctx)
			if err != nil {
				if relay.IsCancelled(err) {
					return nil
				}
				return err
			}
			if stream == nil {
				return nil
			}
			go serveStream(ctx, stream)
		}
	},
}

func init() {
	listenCmd.Flags().IntVarP(&listenPort, "port", "p", 0, "Local port to forward streams to (0 echoes)")
	rootCmd.AddCommand(listenCmd)
}

// serveStream handles one accepted stream until either side ends it.
func serveStream(ctx context.Context, stream *relay.Stream) {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = stream.Close(closeCtx)
	}()

	logger.Info("Accepted stream", logging.String("stream_id", stream.ID()))

	rw := streamIO{ctx: ctx, stream: stream}
	if listenPort == 0 {
		// Echo mode
		if _, err := io.Copy(rw, rw); err != nil {
			logger.Error("Echo failed", logging.String("stream_id", stream.ID()), logging.Error(err))
		}
		return
	}

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", listenPort))
	if err != nil {
		logger.Error("Failed to dial local port",
			logging.Int("port", listenPort), logging.Error(err))
		stream.Abort()
		return
	}
	defer func() { _ = conn.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(conn, rw)
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
	}()
	_, _ = io.Copy(rw, conn)
	_ = stream.Shutdown()
	<-done
}

// streamIO adapts a relay stream to io.Reader and io.Writer for piping.
type streamIO struct {
	ctx    context.Context
	stream *relay.Stream
}

func (s streamIO) Read(p []byte) (int, error)  { return s.stream.Read(s.ctx, p) }
func (s streamIO) Write(p []byte) (int, error) { return s.stream.Write(s.ctx, p) }
