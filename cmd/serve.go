package cmd

import (
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/andresmejia3/emotionai/internal/capture"
	"github.com/andresmejia3/emotionai/internal/metrics"
	"github.com/andresmejia3/emotionai/internal/server"
	"github.com/andresmejia3/emotionai/internal/utils"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
)

var serveOpts struct {
	Listen   string
	NoCamera bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session API, state stream and metrics over HTTP",
	Run: func(cmd *cobra.Command, args []string) {
		runServe(cmd)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveOpts.Listen, "listen", "l", "", "Listen address (default: :8080)")
	serveCmd.Flags().BoolVar(&serveOpts.NoCamera, "no-camera", false, "Do not open a camera; only uploads are available")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command) {
	ctx := cmd.Context()
	addr := Conf.Listen
	if serveOpts.Listen != "" {
		addr = serveOpts.Listen
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		utils.Die("Failed to listen", err, nil)
	}

	var td teardown
	defer td.run()
	td.add(func() { ln.Close() })

	sess := newSession()
	td.add(sess.Shutdown)

	var src capture.Source
	if !serveOpts.NoCamera {
		if src, err = openSource(); err != nil {
			slog.Warn("Camera unavailable, camera and live modes disabled", "error", err)
		} else {
			td.add(func() { src.Close() })
			sess.SetSource(src)
		}
	}

	// Endpoints come up in the background; until then the session reports them
	// unavailable and the controls are no-ops.
	go func() {
		attach(sess, connectEndpoints(ctx))
	}()

	srv := server.New(sess, metrics.NewRegistry())
	fmt.Fprintf(os.Stderr, "🌐 Serving on http://%s\n", ln.Addr())

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		slog.Warn("Failed to notify systemd", "error", err)
	} else if ok {
		slog.Debug("Notified systemd readiness")
	}

	if err := srv.Serve(ctx, ln); err != nil {
		td.die("Server failed", err)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	fmt.Fprintln(os.Stderr, "👋 Shut down cleanly")
}
