package cmd

import (
	"fmt"
	"os"

	"github.com/andresmejia3/emotionai/internal/types"
	"github.com/andresmejia3/emotionai/internal/utils"
	"github.com/spf13/cobra"
)

var captureOpts struct {
	OutPath string
	JSON    bool
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Snapshot the camera and analyze the frame",
	Run: func(cmd *cobra.Command, args []string) {
		runCapture(cmd)
	},
}

func init() {
	captureCmd.Flags().StringVarP(&captureOpts.OutPath, "out", "o", "", "Also save the captured frame to this path")
	captureCmd.Flags().BoolVar(&captureOpts.JSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(captureCmd)
}

func runCapture(cmd *cobra.Command) {
	ctx := cmd.Context()

	src, err := openSource()
	if err != nil {
		utils.Die("Failed to open camera", err, nil)
	}
	var td teardown
	defer td.run()
	td.add(func() { src.Close() })

	sess := newSession()
	td.add(sess.Shutdown)
	sess.SetSource(src)
	sess.SetMode(types.ModeCamera)

	fmt.Fprintf(os.Stderr, "🔌 Connecting to %s and %s...\n", Conf.EmotionEndpoint, Conf.DetectionEndpoint)
	attach(sess, connectEndpoints(ctx))

	fmt.Fprintln(os.Stderr, "📷 Waiting for camera...")
	if err := waitForFrame(ctx, src); err != nil {
		td.die("Camera not ready", err)
	}

	res, err := analyzeWithSpinner("🧠 Analyzing snapshot", func() (types.InferenceResult, error) {
		return sess.Capture(ctx)
	})
	if err != nil {
		hint(err)
		td.die("Analysis failed", err)
	}

	if captureOpts.OutPath != "" {
		if st := sess.State(); st.Image != nil {
			if err := os.WriteFile(captureOpts.OutPath, st.Image.Data, 0o644); err != nil {
				td.die("Failed to save frame", err)
			}
			fmt.Fprintf(os.Stderr, "💾 Saved frame to %s\n", captureOpts.OutPath)
		}
	}
	if err := emitResult(res, captureOpts.JSON); err != nil {
		td.die("Failed to encode result", err)
	}
}
