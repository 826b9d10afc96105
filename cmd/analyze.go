package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/emotionai/internal/capture"
	"github.com/andresmejia3/emotionai/internal/session"
	"github.com/andresmejia3/emotionai/internal/types"
	"github.com/andresmejia3/emotionai/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var analyzeOpts struct {
	InputPath string
	JSON      bool
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Classify the emotion in an image file and locate its faces",
	Run: func(cmd *cobra.Command, args []string) {
		runAnalyze(cmd)
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOpts.InputPath, "input", "i", "", "Path to a JPEG, PNG, GIF, BMP, TIFF or WebP image")
	analyzeCmd.Flags().BoolVar(&analyzeOpts.JSON, "json", false, "Print the result as JSON")

	analyzeCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command) {
	ctx := cmd.Context()

	img, err := capture.LoadFile(analyzeOpts.InputPath)
	if err != nil {
		utils.Die("Failed to read image", err, nil)
	}
	fmt.Fprintf(os.Stderr, "🖼️  Loaded %s (%s, id %s)\n", analyzeOpts.InputPath, img.MIME, utils.ImageID(img.Data))

	var td teardown
	defer td.run()
	sess := newSession()
	td.add(sess.Shutdown)

	fmt.Fprintf(os.Stderr, "🔌 Connecting to %s and %s...\n", Conf.EmotionEndpoint, Conf.DetectionEndpoint)
	attach(sess, connectEndpoints(ctx))

	res, err := analyzeWithSpinner("🧠 Analyzing", func() (types.InferenceResult, error) {
		return sess.Upload(ctx, img.Image)
	})
	if err != nil {
		hint(err)
		td.die("Analysis failed", err)
	}
	if err := emitResult(res, analyzeOpts.JSON); err != nil {
		td.die("Failed to encode result", err)
	}
}

// analyzeWithSpinner shows an indeterminate spinner on stderr while fn runs.
func analyzeWithSpinner(desc string, fn func() (types.InferenceResult, error)) (types.InferenceResult, error) {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				bar.Add(1)
			}
		}
	}()

	res, err := fn()
	close(done)
	bar.Finish()
	return res, err
}

func emitResult(res types.InferenceResult, asJSON bool) error {
	if !asJSON {
		printResult(res)
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// hint prints advice for the failures a user can act on.
func hint(err error) {
	var msg string
	switch {
	case errors.Is(err, session.ErrUnavailable):
		msg = "an inference endpoint could not be reached, run `emotionai status`"
	case errors.Is(err, session.ErrFrameUnavailable):
		msg = "the camera has not produced a frame yet"
	default:
		return
	}
	fmt.Fprintf(os.Stderr, "💡 %s\n", msg)
}
