package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/emotionai/internal/capture"
	"github.com/andresmejia3/emotionai/internal/types"
	"github.com/andresmejia3/emotionai/internal/utils"
	"github.com/spf13/cobra"
)

var liveOpts struct {
	Duration time.Duration
	Interval time.Duration
}

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Continuously classify the camera feed (emotion only)",
	Run: func(cmd *cobra.Command, args []string) {
		runLive(cmd)
	},
}

func init() {
	liveCmd.Flags().DurationVarP(&liveOpts.Duration, "duration", "d", 0, "Stop after this long (default: run until interrupted)")
	liveCmd.Flags().DurationVar(&liveOpts.Interval, "interval", 0, "Sampling period (default: 1s)")
	rootCmd.AddCommand(liveCmd)
}

func runLive(cmd *cobra.Command) {
	ctx := cmd.Context()
	if liveOpts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, liveOpts.Duration)
		defer cancel()
	}
	if liveOpts.Interval > 0 {
		Conf.LiveInterval = liveOpts.Interval
	}

	src, err := openSource()
	if err != nil {
		utils.Die("Failed to open camera", err, nil)
	}
	var td teardown
	defer td.run()
	td.add(func() { src.Close() })

	sess := newSession()
	td.add(sess.Shutdown)

	updates, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	handles := connectEndpoints(ctx)
	if handles.Emotion == nil {
		td.die("Live mode needs the emotion endpoint", fmt.Errorf("could not connect to %s", Conf.EmotionEndpoint))
	}
	attach(sess, handles)
	sess.SetSource(src)
	sess.SetMode(types.ModeLive)
	fmt.Fprintf(os.Stderr, "🎥 Live analysis every %s (Ctrl+C to stop)\n", Conf.LiveInterval)

	var last *types.InferenceResult
	applied := 0
	for {
		select {
		case <-ctx.Done():
			reportLive(src.Stats(), applied)
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if st.Result == nil || st.Result == last {
				continue
			}
			last = st.Result
			applied++
			fmt.Printf("%s  %s\n", time.Now().Format("15:04:05"), st.Result.EmotionLabel)
		}
	}
}

func reportLive(stats capture.Stats, applied int) {
	fmt.Fprintf(os.Stderr, "\n🛑 Stopped: %d results, %d frames captured, %d frames dropped\n",
		applied, stats.Published, stats.Dropped)
}
