package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check which inference endpoints are reachable",
	Run: func(cmd *cobra.Command, args []string) {
		runStatus(cmd)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command) {
	h := connectEndpoints(cmd.Context())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "CAPABILITY\tENDPOINT\tSTATUS\tROOT")
	fmt.Fprintln(w, "----------\t--------\t------\t----")

	emotionRoot, detectionRoot := "-", "-"
	if h.Emotion != nil {
		emotionRoot = h.Emotion.Root()
	}
	if h.Detection != nil {
		detectionRoot = h.Detection.Root()
	}
	fmt.Fprintf(w, "emotion\t%s\t%s\t%s\n", Conf.EmotionEndpoint, statusWord(h.Emotion != nil), emotionRoot)
	fmt.Fprintf(w, "detection\t%s\t%s\t%s\n", Conf.DetectionEndpoint, statusWord(h.Detection != nil), detectionRoot)
	w.Flush()

	switch {
	case h.Emotion != nil && h.Detection != nil:
		fmt.Fprintln(os.Stderr, "✅ Upload, camera and live modes available")
	case h.Emotion != nil:
		fmt.Fprintln(os.Stderr, "⚠️  Only live mode available (detection endpoint down)")
	default:
		fmt.Fprintln(os.Stderr, "❌ No analysis available")
		os.Exit(1)
	}
}

func statusWord(ok bool) string {
	if ok {
		return "ready"
	}
	return "unavailable"
}
