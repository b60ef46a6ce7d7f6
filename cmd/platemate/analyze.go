package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chriskillpack/platemate"
	"github.com/chriskillpack/platemate/internal/imaging"
)

var (
	imagePath string
	prompt    string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a single image from disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		if imagePath == "" {
			return fmt.Errorf("%w, pass one with --image", platemate.ErrNoImage)
		}
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.svc.Analyze(cmd.Context(), platemate.Submission{
			Prompt:   prompt,
			MIMEType: imaging.SniffMIME(data),
			Image:    data,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "The Response is:")
		fmt.Fprintln(out, res.Text)
		if res.Cached {
			fmt.Fprintln(cmd.ErrOrStderr(), "(served from cache)")
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&imagePath, "image", "", "Path to a JPEG or PNG image")
	analyzeCmd.Flags().StringVar(&prompt, "prompt", "", "Prompt to send along with the image")
}
