package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/chriskillpack/platemate"
	"github.com/chriskillpack/platemate/internal/imaging"
)

const maxBatchErrors = 5

var (
	batchDir    string
	batchPrompt string
	batchCount  int

	lameduck atomic.Bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Analyze every JPEG and PNG under a directory, filling the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		if batchDir == "" {
			return fmt.Errorf("--dir is required")
		}
		photos, err := findImageFiles(batchDir)
		if err != nil {
			return err
		}
		if batchCount > -1 {
			photos = photos[:min(len(photos), batchCount)]
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sigch := make(chan os.Signal, 2)
		signal.Notify(sigch, os.Interrupt)
		defer signal.Stop(sigch)
		go sighandler(sigch, cancel)

		a, err := newApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Fprintf(cmd.ErrOrStderr(), "%d images to process\nUsing %s model %s\n",
			len(photos), a.svc.Analyzer().Name(), a.svc.Analyzer().Model())

		bar := progressbar.NewOptions(
			len(photos),
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionSetDescription("Analyzing"),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionShowCount(),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(cmd.ErrOrStderr()) }),
		)

		st := runBatch(ctx, a.svc, photos, batchPrompt, func() { bar.Add(1) })
		bar.Finish()

		fmt.Fprintf(cmd.OutOrStdout(), "Analyzed %d, %d from cache, %d failed\n", st.analyzed, st.cached, st.failed)
		if st.err != nil {
			return st.err
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchDir, "dir", "", "Directory of meal photos")
	batchCmd.Flags().StringVar(&batchPrompt, "prompt", "", "Prompt to send along with every image")
	batchCmd.Flags().IntVar(&batchCount, "count", -1, "Number of images to process")
}

func findImageFiles(root string) ([]string, error) {
	var photos []string

	err := filepath.Walk(root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".jpg" || ext == ".jpeg" || ext == ".png" {
			photos = append(photos, path)
		}

		return nil
	})

	return photos, err
}

type batchStats struct {
	analyzed int
	cached   int
	failed   int
	err      error // set when the batch was abandoned
}

// runBatch analyzes each photo in turn. It gives up after maxBatchErrors
// failures or when ctx is cancelled, and stops cleanly after the first
// interrupt.
func runBatch(ctx context.Context, svc *platemate.Service, photos []string, prompt string, step func()) batchStats {
	var (
		st      batchStats
		lastErr error
	)

	for i := 0; i < len(photos) && !lameduck.Load(); i++ {
		select {
		case <-ctx.Done():
			return st
		default:
		}

		data, err := os.ReadFile(photos[i])
		if err == nil {
			var res *platemate.Result
			res, err = svc.Analyze(ctx, platemate.Submission{
				Prompt:   prompt,
				MIMEType: imaging.SniffMIME(data),
				Image:    data,
			})
			if err == nil {
				st.analyzed++
				if res.Cached {
					st.cached++
				}
			}
		}
		step()

		if err != nil {
			st.failed++
			lastErr = fmt.Errorf("%s: %w", photos[i], err)
			if st.failed >= maxBatchErrors {
				st.err = fmt.Errorf("too many errors, last: %w", lastErr)
				return st
			}
		}
	}

	return st
}

func sighandler(ch chan os.Signal, cancel context.CancelFunc) {
	for {
		if _, ok := <-ch; !ok {
			return
		}
		if lameduck.Load() {
			// Already in lame duck, hard stop
			fmt.Println("Exiting")
			cancel()
			return
		} else {
			fmt.Println("SIGINT received, stopping...")
			lameduck.Store(true)
		}
	}
}
