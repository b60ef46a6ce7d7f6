package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chriskillpack/platemate"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the response cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show response cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openCache(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		st, err := db.Stats(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Database: %s\n", db.Path())
		fmt.Fprintf(out, "Entries:  %d\n", st.Entries)
		fmt.Fprintf(out, "Images:   %d\n", st.Images)
		if st.Entries > 0 {
			fmt.Fprintf(out, "Oldest:   %s\n", st.Oldest.Local().Format(time.DateTime))
			fmt.Fprintf(out, "Newest:   %s\n", st.Newest.Local().Format(time.DateTime))
		}
		return nil
	},
}

var showImagePath string

var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show every cached response for an image",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showImagePath == "" {
			return fmt.Errorf("%w, pass one with --image", platemate.ErrNoImage)
		}
		data, err := os.ReadFile(showImagePath)
		if err != nil {
			return err
		}
		fp, err := platemate.Fingerprint(data)
		if err != nil {
			return err
		}

		db, err := openCache(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := db.Entries(cmd.Context(), fp)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Fingerprint: %s\n", fp)
		if len(entries) == 0 {
			fmt.Fprintln(out, "No cached responses")
			return nil
		}
		for i, e := range entries {
			fmt.Fprintf(out, "Prompt=%q Model=%s At=%s\n%s\n", e.Prompt, e.Model, e.CreatedAt.Local().Format(time.DateTime), e.Description)
			if i < len(entries)-1 {
				fmt.Fprintln(out, "==========")
			}
		}
		return nil
	},
}

func init() {
	cacheShowCmd.Flags().StringVar(&showImagePath, "image", "", "Path to the image to look up")
	cacheCmd.AddCommand(cacheStatsCmd, cacheShowCmd)
}

// openCache opens the response cache without requiring a model backend.
func openCache(cmd *cobra.Command) (*platemate.DB, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return platemate.NewDB(cmd.Context(), cfg.DBPath)
}
