package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maruel/avatardb/internal/tiered"
)

func newInvalidateCmd(opts *rootOptions) *cobra.Command {
	req := &tiered.Request{}
	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Purge CDN entries and refresh the hot cache",
		Long: `Purges the given CDN paths and tags, then with --refresh rewrites the hot
cache entries of the given languages (all configured languages by default)
from the CDN snapshots. Exits non-zero when the refresh partially failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(req.Paths)+len(req.Tags) == 0 && !req.RefreshHotCache {
				return errors.New("nothing to invalidate: use --path, --tag or --refresh")
			}
			for _, l := range req.Languages {
				if err := tiered.ValidateLanguage(l); err != nil {
					return err
				}
			}
			st, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			rep := st.Invalidator.Invalidate(cmd.Context(), req)
			if err := printJSON(cmd, rep); err != nil {
				return err
			}
			if !rep.OK() {
				return errors.New("invalidation partially failed")
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&req.Paths, "path", nil, "CDN path to purge (repeatable)")
	cmd.Flags().StringArrayVar(&req.Tags, "tag", nil, "CDN cache tag to purge (repeatable)")
	cmd.Flags().BoolVar(&req.RefreshHotCache, "refresh", false, "Refresh the hot cache from the CDN snapshots")
	cmd.Flags().StringArrayVar(&req.Languages, "lang", nil, "Language to refresh (repeatable)")
	return cmd
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete assets whose record no longer exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			if st.Sweeper == nil {
				return errors.New("the configured blob store cannot list its assets")
			}
			rep, err := st.Sweeper.Sweep(cmd.Context())
			if rep != nil {
				if err2 := printJSON(cmd, rep); err2 != nil && err == nil {
					err = err2
				}
			}
			return err
		},
	}
}

func newSnapshotCmd(opts *rootOptions) *cobra.Command {
	out := ""
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Render the CDN snapshots of every language into a directory",
		Long:  "Writes <out>/data/{lang}.json for static hosting. Languages without a source document are skipped.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				return errors.New("--out is required")
			}
			st, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			files, err := st.Snapshotter.WriteDir(cmd.Context(), out)
			for _, f := range files {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Output directory")
	return cmd
}

func newResolveCmd(opts *rootOptions) *cobra.Command {
	full := false
	cmd := &cobra.Command{
		Use:   "resolve <lang>",
		Short: "Read a language's dataset through the cache tiers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			ds, err := st.Resolver.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if full {
				return printJSON(cmd, ds)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (requested %s) from %s: %d records\n", ds.Language, ds.Requested, ds.Tier, len(ds.Records))
			return err
		},
	}
	cmd.Flags().BoolVar(&full, "json", false, "Print the whole dataset")
	return cmd
}
