package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/iTrooz/offline-cache/internal/cache"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newBucketsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buckets",
		Short: "Inspect and manage cache buckets",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List buckets in creation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := cache.NewStorage(opts.config.Cache.Backend, opts.config.Cache.Folder)
			if err != nil {
				return err
			}
			defer func() { _ = storage.Close() }()

			names, err := storage.Names(cmd.Context())
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No buckets.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tENTRIES\tSIZE")
			for _, name := range names {
				entries, size, err := bucketStats(cmd.Context(), storage, name)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\n", name, entries, humanize.Bytes(size))
			}
			return tw.Flush()
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := cache.NewStorage(opts.config.Cache.Backend, opts.config.Cache.Folder)
			if err != nil {
				return err
			}
			defer func() { _ = storage.Close() }()

			deleted, err := storage.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("bucket %s not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(listCmd, deleteCmd)
	return cmd
}

func bucketStats(ctx context.Context, storage cache.Storage, name string) (int, uint64, error) {
	bucket, err := storage.Lookup(ctx, name)
	if err != nil || bucket == nil {
		return 0, 0, err
	}

	keys, err := bucket.Keys(ctx)
	if err != nil {
		return 0, 0, err
	}

	var size uint64
	for _, key := range keys {
		data, err := bucket.Get(ctx, key)
		if err != nil {
			return 0, 0, err
		}
		size += uint64(len(data))
	}
	return len(keys), size, nil
}
