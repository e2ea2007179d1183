package main

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/iTrooz/offline-cache/internal/cache"
	"github.com/iTrooz/offline-cache/internal/cache/httpcache"

	"github.com/spf13/cobra"
)

func newMatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "match URL",
		Short: "Look a URL up across every bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, args[0], nil)
			if err != nil {
				return fmt.Errorf("invalid URL: %w", err)
			}

			storage, err := cache.NewStorage(opts.config.Cache.Backend, opts.config.Cache.Folder)
			if err != nil {
				return err
			}
			defer func() { _ = storage.Close() }()

			resp, bucket, err := httpcache.NewStorage(storage).Match(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if resp == nil {
				fmt.Fprintln(out, "miss")
				return nil
			}
			defer func() { _ = resp.Body.Close() }()

			fmt.Fprintf(out, "%s (bucket %s)\n", resp.Status, bucket)
			keys := make([]string, 0, len(resp.Header))
			for key := range resp.Header {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				for _, value := range resp.Header[key] {
					fmt.Fprintf(out, "%s: %s\n", key, value)
				}
			}
			return nil
		},
	}
}
