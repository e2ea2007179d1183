package main

import (
	"fmt"

	"github.com/iTrooz/offline-cache/internal/cache"
	"github.com/iTrooz/offline-cache/internal/worker"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// workerEnv is a worker bound to the configured storage, outside of the proxy
type workerEnv struct {
	storage cache.Storage
	scope   *worker.Scope
	worker  *worker.Worker
}

func openWorkerEnv(opts *rootOptions) (*workerEnv, error) {
	cfg := opts.config

	timeout, err := cfg.GetNetworkTimeout()
	if err != nil {
		return nil, err
	}
	workerOpts, err := worker.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	w, err := worker.New(workerOpts)
	if err != nil {
		return nil, fmt.Errorf("invalid worker configuration: %w", err)
	}

	storage, err := cache.NewStorage(cfg.Cache.Backend, cfg.Cache.Folder)
	if err != nil {
		return nil, fmt.Errorf("open cache storage: %w", err)
	}

	return &workerEnv{
		storage: storage,
		scope:   worker.NewScope(storage, worker.NewHTTPFetcher(timeout)),
		worker:  w,
	}, nil
}

func (e *workerEnv) Close() error {
	return e.storage.Close()
}

func newInstallCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Fetch every asset into the bucket of the configured version",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openWorkerEnv(opts)
			if err != nil {
				return err
			}
			defer func() { _ = env.Close() }()

			result, err := env.worker.Install(cmd.Context(), env.scope).Wait(cmd.Context())
			if err != nil {
				return fmt.Errorf("install %s: %w", env.worker.Version(), err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Installed %d assets (%s) into %s\n",
				result.Assets, humanize.Bytes(uint64(result.Bytes)), result.Bucket)
			return nil
		},
	}
}

func newActivateCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Delete the buckets of other versions when cleanup is enabled",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openWorkerEnv(opts)
			if err != nil {
				return err
			}
			defer func() { _ = env.Close() }()

			task := env.worker.Activate(cmd.Context(), env.scope)
			if force {
				task = env.worker.Cleanup(cmd.Context(), env.scope)
			}
			result, err := task.Wait(cmd.Context())
			if err != nil {
				return fmt.Errorf("activate %s: %w", env.worker.Version(), err)
			}

			out := cmd.OutOrStdout()
			for _, name := range result.Deleted {
				fmt.Fprintf(out, "Deleted %s\n", name)
			}
			for name, err := range result.Failed {
				fmt.Fprintf(out, "Failed to delete %s: %v\n", name, err)
			}
			fmt.Fprintf(out, "Kept %s\n", result.Kept)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "delete other versions even if cleanup is disabled")
	return cmd
}
