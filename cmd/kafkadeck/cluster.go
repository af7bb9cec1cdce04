package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/kafkadeck/internal/cluster"
	"github.com/ppiankov/kafkadeck/internal/registry"
	"github.com/ppiankov/kafkadeck/internal/reporter"
	"github.com/spf13/cobra"
)

type clusterFlags struct {
	brokers []string
	def     bool
	name    string
}

func newClusterCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Manage registered cluster profiles",
	}

	cmd.AddCommand(newClusterAddCmd(root))
	cmd.AddCommand(newClusterEditCmd(root))
	cmd.AddCommand(newClusterRemoveCmd(root))
	cmd.AddCommand(newClusterListCmd(root))
	cmd.AddCommand(newClusterDefaultCmd(root))

	return cmd
}

func newClusterAddCmd(root *rootOptions) *cobra.Command {
	opts := &clusterFlags{}

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a cluster profile",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, func(a *app) error {
				p := registry.Profile{
					Name:             args[0],
					Brokers:          opts.brokers,
					ConnectByDefault: opts.def,
				}
				if err := a.coord.AddCluster(p); err != nil {
					return profileErr(err)
				}
				return a.report.Clusters(cmd.Context(), reporter.Views(a.reg.Profiles(), a.coord.States()))
			})
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&opts.brokers, "brokers", nil, "Bootstrap brokers (host:port, comma-separated)")
	flags.BoolVar(&opts.def, "default", false, "Connect to this cluster on startup")

	return cmd
}

func newClusterEditCmd(root *rootOptions) *cobra.Command {
	opts := &clusterFlags{}

	cmd := &cobra.Command{
		Use:   "edit <name>",
		Short: "Change the brokers, name or default flag of a profile",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, func(a *app) error {
				current, ok := a.reg.Get(args[0])
				if !ok {
					return fmt.Errorf("%w: %q", registry.ErrNotFound, args[0])
				}

				next := current
				if flagChanged(cmd, "name") {
					next.Name = opts.name
				}
				if flagChanged(cmd, "brokers") {
					next.Brokers = opts.brokers
				}
				if flagChanged(cmd, "default") {
					next.ConnectByDefault = opts.def
				}
				if err := a.coord.EditCluster(current.Name, next); err != nil {
					return profileErr(err)
				}
				return a.report.Clusters(cmd.Context(), reporter.Views(a.reg.Profiles(), a.coord.States()))
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.name, "name", "", "New profile name")
	flags.StringSliceVar(&opts.brokers, "brokers", nil, "Replacement bootstrap brokers")
	flags.BoolVar(&opts.def, "default", false, "Connect to this cluster on startup")

	return cmd
}

func newClusterRemoveCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Delete a cluster profile",
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, func(a *app) error {
				if err := a.coord.RemoveCluster(args[0]); err != nil {
					return err
				}
				return a.report.Clusters(cmd.Context(), reporter.Views(a.reg.Profiles(), a.coord.States()))
			})
		},
	}
}

func newClusterListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered cluster profiles",
		Args:    exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, func(a *app) error {
				return a.report.Clusters(cmd.Context(), reporter.Views(a.reg.Profiles(), a.coord.States()))
			})
		},
	}
}

func newClusterDefaultCmd(root *rootOptions) *cobra.Command {
	var clearDefault bool

	cmd := &cobra.Command{
		Use:   "default [name]",
		Short: "Choose the cluster connected on startup",
		Args: func(cmd *cobra.Command, args []string) error {
			if clearDefault && len(args) > 0 {
				return usageErr(errors.New("--clear takes no cluster name"))
			}
			if !clearDefault && len(args) != 1 {
				return usageErr(errors.New("expected a cluster name or --clear"))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, func(a *app) error {
				name := ""
				if !clearDefault {
					name = args[0]
				}
				if err := a.coord.SetDefault(name); err != nil {
					return err
				}
				return a.report.Clusters(cmd.Context(), reporter.Views(a.reg.Profiles(), a.coord.States()))
			})
		},
	}

	cmd.Flags().BoolVar(&clearDefault, "clear", false, "Clear the default cluster")

	return cmd
}

func newConnectCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "connect [name...]",
		Short: "Connect to clusters concurrently and report their state",
		Long: `Connect to the named clusters concurrently and wait for every attempt.
Without names, the connect-by-default cluster is connected.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, func(a *app) error {
				return runConnect(cmd.Context(), a, args)
			})
		},
	}
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Connect to every registered cluster and report its state",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, func(a *app) error {
				if _, err := a.coord.ConnectAll(cmd.Context()); err != nil {
					return err
				}
				return a.report.Clusters(cmd.Context(), reporter.Views(a.reg.Profiles(), a.coord.States()))
			})
		},
	}
}

// runConnect reports every state and fails when any cluster is left
// disconnected.
func runConnect(ctx context.Context, a *app, names []string) error {
	if len(names) == 0 {
		p, ok := a.reg.Default()
		if !ok {
			return usageErr(errors.New("no default cluster: name a cluster or set one with 'kafkadeck cluster default'"))
		}
		if err := a.coord.Start(); err != nil {
			return err
		}
		names = []string{p.Name}
	}

	states, err := a.coord.ConnectAll(ctx, names...)
	if err != nil {
		return err
	}
	if err := a.report.States(ctx, states); err != nil {
		return err
	}

	var failed []string
	for _, st := range states {
		if st.Status != cluster.Connected {
			failed = append(failed, st.Cluster)
		}
	}
	switch len(failed) {
	case 0:
		return nil
	case 1:
		return stateError(states, failed[0])
	default:
		return &cluster.ConnectionError{
			Cluster: strings.Join(failed, ","),
			Status:  cluster.Failed,
			Err:     fmt.Errorf("%d clusters failed to connect", len(failed)),
		}
	}
}

func stateError(states []cluster.State, name string) error {
	for _, st := range states {
		if st.Cluster != name {
			continue
		}
		if st.Error == "" {
			return &cluster.ConnectionError{Cluster: name, Status: st.Status}
		}
		return &cluster.ConnectionError{Cluster: name, Status: st.Status, Err: errors.New(st.Error)}
	}
	return &cluster.ConnectionError{Cluster: name, Status: cluster.Disconnected}
}

// connectOne connects name and waits for the attempt to finish.
func connectOne(ctx context.Context, a *app, name string) error {
	if _, err := a.coord.RequestConnect(name); err != nil {
		return err
	}
	st, err := a.coord.Wait(ctx, name)
	if err != nil {
		return err
	}
	if st.Status != cluster.Connected {
		return stateError([]cluster.State{st}, name)
	}
	return nil
}

func newWatchCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [name...]",
		Short: "Connect to clusters and stream every state change",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, func(a *app) error {
				return runWatch(cmd.Context(), a, args)
			})
		},
	}
}

func runWatch(ctx context.Context, a *app, names []string) error {
	changes, cancel := a.coord.Subscribe(64)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := a.coord.ConnectAll(ctx, names...)
		done <- err
	}()

	for {
		select {
		case change := <-changes:
			if err := a.report.StateChange(ctx, change); err != nil {
				return err
			}
		case err := <-done:
			for {
				select {
				case change := <-changes:
					if err := a.report.StateChange(ctx, change); err != nil {
						return err
					}
				default:
					return err
				}
			}
		}
	}
}

// profileErr marks invalid profile input as a usage error.
func profileErr(err error) error {
	if errors.Is(err, registry.ErrInvalidProfile) {
		return usageErr(err)
	}
	return err
}
