package main

import (
	"github.com/spf13/cobra"
)

func newGroupsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "groups <cluster> [group]",
		Short: "List consumer groups, or show the offsets and lag of one group",
		Args:  rangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, func(a *app) error {
				name := args[0]
				if err := connectOne(cmd.Context(), a, name); err != nil {
					return err
				}

				ctx, cancel := a.requestContext(cmd.Context())
				defer cancel()

				if len(args) == 2 {
					offsets, err := a.coord.GroupLag(ctx, name, args[1])
					if err != nil {
						return err
					}
					return a.report.GroupLag(ctx, args[1], offsets)
				}

				groups, err := a.coord.ConsumerGroups(ctx, name)
				if err != nil {
					return err
				}
				return a.report.Groups(ctx, name, groups)
			})
		},
	}
}
