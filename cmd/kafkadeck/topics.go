package main

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"

	"github.com/ppiankov/kafkadeck/internal/cluster"
	"github.com/ppiankov/kafkadeck/internal/metacache"
	"github.com/spf13/cobra"
)

func newTopicsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "topics <cluster>",
		Short: "List the topics of a cluster",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, func(a *app) error {
				name := args[0]
				if err := connectOne(cmd.Context(), a, name); err != nil {
					return err
				}

				ctx, cancel := a.requestContext(cmd.Context())
				defer cancel()

				topics, err := a.coord.Topics().ListTopics(ctx, name)
				if err != nil {
					return err
				}
				return a.report.Topics(ctx, name, topics)
			})
		},
	}
}

func newPartitionsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "partitions <cluster> <topic>",
		Short: "Show the partitions and watermarks of a topic",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, func(a *app) error {
				name, topic := args[0], args[1]
				if err := connectOne(cmd.Context(), a, name); err != nil {
					return err
				}

				ctx, cancel := a.requestContext(cmd.Context())
				defer cancel()

				snap, err := a.coord.Topics().Snapshot(ctx, name, topic)
				if err != nil {
					return err
				}
				return a.report.Snapshot(ctx, snap)
			})
		},
	}
}

type messagesOptions struct {
	partition int32
	from      int64
	to        int64
	last      int64
	search    metacache.Search
}

func newMessagesCmd(root *rootOptions) *cobra.Command {
	opts := &messagesOptions{}

	cmd := &cobra.Command{
		Use:   "messages <cluster> <topic>",
		Short: "Read or search messages of one partition by offset range or the latest N",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateMessagesOptions(cmd, opts); err != nil {
				return err
			}
			return withApp(cmd, root, func(a *app) error {
				name, topic := args[0], args[1]
				if err := connectOne(cmd.Context(), a, name); err != nil {
					return err
				}

				ctx, cancel := a.requestContext(cmd.Context())
				defer cancel()

				cache := a.coord.Topics()
				var (
					msgs iter.Seq2[cluster.Message, error]
					err  error
				)
				switch {
				case flagChanged(cmd, "grep"):
					msgs, err = cache.SearchMessages(ctx, name, topic, opts.partition, opts.from, opts.to, opts.search)
				case flagChanged(cmd, "last"):
					msgs, err = cache.LatestMessages(ctx, name, topic, opts.partition, opts.last)
				default:
					msgs, err = cache.MessagesInRange(ctx, name, topic, opts.partition, opts.from, opts.to)
				}
				if err != nil {
					return err
				}
				return a.report.Messages(ctx, msgs)
			})
		},
	}

	flags := cmd.Flags()
	flags.Int32VarP(&opts.partition, "partition", "p", 0, "Partition to read")
	flags.Int64Var(&opts.from, "from", 0, "First offset (inclusive, raised to the low watermark)")
	flags.Int64Var(&opts.to, "to", -1, "Last offset (inclusive, -1 for the newest message)")
	flags.Int64Var(&opts.last, "last", 0, "Read the latest N messages instead of a range")
	flags.StringVar(&opts.search.Pattern, "grep", "", "Only show messages containing this text (case-insensitive)")
	flags.BoolVar(&opts.search.InKey, "in-key", false, "Search message keys")
	flags.BoolVar(&opts.search.InValue, "in-value", true, "Search message values")
	flags.IntVar(&opts.search.Limit, "max", 100, "Stop after this many matches")

	return cmd
}

func validateMessagesOptions(cmd *cobra.Command, opts *messagesOptions) error {
	if opts.partition < 0 {
		return usageErr(errors.New("--partition must be zero or greater"))
	}
	if flagChanged(cmd, "grep") {
		if flagChanged(cmd, "last") {
			return usageErr(errors.New("--grep cannot be combined with --last"))
		}
		if opts.search.Limit <= 0 {
			return usageErr(errors.New("--max must be greater than zero"))
		}
		if err := opts.search.Validate(); err != nil {
			return usageErr(err)
		}
	} else if flagChanged(cmd, "in-key") || flagChanged(cmd, "in-value") || flagChanged(cmd, "max") {
		return usageErr(errors.New("--in-key, --in-value and --max require --grep"))
	}
	if flagChanged(cmd, "last") {
		if flagChanged(cmd, "from") || flagChanged(cmd, "to") {
			return usageErr(errors.New("--last cannot be combined with --from or --to"))
		}
		if opts.last <= 0 {
			return usageErr(errors.New("--last must be greater than zero"))
		}
		return nil
	}
	if opts.to < 0 {
		opts.to = math.MaxInt64
	}
	return nil
}

type produceOptions struct {
	key       string
	value     string
	headers   []string
	partition int32
}

func newProduceCmd(root *rootOptions) *cobra.Command {
	opts := &produceOptions{}

	cmd := &cobra.Command{
		Use:   "produce <cluster> <topic>",
		Short: "Write one message to a topic",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			headers, err := parseKeyValues(opts.headers)
			if err != nil {
				return usageErr(fmt.Errorf("invalid --header: %w", err))
			}

			rec := cluster.Record{
				Topic:     args[1],
				Partition: opts.partition,
				Value:     []byte(opts.value),
			}
			if flagChanged(cmd, "key") {
				rec.Key = []byte(opts.key)
			}
			for _, kv := range headers {
				rec.Headers = append(rec.Headers, cluster.Header{Key: kv[0], Value: []byte(kv[1])})
			}

			return withApp(cmd, root, func(a *app) error {
				name := args[0]
				if err := connectOne(cmd.Context(), a, name); err != nil {
					return err
				}

				ctx, cancel := a.requestContext(cmd.Context())
				defer cancel()

				msg, err := a.coord.Produce(ctx, name, rec)
				if err != nil {
					return err
				}
				return a.report.Produced(ctx, msg)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.key, "key", "", "Message key (unset means a null key)")
	flags.StringVar(&opts.value, "value", "", "Message value")
	flags.StringArrayVar(&opts.headers, "header", nil, "Header as key=value (repeatable)")
	flags.Int32VarP(&opts.partition, "partition", "p", -1, "Target partition (-1 picks one from the key)")

	return cmd
}

func newTopicCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topic",
		Short: "Create, delete and configure topics",
	}

	cmd.AddCommand(newTopicCreateCmd(root))
	cmd.AddCommand(newTopicDeleteCmd(root))
	cmd.AddCommand(newTopicConfigCmd(root))
	cmd.AddCommand(newTopicAlterCmd(root))

	return cmd
}

type topicCreateOptions struct {
	partitions        int32
	replicationFactor int16
	configs           []string
}

func newTopicCreateCmd(root *rootOptions) *cobra.Command {
	opts := &topicCreateOptions{}

	cmd := &cobra.Command{
		Use:   "create <cluster> <topic>",
		Short: "Create a topic",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			configs, err := parseKeyValues(opts.configs)
			if err != nil {
				return usageErr(fmt.Errorf("invalid --config: %w", err))
			}
			spec := cluster.TopicSpec{
				Name:              args[1],
				Partitions:        opts.partitions,
				ReplicationFactor: opts.replicationFactor,
				Configs:           toMap(configs),
			}

			return withApp(cmd, root, func(a *app) error {
				name := args[0]
				if err := connectOne(cmd.Context(), a, name); err != nil {
					return err
				}

				ctx, cancel := a.requestContext(cmd.Context())
				defer cancel()

				if err := a.coord.CreateTopic(ctx, name, spec); err != nil {
					return err
				}
				snap, err := a.coord.Topics().Snapshot(ctx, name, spec.Name)
				if err != nil {
					return err
				}
				return a.report.Snapshot(ctx, snap)
			})
		},
	}

	flags := cmd.Flags()
	flags.Int32Var(&opts.partitions, "partitions", 0, "Partition count (0 uses the broker default)")
	flags.Int16Var(&opts.replicationFactor, "replication-factor", 0, "Replication factor (0 uses the broker default)")
	flags.StringArrayVar(&opts.configs, "config", nil, "Topic config as key=value (repeatable)")

	return cmd
}

func newTopicDeleteCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <cluster> <topic>",
		Short: "Delete a topic",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, func(a *app) error {
				name, topic := args[0], args[1]
				if err := connectOne(cmd.Context(), a, name); err != nil {
					return err
				}

				ctx, cancel := a.requestContext(cmd.Context())
				defer cancel()

				if err := a.coord.DeleteTopic(ctx, name, topic); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted topic %s on %s\n", topic, name)
				return err
			})
		},
	}
}

func newTopicConfigCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config <cluster> <topic>",
		Short: "Show the non-default config of a topic",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, func(a *app) error {
				name, topic := args[0], args[1]
				if err := connectOne(cmd.Context(), a, name); err != nil {
					return err
				}

				ctx, cancel := a.requestContext(cmd.Context())
				defer cancel()

				values, err := a.coord.DescribeTopicConfig(ctx, name, topic)
				if err != nil {
					return err
				}
				return a.report.TopicConfig(ctx, topic, values)
			})
		},
	}
}

type topicAlterOptions struct {
	set    []string
	delete []string
}

func newTopicAlterCmd(root *rootOptions) *cobra.Command {
	opts := &topicAlterOptions{}

	cmd := &cobra.Command{
		Use:   "alter <cluster> <topic>",
		Short: "Set or reset config entries of a topic",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sets, err := parseKeyValues(opts.set)
			if err != nil {
				return usageErr(fmt.Errorf("invalid --set: %w", err))
			}
			for _, kv := range sets {
				if kv[1] == "" {
					return usageErr(fmt.Errorf("invalid --set: %q has an empty value (use --delete %s to reset it)", kv[0], kv[0]))
				}
			}
			values := toMap(sets)
			if values == nil {
				values = make(map[string]string)
			}
			for _, key := range opts.delete {
				key = strings.TrimSpace(key)
				if key == "" {
					return usageErr(errors.New("invalid --delete: empty key"))
				}
				values[key] = ""
			}
			if len(values) == 0 {
				return usageErr(errors.New("nothing to change: use --set or --delete"))
			}

			return withApp(cmd, root, func(a *app) error {
				name, topic := args[0], args[1]
				if err := connectOne(cmd.Context(), a, name); err != nil {
					return err
				}

				ctx, cancel := a.requestContext(cmd.Context())
				defer cancel()

				if err := a.coord.AlterTopicConfig(ctx, name, topic, values); err != nil {
					return err
				}
				current, err := a.coord.DescribeTopicConfig(ctx, name, topic)
				if err != nil {
					return err
				}
				return a.report.TopicConfig(ctx, topic, current)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVar(&opts.set, "set", nil, "Config entry to set as key=value (repeatable)")
	flags.StringArrayVar(&opts.delete, "delete", nil, "Config key to reset to the broker default (repeatable)")

	return cmd
}

// parseKeyValues splits key=value pairs, keeping their order. Values may
// contain '=' and may be empty.
func parseKeyValues(pairs []string) ([][2]string, error) {
	out := make([][2]string, 0, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%q is not key=value", pair)
		}
		out = append(out, [2]string{key, value})
	}
	return out, nil
}

func toMap(pairs [][2]string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		out[kv[0]] = kv[1]
	}
	return out
}
