package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/downfa11-org/packrat/pkg/store"
	"github.com/downfa11-org/packrat/pkg/types"
)

func (c *cli) offsetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offsets",
		Short: "Read or advance partition cursors",
	}

	var topic string
	var partition int32
	var offset int64

	get := &cobra.Command{
		Use:   "get",
		Short: "Show the next offset the collector will read (seeds 0 when absent)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, b store.Backend) error {
				off, err := b.GetOffset(ctx, topic, partition)
				if err != nil {
					return err
				}
				cur := types.Cursor{Topic: topic, Partition: partition, Offset: off}
				return c.print(cur, fmt.Sprintf("%s-%d\t%d", topic, partition, off))
			})
		},
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Advance a cursor; lower or equal offsets are ignored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, b store.Backend) error {
				applied, err := b.UpdateOffset(ctx, topic, partition, offset)
				if err != nil {
					return err
				}
				text := fmt.Sprintf("%s-%d\tapplied=%v", topic, partition, applied)
				return c.print(map[string]any{
					"topic":     topic,
					"partition": partition,
					"offset":    offset,
					"applied":   applied,
				}, text)
			})
		},
	}

	for _, sub := range []*cobra.Command{get, set} {
		sub.Flags().StringVar(&topic, "topic", "", "Topic name")
		sub.Flags().Int32Var(&partition, "partition", 0, "Partition number")
		_ = sub.MarkFlagRequired("topic")
	}
	set.Flags().Int64Var(&offset, "offset", 0, "Next offset to read")
	_ = set.MarkFlagRequired("offset")

	cmd.AddCommand(get, set)
	return cmd
}

func (c *cli) namespacesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "namespaces",
		Aliases: []string{"ns"},
		Short:   "Manage per-topic record namespaces",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List provisioned namespaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, b store.Backend) error {
				names, err := b.Namespaces(ctx)
				if err != nil {
					return err
				}
				return c.print(names, strings.Join(names, "\n"))
			})
		},
	}

	provision := &cobra.Command{
		Use:   "provision <topic>...",
		Short: "Create namespaces so records for these topics are accepted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, b store.Backend) error {
				for _, topic := range args {
					if err := b.Provision(ctx, topic); err != nil {
						return err
					}
				}
				return c.print(args, "provisioned "+strings.Join(args, ", "))
			})
		},
	}

	cmd.AddCommand(list, provision)
	return cmd
}

func (c *cli) recordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Query persisted healthcheck records",
	}

	var topic, emitter string
	var session int64

	emitters := &cobra.Command{
		Use:   "emitters",
		Short: "List emitters that reported on a topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, b store.Backend) error {
				ids, err := b.Emitters(ctx, topic)
				if err != nil {
					return err
				}
				return c.print(ids, strings.Join(ids, "\n"))
			})
		},
	}

	sessions := &cobra.Command{
		Use:   "sessions",
		Short: "List session timestamps of one emitter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, b store.Backend) error {
				ts, err := b.Sessions(ctx, topic, emitter)
				if err != nil {
					return err
				}
				lines := make([]string, len(ts))
				for i, s := range ts {
					lines[i] = fmt.Sprint(s)
				}
				return c.print(ts, strings.Join(lines, "\n"))
			})
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the records of one session in record order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, b store.Backend) error {
				recs, err := b.SessionRecords(ctx, topic, emitter, session)
				if err != nil {
					return err
				}
				lines := make([]string, len(recs))
				for i, r := range recs {
					lines[i] = fmt.Sprintf("%s\t%s\t%v", r.UniqueKey, r.GroupID, r.Payload)
				}
				return c.print(recs, strings.Join(lines, "\n"))
			})
		},
	}

	for _, sub := range []*cobra.Command{emitters, sessions, show} {
		sub.Flags().StringVar(&topic, "topic", "", "Topic name")
		_ = sub.MarkFlagRequired("topic")
	}
	for _, sub := range []*cobra.Command{sessions, show} {
		sub.Flags().StringVar(&emitter, "emitter", "", "Emitter id")
		_ = sub.MarkFlagRequired("emitter")
	}
	show.Flags().Int64Var(&session, "session", 0, "Session timestamp")
	_ = show.MarkFlagRequired("session")

	cmd.AddCommand(emitters, sessions, show)
	return cmd
}
