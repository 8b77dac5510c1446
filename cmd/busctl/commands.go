package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/next-trace/scg-event-bus/config"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/event"
	"github.com/next-trace/scg-event-bus/marketplace"
	"github.com/next-trace/scg-event-bus/servicebus"
	"github.com/next-trace/scg-event-bus/subscriber"
	"github.com/next-trace/scg-event-bus/topic"
)

type rootOptions struct {
	configPath string
	envFiles   []string
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "busctl",
		Short:         "Inspect and exercise the event bus",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "Env files to load (default .env)")

	root.AddCommand(newTopicsCmd(), newPublishCmd(opts), newListenCmd(opts))

	return root
}

func (o *rootOptions) bus() (*servicebus.Bus, error) {
	cfg, err := config.Load(o.configPath, o.envFiles...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	b, err := servicebus.FromConfig(cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("build bus: %w", err)
	}

	if err := b.Declare(marketplace.All()...); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("declare topics: %w", err)
	}

	return b, nil
}

func newTopicsCmd() *cobra.Command {
	var aggregate string

	cmd := &cobra.Command{
		Use:   "topics",
		Short: "List the declared marketplace topics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := marketplace.Catalog()

			topics := c.All()
			if aggregate != "" {
				topics = c.Topics(aggregate)
			}

			for _, t := range topics {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&aggregate, "aggregate", "a", "", "Only list topics of this aggregate")

	return cmd
}

func newPublishCmd(opts *rootOptions) *cobra.Command {
	var (
		source      string
		aggregateID string
		critical    bool
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "publish <topic> [payload-json]",
		Short: "Broadcast an integration event on a topic",
		Long: `The publish command wraps the JSON object payload in an integration event and
broadcasts it through the configured transport. Undeclared topics are refused
unless --force is given.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			aggregate, kind, err := topic.Parse(args[0])
			if err != nil {
				return err
			}

			if !force {
				if _, _, err := marketplace.Catalog().Lookup(args[0]); err != nil {
					return err
				}
			}

			payload := event.Payload{}
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
					return fmt.Errorf("parse payload: %w", errors.Join(berr.ErrSerializationFailed, err))
				}
			}

			if aggregateID == "" {
				aggregateID = uuid.NewString()
			}

			var eopts []event.Option
			if critical {
				eopts = append(eopts, event.WithCriticality(event.Critical))
			}

			b, err := opts.bus()
			if err != nil {
				return err
			}
			defer b.Close()

			src := event.New(event.Kind(kind), aggregateID, aggregate, payload, eopts...)
			integ := event.NewIntegration(source, src, "", payload)

			if err := b.PublishTo(cmd.Context(), integ, args[0]); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "published %s %s\n", integ.ID(), args[0])

			return nil
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "busctl", "Source bounded context")
	cmd.Flags().StringVar(&aggregateID, "id", "", "Aggregate id (random when empty)")
	cmd.Flags().BoolVar(&critical, "critical", false, "Mark the event critical")
	cmd.Flags().BoolVar(&force, "force", false, "Publish on an undeclared topic")

	return cmd
}

type line struct {
	Topic         string        `json:"topic"`
	EventID       string        `json:"event_id"`
	Source        string        `json:"source_context"`
	EntityID      string        `json:"entity_id"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	Payload       event.Payload `json:"payload"`
}

func newListenCmd(opts *rootOptions) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "listen <topic>...",
		Short: "Print every delivery on the given topics as JSON lines",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, t := range args {
				if _, _, err := topic.Parse(t); err != nil {
					return err
				}
			}

			b, err := opts.bus()
			if err != nil {
				return err
			}
			defer b.Close()

			var mu sync.Mutex
			enc := json.NewEncoder(cmd.OutOrStdout())

			h := subscriber.HandlerFunc(nil, func(_ context.Context, evt *event.Integration) error {
				mu.Lock()
				defer mu.Unlock()

				return enc.Encode(line{
					Topic:         evt.Topic(),
					EventID:       evt.ID(),
					Source:        evt.SourceContext(),
					EntityID:      evt.EntityID(),
					CorrelationID: evt.CorrelationID(),
					Payload:       evt.Payload(),
				})
			})

			if name == "" {
				name = "busctl-" + strings.Join(args, ",")
			}

			if err := b.Listen(cmd.Context(), name, h, args...); err != nil {
				return err
			}

			<-cmd.Context().Done()

			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Subscriber name")

	return cmd
}
