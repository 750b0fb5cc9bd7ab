package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/seatrade/cruisesync-go/internal/adapters/persistence"
	"github.com/seatrade/cruisesync-go/internal/adapters/queue"
	"github.com/seatrade/cruisesync-go/internal/domain/ingestion"
	"github.com/seatrade/cruisesync-go/internal/domain/shared"
	"github.com/seatrade/cruisesync-go/internal/infrastructure/config"
	"github.com/seatrade/cruisesync-go/internal/infrastructure/database"
)

// toolbox bundles the connections the operator commands share
type toolbox struct {
	db      *gorm.DB
	rdb     *redis.Client
	jobs    *queue.Queue
	events  *persistence.GormWebhookEventRepository
	flags   *persistence.GormSystemFlagRepository
	cruises *persistence.GormCruiseRepository

	webhookMaxAttempts int
}

func openToolbox(configPath string) (*toolbox, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		return nil, err
	}

	redisOpts, err := redis.ParseURL(cfg.Queue.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("invalid queue backend url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)

	clock := shared.NewRealClock()
	return &toolbox{
		db:      db,
		rdb:     rdb,
		jobs:    queue.New(rdb, queue.Config{KeyPrefix: cfg.Queue.KeyPrefix}, clock, zerolog.Nop()),
		events:  persistence.NewGormWebhookEventRepository(db, clock),
		flags:   persistence.NewGormSystemFlagRepository(db),
		cruises: persistence.NewGormCruiseRepository(db, cfg.Sync.PriceEpsilon, clock, zerolog.Nop()),

		webhookMaxAttempts: cfg.Queue.WebhookMaxAttempts,
	}, nil
}

func (t *toolbox) close() {
	_ = t.rdb.Close()
	_ = database.Close(t.db)
}

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "cruisesync",
		Short:         "Operator tooling for the cruise pricing ingestion pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	withToolbox := func(fn func(ctx context.Context, t *toolbox, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			t, err := openToolbox(configPath)
			if err != nil {
				return err
			}
			defer t.close()
			return fn(cmd.Context(), t, args)
		}
	}

	flagsCmd := &cobra.Command{Use: "flags", Short: "Inspect and set system flags"}
	flagsCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List all system flags",
			RunE: withToolbox(func(ctx context.Context, t *toolbox, args []string) error {
				flags, err := t.flags.List(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "KEY\tVALUE\tUPDATED")
				for _, f := range flags {
					fmt.Fprintf(w, "%s\t%s\t%s\n", f.Key, f.Value, f.UpdatedAt.Format(time.RFC3339))
				}
				return w.Flush()
			}),
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print one system flag",
			Args:  cobra.ExactArgs(1),
			RunE: withToolbox(func(ctx context.Context, t *toolbox, args []string) error {
				value, ok, err := t.flags.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("flag %q is not set", args[0])
				}
				fmt.Println(value)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set one system flag",
			Args:  cobra.ExactArgs(2),
			RunE: withToolbox(func(ctx context.Context, t *toolbox, args []string) error {
				if err := t.flags.Set(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Printf("%s = %s\n", args[0], args[1])
				return nil
			}),
		},
	)

	pendingCmd := &cobra.Command{
		Use:   "pending-syncs",
		Short: "Show queue depths and the deferred backlog",
		RunE: withToolbox(func(ctx context.Context, t *toolbox, args []string) error {
			intakeDepth, err := t.jobs.Depth(ctx, ingestion.QueueWebhookIntake)
			if err != nil {
				return err
			}
			lineDepth, err := t.jobs.Depth(ctx, ingestion.QueueCruiseLineProcessing)
			if err != nil {
				return err
			}
			deferred, err := t.cruises.CountNeedingPriceUpdate(ctx, 0)
			if err != nil {
				return err
			}
			fmt.Printf("webhook-intake depth:          %d\n", intakeDepth)
			fmt.Printf("cruise-line-processing depth:  %d\n", lineDepth)
			fmt.Printf("deferred sailings:             %d\n", deferred)
			return nil
		}),
	}

	var eventsLimit int
	eventsCmd := &cobra.Command{
		Use:   "webhook-events",
		Short: "List recent webhook ledger entries",
		RunE: withToolbox(func(ctx context.Context, t *toolbox, args []string) error {
			events, err := t.events.ListRecent(ctx, eventsLimit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tLINE\tSTATUS\tRECEIVED\tRETRIES\tERROR")
			for _, e := range events {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%s\n",
					e.ID, e.LineID, e.Status, e.ReceivedAt.Format(time.RFC3339), e.RetryCount, e.ErrorMessage)
			}
			return w.Flush()
		}),
	}
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "number of entries to show")

	retryCmd := &cobra.Command{
		Use:   "retry-event <event-id>",
		Short: "Re-open a failed webhook event and re-enqueue its job",
		Args:  cobra.ExactArgs(1),
		RunE: withToolbox(func(ctx context.Context, t *toolbox, args []string) error {
			event, err := t.events.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if event.Status != ingestion.WebhookStatusFailed {
				return fmt.Errorf("event %s is %s, only failed events can be retried", event.ID, event.Status)
			}
			if err := t.events.Transition(ctx, event.ID, ingestion.WebhookStatusPending, ""); err != nil {
				return err
			}
			if _, err := t.jobs.Enqueue(ctx, ingestion.QueueWebhookIntake, ingestion.WebhookJobPayload{
				WebhookEventID: event.ID,
				LineID:         event.LineID,
				EventType:      event.EventType,
			}, t.webhookMaxAttempts); err != nil {
				return err
			}
			fmt.Printf("event %s re-queued\n", event.ID)
			return nil
		}),
	}

	requeueDeadCmd := &cobra.Command{
		Use:   "requeue-dead <queue>",
		Short: "Move a queue's dead-lettered jobs back to waiting",
		Args:  cobra.ExactArgs(1),
		RunE: withToolbox(func(ctx context.Context, t *toolbox, args []string) error {
			queueName := args[0]
			if queueName != ingestion.QueueWebhookIntake && queueName != ingestion.QueueCruiseLineProcessing {
				return fmt.Errorf("unknown queue %q", queueName)
			}
			requeued, err := t.jobs.RequeueDead(ctx, queueName)
			if err != nil {
				return err
			}
			fmt.Printf("requeued %d dead jobs on %s\n", requeued, queueName)
			return nil
		}),
	}

	var deadLimit int
	deadCmd := &cobra.Command{
		Use:   "dead-letters <queue>",
		Short: "Show a queue's dead-lettered jobs",
		Args:  cobra.ExactArgs(1),
		RunE: withToolbox(func(ctx context.Context, t *toolbox, args []string) error {
			dead, err := t.jobs.DeadLetters(ctx, args[0], int64(deadLimit))
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tATTEMPTS\tLAST ERROR")
			for _, j := range dead {
				fmt.Fprintf(w, "%s\t%s\t%s\n", j.ID, strconv.Itoa(j.Attempt), j.LastError)
			}
			return w.Flush()
		}),
	}
	deadCmd.Flags().IntVar(&deadLimit, "limit", 20, "number of jobs to show")

	root.AddCommand(flagsCmd, pendingCmd, eventsCmd, retryCmd, requeueDeadCmd, deadCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
