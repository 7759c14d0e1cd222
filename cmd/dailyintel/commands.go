package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cognicore/dailyintel/internal/watch"
	"github.com/cognicore/dailyintel/pkg/dailyintel"
	"github.com/cognicore/dailyintel/pkg/dailyintel/enrich"
	"github.com/cognicore/dailyintel/pkg/dailyintel/maintenance"
)

// sourceExtensions are the inbox file types the watcher picks up.
var sourceExtensions = []string{".pdf", ".html", ".htm", ".txt", ".md"}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Daily AI/tech intelligence dataset pipeline",
		Long: `dailyintel turns a daily news document (PDF, HTML or text) into a dataset
file of structured stories, one file per day (DD_MM_YY.json).

Stories get content-derived ids, reposts from earlier days are flagged,
linked or dropped, and each story carries an engagement score. A separate
enrichment pass attaches generated images to stories without one.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flags.metricsTextfile, "metrics-textfile", "", "Write run metrics to this file in Prometheus text format")

	cmd.AddCommand(
		ingestCmd(flags),
		enrichCmd(flags),
		scanCmd(flags),
		reconcileCmd(flags),
		auditCmd(flags),
		rankCmd(flags),
		indexCmd(flags),
		watchCmd(flags),
		mirrorCmd(flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)
	return cmd
}

// withApp builds the app for one command, runs fn and releases resources.
// Successful commands are recorded in the metrics.
func withApp(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(flags, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	if err := fn(cmd.Context(), a); err != nil {
		return err
	}
	a.finish(cmd.Name())
	return nil
}

func ingestCmd(flags *globalFlags) *cobra.Command {
	var (
		date  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Publish the dataset file for one daily source document",
		Long: `Extract, structure, dedup and score one source document and publish it
as the day's dataset file. The day is taken from --date or the file name
(DD_MM_YY or YYYY-MM-DD). An existing day is only replaced with --force.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				engine, err := a.engine(ctx)
				if err != nil {
					return err
				}
				res, err := engine.Ingest(ctx, dailyintel.IngestRequest{Path: args[0], Day: date, Force: force})
				if err != nil {
					return err
				}
				printIngest(a, res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day to publish as (DD_MM_YY)")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an already published day")
	return cmd
}

func printIngest(a *app, res dailyintel.IngestResult) {
	fmt.Fprintf(a.out, "%s: %d stories -> %s\n", res.Day, res.Stories, res.Output)
	for _, d := range res.Duplicates {
		switch {
		case d.WithinDay:
			fmt.Fprintf(a.out, "  repeated in source: %s %q\n", d.ID, d.Title)
		case d.Dropped:
			fmt.Fprintf(a.out, "  dropped repost of %s: %s %q\n", d.FirstSeen, d.ID, d.Title)
		default:
			fmt.Fprintf(a.out, "  repost of %s: %s %q\n", d.FirstSeen, d.ID, d.Title)
		}
	}
	if n := len(res.Warnings); n > 0 {
		fmt.Fprintf(a.out, "  %d segmentation warnings\n", n)
	}
}

func enrichCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "enrich [day...]",
		Short: "Attach generated images to stories without one",
		Long: `Request an image for every story whose image_url is empty and write the
results back in one atomic rewrite per day. Without arguments every
published day is processed. Failed stories stay without an image and are
picked up by the next run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				days := args
				if len(days) == 0 {
					all, err := a.allDays()
					if err != nil {
						return err
					}
					days = all
				}
				coord, err := a.coordinator(ctx)
				if err != nil {
					return err
				}

				failed := 0
				for _, day := range days {
					path, err := a.dayPath(day)
					if err != nil {
						return err
					}
					rep, err := coord.Run(ctx, path)
					printEnrich(a, rep)
					if err != nil {
						return err
					}
					failed += len(rep.Failed)
				}
				if failed > 0 {
					a.logger.Warn("Some stories are still without images", "failed", failed)
				}
				return nil
			})
		},
	}
}

func printEnrich(a *app, rep enrich.Report) {
	fmt.Fprintf(a.out, "%s: %d records, %d missing, %d attached, %d failed\n",
		rep.Day, rep.Records, rep.Missing, len(rep.Attached), len(rep.Failed))
	for _, f := range rep.Failed {
		fmt.Fprintf(a.out, "  %s after %d attempts: %v\n", f.ID, f.Attempts, f.Err)
	}
}

func scanCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <day>",
		Short: "List stories of a day that still need an image",
		Long: `List the stories of a day whose image_url is empty. With a store
configured, the last recorded enrichment state is shown next to each story.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				path, err := a.dayPath(args[0])
				if err != nil {
					return err
				}
				coord, err := a.coordinator(ctx)
				if err != nil {
					return err
				}
				missing, err := coord.Scan(path)
				if err != nil {
					return err
				}
				states, err := a.enrichmentStates(ctx, dayArg(args[0]))
				if err != nil {
					return err
				}
				for _, rec := range missing {
					e, ok := states[rec.ID]
					if !ok {
						fmt.Fprintf(a.out, "%s\t%s\n", rec.ID, rec.Title)
						continue
					}
					line := fmt.Sprintf("%s\t%s\t%s after %d attempts", rec.ID, rec.Title, e.State, e.Attempts)
					if e.LastError != "" {
						line += ": " + e.LastError
					}
					fmt.Fprintln(a.out, line)
				}
				return nil
			})
		},
	}
}

func reconcileCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <day>",
		Short: "Attach images already saved under images/<day>/",
		Long: `Attach images produced outside the pipeline (saved as
images/<day>/<id>.<ext> in the dataset directory) to their stories.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				path, err := a.dayPath(args[0])
				if err != nil {
					return err
				}
				coord, err := a.coordinator(ctx)
				if err != nil {
					return err
				}
				rep, err := coord.Reconcile(ctx, path)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s: attached %d of %d missing\n", rep.Day, len(rep.Attached), rep.Missing)
				return nil
			})
		},
	}
}

func auditCmd(flags *globalFlags) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check every published day for id, repost and image problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				rep, err := maintenance.NewAuditor(a.cfg.DatasetDir, enrich.NewLocalAssets(a.cfg.DatasetDir), a.logger).Audit(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
				for _, f := range rep.Findings {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Day, f.Kind, f.ID, f.Detail)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%d days, %d records, %d findings\n", rep.Days, rep.Records, len(rep.Findings))

				if strict {
					if n := len(rep.Findings) - rep.Count(maintenance.FindingNoImage); n > 0 {
						return fmt.Errorf("audit found %d problems", n)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when anything other than missing images is found")
	return cmd
}

func rankCmd(flags *globalFlags) *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "rank <day>",
		Short: "Rank a day's stories under the current scoring weights",
		Long: `Recompute engagement scores for a published day and print the stories
ordered by the fresh score. The dataset file is not modified.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				path, err := a.dayPath(args[0])
				if err != nil {
					return err
				}
				ranked, err := maintenance.Rescore(path, a.scorer())
				if err != nil {
					return err
				}
				if top > 0 && top < len(ranked) {
					ranked = ranked[:top]
				}
				tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RANK\tSCORE\tSTORED\tPOS\tTITLE")
				for i, r := range ranked {
					fmt.Fprintf(tw, "%d\t%.4f\t%.4f\t%d\t%s\n", i+1, r.Fresh, r.Stored, r.Position, r.Title)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&top, "top", 0, "Only print the first N stories")
	return cmd
}

func indexCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the sighting index",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Replay every published day into the sighting index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				st, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				if st == nil {
					return errors.New("the files store driver keeps no index to rebuild")
				}
				n, err := maintenance.RebuildIndex(ctx, a.cfg.DatasetDir, st, a.logger)
				if err != nil {
					return err
				}
				total, err := st.CountSightings(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "replayed %d records, %d ids indexed\n", n, total)
				return nil
			})
		},
	})
	return cmd
}

func watchCmd(flags *globalFlags) *cobra.Command {
	var (
		existing   bool
		withImages bool
	)
	cmd := &cobra.Command{
		Use:   "watch <inbox>",
		Short: "Ingest source documents as they land in a directory",
		Long: `Watch a directory and ingest each new source document once it stops
changing. Days that are already published are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				engine, err := a.engine(ctx)
				if err != nil {
					return err
				}
				var coord *enrich.Coordinator
				if withImages {
					if coord, err = a.coordinator(ctx); err != nil {
						return err
					}
				}

				inbox, err := watch.New(args[0], watch.Config{
					Debounce:   a.cfg.Watch.Debounce,
					Extensions: sourceExtensions,
					Existing:   existing,
				}, a.logger)
				if err != nil {
					return err
				}
				if err := inbox.Start(ctx); err != nil {
					return err
				}
				defer inbox.Stop()

				for {
					select {
					case <-ctx.Done():
						return nil
					case path, ok := <-inbox.Events():
						if !ok {
							return nil
						}
						ingestFromInbox(ctx, a, engine, coord, path)
					}
				}
			})
		},
	}
	cmd.Flags().BoolVar(&existing, "existing", false, "Also ingest documents already in the inbox")
	cmd.Flags().BoolVar(&withImages, "enrich", false, "Run the image pass after each published day")
	return cmd
}

// ingestFromInbox publishes one inbox document. Errors are logged, the
// watcher keeps running.
func ingestFromInbox(ctx context.Context, a *app, engine *dailyintel.Engine, coord *enrich.Coordinator, path string) {
	log := a.logger.With("source", filepath.Base(path))
	res, err := engine.Ingest(ctx, dailyintel.IngestRequest{Path: path})
	switch {
	case dailyintel.IsConflict(err):
		log.Info("Day already published, skipping", "error", err)
		return
	case err != nil:
		log.Error("Ingest failed", "error", err)
		return
	}
	printIngest(a, res)
	a.finish("ingest")

	if coord == nil {
		return
	}
	rep, err := coord.Run(ctx, res.Output)
	printEnrich(a, rep)
	if err != nil {
		log.Error("Enrichment interrupted", "error", err)
		return
	}
	a.finish("enrich")
}

func mirrorCmd(flags *globalFlags) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "mirror <day...>",
		Short: "Copy published days and their images to the configured bucket",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				m, err := a.mirror(ctx)
				if err != nil {
					return err
				}
				for _, arg := range args {
					if _, err := a.dayPath(arg); err != nil {
						return err
					}
					day := dayArg(arg)
					rep, err := m.Publish(ctx, day)
					if err != nil {
						return err
					}
					fmt.Fprintf(a.out, "%s: uploaded %d, skipped %d existing\n", rep.Day, len(rep.Uploaded), len(rep.Skipped))
					if !list {
						continue
					}
					objects, err := m.Remote(ctx, day)
					if err != nil {
						return err
					}
					for _, name := range objects {
						fmt.Fprintf(a.out, "  %s\n", name)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "List the day's objects in the bucket after upload")
	return cmd
}
