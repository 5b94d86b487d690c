package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/DeafMist/city-pulse/internal/config"
	"github.com/DeafMist/city-pulse/internal/logger"
	"github.com/DeafMist/city-pulse/internal/metrics"
	"github.com/DeafMist/city-pulse/internal/pipeline"
)

func main() {
	log := logger.New("crawler")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := rootCommand(log).ExecuteContext(ctx); err != nil {
		log.Error("crawler failed", slog.Any("err", err))
		stop()
		os.Exit(1)
	}
}

func rootCommand(log *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "crawler",
		Short:         "Collect, enrich and index city news and social posts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.AddCommand(newsCommand(log), timelineCommand(log))
	return root
}

func newsCommand(log *slog.Logger) *cobra.Command {
	var keywords []string
	cmd := &cobra.Command{
		Use:   "news",
		Short: "Search news for the configured keywords and index the articles found",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadCrawler()
			if err != nil {
				return err
			}
			if len(keywords) > 0 {
				cfg.Keywords = keywords
			}
			return run(cmd.Context(), cfg, log, modeNews, func(ctx context.Context, r *pipeline.Runner) (*pipeline.Report, error) {
				return r.RunNews(ctx, cfg.Keywords)
			})
		},
	}
	cmd.Flags().StringSliceVar(&keywords, "keywords", nil, "comma separated keywords overriding KEYWORDS")
	return cmd
}

func timelineCommand(log *slog.Logger) *cobra.Command {
	var maxScrolls int
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Scroll the signed-in timeline and index the posts it renders",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadCrawler()
			if err != nil {
				return err
			}
			if maxScrolls > 0 {
				cfg.TimelineMaxScrolls = maxScrolls
			}
			return run(cmd.Context(), cfg, log, modeTimeline, func(ctx context.Context, r *pipeline.Runner) (*pipeline.Report, error) {
				return r.RunTimeline(ctx)
			})
		},
	}
	cmd.Flags().IntVar(&maxScrolls, "max-scrolls", 0, "override TIMELINE_MAX_SCROLLS")
	return cmd
}

func run(ctx context.Context, cfg *config.Crawler, log *slog.Logger, m mode, do func(context.Context, *pipeline.Runner) (*pipeline.Report, error)) error {
	var metricsSrv *metrics.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = metrics.Start(cfg.MetricsAddr, log)
		log.Info("metrics server started", slog.String("addr", cfg.MetricsAddr))
	}
	defer func() {
		if err := metricsSrv.Stop(context.WithoutCancel(ctx)); err != nil {
			log.Error("stop metrics server", slog.Any("err", err))
		}
	}()

	deps, err := newDeps(ctx, cfg, log, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			log.Error("release resources", slog.Any("err", err))
		}
	}()

	runner := pipeline.NewRunner(deps, pipeline.Options{
		NewsIndex:      cfg.NewsIndex,
		PostsIndex:     cfg.PostsIndex,
		BatchSize:      cfg.BatchSize,
		ArticleWorkers: cfg.ArticleWorkers,
	})

	report, err := do(ctx, runner)
	if report != nil {
		log.Info("run finished",
			slog.String("mode", string(m)),
			slog.Int("urls", report.URLs),
			slog.Int("records", report.Records),
			slog.Int("extract_failures", report.ExtractFailures),
			slog.Int("chunks", report.Chunks),
			slog.Int("chunks_failed", report.ChunksFailed),
			slog.Int("unenriched", report.Unenriched),
			slog.Int("indexed", report.Indexed),
			slog.Int("index_failed", report.IndexFailed),
		)
	}
	return err
}
