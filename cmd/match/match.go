package match

import (
	"context"
	"fmt"

	"github.com/endorses/fpengine/internal/pkg/cmdutil"
	"github.com/endorses/fpengine/internal/pkg/engine"
	"github.com/endorses/fpengine/internal/pkg/graph"
	"github.com/endorses/fpengine/internal/pkg/logger"
	"github.com/endorses/fpengine/internal/pkg/metrics"
	"github.com/endorses/fpengine/internal/pkg/packet"
	"github.com/endorses/fpengine/internal/pkg/pcapwriter"
	"github.com/endorses/fpengine/internal/pkg/reload"
	"github.com/endorses/fpengine/internal/pkg/signals"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var MatchCmd = &cobra.Command{
	Use:   "match [capture...]",
	Short: "Run fingerprints over packet captures",
	Long: `Run the loaded fingerprints over one or more pcap or pcapng captures.
Use "-" or no argument to read a capture from stdin.

Every match is attributed to the packet's source, destination or connection
and merged into a host graph, printed as a summary (text) or streamed as
one JSON record per line (json).`,
	Args: cobra.ArbitraryArgs,
	RunE: runMatch,
}

var (
	fingerprintPaths []string
	lookupPaths      []string
	writeMatched     string
)

func init() {
	MatchCmd.Flags().StringSliceVarP(&fingerprintPaths, "fingerprints", "f", nil, "fingerprint files or directories (default from config: fingerprints.paths)")
	MatchCmd.Flags().StringSliceVar(&lookupPaths, "lookup", nil, "lookup table files (YAML)")
	MatchCmd.Flags().IntP("workers", "w", 0, "number of matching workers (default: number of CPUs)")
	MatchCmd.Flags().StringP("output", "o", "text", "output format: text or json")
	MatchCmd.Flags().Bool("watch", false, "reload fingerprints when their files change or on SIGHUP")
	MatchCmd.Flags().Int("regex-timeout", 0, "regex match timeout in milliseconds (0 = default)")
	MatchCmd.Flags().StringVar(&writeMatched, "write-matched", "", "write packets that produced a record to this pcap file")
	MatchCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")

	_ = viper.BindPFlag(cmdutil.KeyWorkers, MatchCmd.Flags().Lookup("workers"))
	_ = viper.BindPFlag(cmdutil.KeyOutputFormat, MatchCmd.Flags().Lookup("output"))
	_ = viper.BindPFlag(cmdutil.KeyFingerprintWatch, MatchCmd.Flags().Lookup("watch"))
	_ = viper.BindPFlag(cmdutil.KeyRegexTimeoutMS, MatchCmd.Flags().Lookup("regex-timeout"))
	_ = viper.BindPFlag(cmdutil.KeyMetricsAddr, MatchCmd.Flags().Lookup("metrics-addr"))
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	cleanup := signals.SetupHandler(ctx, cancel)
	defer cleanup()

	paths := cmdutil.GetStringSliceConfig(cmdutil.KeyFingerprintPaths, fingerprintPaths)
	defs, _, err := cmdutil.LoadFingerprints(paths)
	if err != nil {
		return err
	}
	lookups, err := cmdutil.NewLookups(cmdutil.GetStringSliceConfig(cmdutil.KeyLookupPaths, lookupPaths))
	if err != nil {
		return fmt.Errorf("failed to load lookup tables: %w", err)
	}
	eng := engine.New(defs, lookups)

	readers, err := openCaptures(args)
	if err != nil {
		return err
	}
	defer func() {
		for _, r := range readers {
			if err := r.Close(); err != nil {
				logger.Warn("Error closing capture", "source", r.Name(), "error", err)
			}
		}
	}()

	runID := uuid.NewString()
	g := graph.New()
	sink := graph.Tee{g}

	var jw *graph.JSONWriter
	format := viper.GetString(cmdutil.KeyOutputFormat)
	switch format {
	case "json":
		jw = graph.NewJSONWriter(cmd.OutOrStdout(), runID)
		sink = append(sink, jw)
	case "text":
	default:
		return fmt.Errorf("unknown output format %q (expected text or json)", format)
	}

	if addr := viper.GetString(cmdutil.KeyMetricsAddr); addr != "" {
		exporter := metrics.NewExporter(addr, eng, g)
		if err := exporter.Enable(); err != nil {
			return err
		}
		defer func() { _ = exporter.Disable() }()
		sink = append(sink, exporter)
	}

	pipeline := &Pipeline{
		Engine:  eng,
		Sink:    sink,
		Workers: viper.GetInt(cmdutil.KeyWorkers),
	}

	if writeMatched != "" {
		cfg := pcapwriter.DefaultConfig()
		cfg.FilePath = writeMatched
		cfg.LinkType = readers[0].LinkType()
		w, err := pcapwriter.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create matched packet writer: %w", err)
		}
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("Error closing matched packet writer", "file", writeMatched, "error", err)
			}
			count, _, dropped := w.Stats()
			logger.Info("Matched packets written", "file", w.FilePath(), "packets", count, "dropped", dropped)
		}()
		pipeline.Matched = w
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	watchDone := make(chan struct{})
	if viper.GetBool(cmdutil.KeyFingerprintWatch) {
		w, err := reload.New(reload.Config{Paths: paths, Options: cmdutil.LoadOptions(), Signals: true}, eng)
		if err != nil {
			stopWatch()
			return fmt.Errorf("failed to watch fingerprints: %w", err)
		}
		go func() {
			defer close(watchDone)
			_ = w.Run(watchCtx)
		}()
	} else {
		close(watchDone)
	}

	logger.Info("Starting match run",
		"run_id", runID,
		"fingerprints", len(defs),
		"captures", len(readers),
		"workers", pipeline.Workers)

	err = pipeline.Run(ctx, readers)
	stopWatch()
	<-watchDone
	if err != nil {
		return fmt.Errorf("match run failed: %w", err)
	}

	st := eng.Stats()
	logger.Info("Match run complete",
		"run_id", runID,
		"packets", pipeline.Read(),
		"matched_packets", pipeline.MatchedPackets(),
		"records", st.Records,
		"failures", st.Failures)

	if jw != nil {
		return jw.Err()
	}
	return graph.WriteSummary(cmd.OutOrStdout(), g, st)
}

// openCaptures opens every named capture, stdin when none is given
func openCaptures(names []string) ([]*packet.Reader, error) {
	if len(names) == 0 {
		names = []string{packet.StdinPath}
	}

	readers := make([]*packet.Reader, 0, len(names))
	for _, name := range names {
		r, err := packet.Open(name)
		if err != nil {
			for _, open := range readers {
				_ = open.Close()
			}
			return nil, fmt.Errorf("failed to open capture %s: %w", name, err)
		}
		if len(readers) > 0 && r.LinkType() != readers[0].LinkType() {
			logger.Warn("Capture link types differ", "source", r.Name(), "link_type", r.LinkType().String())
		}
		readers = append(readers, r)
	}
	return readers, nil
}
