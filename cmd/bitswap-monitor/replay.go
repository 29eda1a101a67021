package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mrd0ll4r/ipfs-tools/internal/disklog"
	"github.com/mrd0ll4r/ipfs-tools/internal/dispatch"
	"github.com/mrd0ll4r/ipfs-tools/internal/geolocation"
	"github.com/mrd0ll4r/ipfs-tools/internal/metrics"
	"github.com/mrd0ll4r/ipfs-tools/internal/monitoring"
)

const replayBatchSize = 1000

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	resolver, db, err := geolocation.Open(cfg.GeoIPDatabasePath, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	gwSet, err := loadGateways(cfg, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	registries := make(map[string]*metrics.Registry)
	for _, path := range args {
		// Disk logs live in a directory named after their monitor.
		monitor := filepath.Base(filepath.Dir(path))
		registry, ok := registries[monitor]
		if !ok {
			registry, err = metrics.NewRegistry(m, monitor)
			if err != nil {
				return err
			}
			registries[monitor] = registry
		}
		n, err := replayFile(path, dispatch.New(resolver, gwSet, registry, logger))
		if err != nil {
			return err
		}
		logger.Info("replayed disk log", zap.String("path", path), zap.Int("events", n))
	}

	return printTotals(cmd, reg)
}

func replayFile(path string, d *dispatch.Dispatcher) (int, error) {
	batch := make([]monitoring.Event, 0, replayBatchSize)
	n := 0
	flush := func() error {
		if err := d.Dispatch(batch, nil); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		n += len(batch)
		batch = batch[:0]
		return nil
	}

	err := disklog.ReadFile(path, func(ev monitoring.Event) error {
		batch = append(batch, ev)
		if len(batch) == replayBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return n, err
	}
	return n, flush()
}

// printTotals writes every non-zero counter of reg as a table.
func printTotals(cmd *cobra.Command, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	var rows []string
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			v := metric.GetCounter().GetValue()
			if v == 0 {
				continue
			}
			labels := make([]string, 0, len(metric.GetLabel()))
			for _, lp := range metric.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%s", lp.GetName(), lp.GetValue()))
			}
			rows = append(rows, fmt.Sprintf("%s\t%s\t%.0f", mf.GetName(), strings.Join(labels, ","), v))
		}
	}
	sort.Strings(rows)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "METRIC\tLABELS\tVALUE")
	for _, r := range rows {
		fmt.Fprintln(w, r)
	}
	return w.Flush()
}
