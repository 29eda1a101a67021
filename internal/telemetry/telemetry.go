// Package telemetry periodically reports the state of the monitoring client to
// the log, to Prometheus gauges and optionally to a CSV file.
package telemetry

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mrd0ll4r/ipfs-tools/internal/api"
)

// Reporter emits a status report every interval.
type Reporter struct {
	interval   time.Duration
	status     api.StatusFunc
	gauges     *Gauges
	exportPath string
	logger     *zap.Logger

	lastTime   time.Time
	lastEvents map[string]int64
}

// NewReporter creates a reporter. gauges may be nil and an empty exportPath
// disables the CSV export.
func NewReporter(interval time.Duration, status api.StatusFunc, gauges *Gauges, exportPath string, logger *zap.Logger) *Reporter {
	return &Reporter{
		interval:   interval,
		status:     status,
		gauges:     gauges,
		exportPath: exportPath,
		logger:     logger.Named("telemetry"),
		lastEvents: make(map[string]int64),
	}
}

// Start reports in the background until ctx is done.
func (r *Reporter) Start(ctx context.Context) {
	r.lastTime = time.Now()
	go r.runLoop(ctx)
}

func (r *Reporter) runLoop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Report(now)
		}
	}
}

func sourceKey(s api.SourceStatus) string { return s.Monitor + "@" + s.BrokerAddress }

// Report takes one status snapshot and publishes it.
func (r *Reporter) Report(now time.Time) {
	st := r.status()
	if r.gauges != nil {
		r.gauges.Update(st)
	}

	minutes := now.Sub(r.lastTime).Minutes()
	if minutes < 0.1 {
		minutes = 0.1
	}
	rates := make([]float64, len(st.Sources))
	for i, s := range st.Sources {
		key := sourceKey(s)
		rates[i] = float64(s.Events-r.lastEvents[key]) / minutes
		r.lastEvents[key] = s.Events
		r.logger.Info("source status",
			zap.String("monitor", s.Monitor),
			zap.String("amqp_server", s.BrokerAddress),
			zap.Int64("connection_attempts", s.Iterations),
			zap.Int64("events_received", s.Events),
			zap.Float64("events_per_minute", rates[i]))
	}
	r.logger.Info("status", zap.String("uptime", st.Uptime), zap.Int("known_gateways", st.Gateways))
	r.lastTime = now

	if r.exportPath != "" {
		if err := r.export(now, st, rates); err != nil {
			r.logger.Error("unable to export status", zap.String("path", r.exportPath), zap.Error(err))
		}
	}
}

// export appends one CSV row per source.
func (r *Reporter) export(now time.Time, st api.Status, rates []float64) error {
	if err := os.MkdirAll(filepath.Dir(r.exportPath), 0755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	file, err := os.OpenFile(r.exportPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open export file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	for i, s := range st.Sources {
		w.Write([]string{
			now.UTC().Format(time.RFC3339),
			s.Monitor,
			s.BrokerAddress,
			strconv.FormatInt(s.Iterations, 10),
			strconv.FormatInt(s.Events, 10),
			fmt.Sprintf("%.2f", rates[i]),
			strconv.Itoa(st.Gateways),
		})
	}
	w.Flush()
	return w.Error()
}
