package runs

// This file contains the bookkeeping done once a run's process has exited
// and its output is drained.

import (
	"time"

	"github.com/qaflow/qaflow/model"
	"github.com/qaflow/qaflow/report"
)

// finalize records the outcome of run. Every step is best effort: failures
// are logged, and the run is always marked finished with the finished event
// pushed last.
func (c *Coordinator) finalize(run *Run, startedAt time.Time, before report.Baseline, exitCode int, command string, tr *transcript) {
	logger := c.logger.With().Str("run_id", run.ID).Str("test", run.TestName).Logger()
	finishedAt := time.Now()

	var status model.Status
	defer func() {
		c.registry.MarkFinished(run.ID)
		run.Events.Push(model.FinishedEvent())

		c.metrics.active.Dec()
		label := string(status)
		if label == "" {
			label = "unknown"
		}
		c.metrics.finished.WithLabelValues(label).Inc()
		c.metrics.duration.Observe(finishedAt.Sub(startedAt).Seconds())

		logger.Info().
			Int("exit_code", exitCode).
			Str("status", label).
			Dur("duration", finishedAt.Sub(startedAt)).
			Msg("Run finished")
	}()

	// Only a report written by this run counts
	canonical := c.layout.CanonicalReport()
	fresh := before.Written(canonical)
	reportForStatus := ""
	if fresh {
		reportForStatus = canonical
	} else if before.Existed(canonical) {
		logger.Debug().Str("path", canonical).Msg("Ignoring report left over from an earlier run")
	}

	status = c.detector.Detect(before, reportForStatus)

	var artifact string
	if fresh {
		path, err := report.Archive(canonical, c.layout.ReportsDir(), run.TestName, finishedAt, run.ID)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to archive report")
		} else {
			artifact = path
		}
	} else {
		lines, dropped := tr.snapshot()
		path, err := report.WriteTranscript(c.layout.ReportsDir(), run.TestName, finishedAt, run.ID, report.Transcript{
			Command:  command,
			ExitCode: exitCode,
			Lines:    lines,
			Dropped:  dropped,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to write run transcript")
		} else {
			artifact = path
			logger.Info().Str("path", path).Msg("No report produced, wrote transcript")
		}
	}

	rel := ""
	if artifact != "" {
		rel = c.layout.OutputRel(artifact)
	}
	_, err := c.index.Update(run.TestName, func(e *model.IndexEntry) {
		e.RecordRun(finishedAt, status, rel)
	})
	if err != nil {
		// Non-fatal: subscribers still get the finished event
		logger.Warn().Err(err).Msg("Failed to update test index")
	}
}
