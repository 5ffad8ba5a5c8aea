package cli

// This file contains the tests command for displaying known tests.

import (
	"fmt"
	"sort"

	"github.com/qaflow/qaflow/model"
	"github.com/urfave/cli/v2"
)

// byLastRun sorts entries newest run first; never-run tests go last, by name.
func byLastRun(entries []model.IndexEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].LastRunAt, entries[j].LastRunAt
		switch {
		case a != nil && b != nil:
			if a.Equal(*b) {
				return entries[i].Name < entries[j].Name
			}
			return a.After(*b)
		case a != nil:
			return true
		case b != nil:
			return false
		}
		return entries[i].Name < entries[j].Name
	})
}

func statusIndicator(s *model.Status) string {
	if s == nil {
		return "?"
	}
	switch *s {
	case model.StatusPassed:
		return "✓"
	case model.StatusFailed:
		return "✗"
	}
	return "?"
}

func (a *App) tests(ctx *cli.Context) error {
	limit := ctx.Int("limit")

	svc, err := a.newServices(a.cfg)
	if err != nil {
		return err
	}
	defer svc.close(ctx.Context, a)

	entries, err := svc.catalog.ListTests()
	if err != nil {
		return fmt.Errorf("failed to list tests: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No tests found")
		return nil
	}

	byLastRun(entries)

	// Apply limit
	display := entries
	if limit > 0 && limit < len(display) {
		display = display[:limit]
	}

	fmt.Printf("\n=== Tests (%d total) ===\n\n", len(entries))

	for _, e := range display {
		lastRun := "never run"
		if e.LastRunAt != nil {
			lastRun = e.LastRunAt.Local().Format("2006-01-02 15:04:05")
		}

		fmt.Printf("%s  %s  [%s]\n", statusIndicator(e.LastStatus), e.Name, lastRun)
		if e.LastAppURL != nil {
			fmt.Printf("   URL: %s\n", *e.LastAppURL)
		}
		fmt.Printf("   Code: %s\n", svc.layout.TestCodePath(e.Name))
		if e.LastReportFile != nil {
			fmt.Printf("   Report: %s\n", *e.LastReportFile)
		}
		fmt.Println()
	}

	fmt.Printf("\nView a report: %s report <NAME>\n", AppName)
	fmt.Printf("Run a test:    %s run-spec <NAME>\n", AppName)

	return nil
}
