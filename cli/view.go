package cli

// This file contains the report command for displaying run reports.

import (
	"fmt"
	"strconv"

	"github.com/qaflow/qaflow/model"
	"github.com/urfave/cli/v2"
)

// selectTest picks the test a report argument refers to. 0 is the most
// recently run test, -1 the one before it and so on; anything else is a test
// name.
func selectTest(entries []model.IndexEntry, arg string) (string, error) {
	parsed, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return arg, nil
	}
	if parsed > 0 {
		return "", fmt.Errorf("invalid index: %s (use 0 for last, -1 for second-to-last, -2 for third-to-last, etc.)", arg)
	}

	var run []model.IndexEntry
	for _, e := range entries {
		if e.LastRunAt != nil {
			run = append(run, e)
		}
	}
	byLastRun(run)

	index := int(-parsed)
	if index >= len(run) {
		return "", fmt.Errorf("index %s out of range (only %d tests have been run)", arg, len(run))
	}
	return run[index].Name, nil
}

func (a *App) report(ctx *cli.Context) error {
	svc, err := a.newServices(a.cfg)
	if err != nil {
		return err
	}
	defer svc.close(ctx.Context, a)

	if ctx.NArg() == 0 {
		data, err := svc.catalog.GetReport()
		if err != nil {
			return err
		}
		fmt.Printf("Report: %s\n\n", svc.layout.CanonicalReport())
		fmt.Println(string(data))
		return nil
	}

	entries, err := svc.catalog.ListTests()
	if err != nil {
		return fmt.Errorf("failed to list tests: %w", err)
	}
	name, err := selectTest(entries, ctx.Args().First())
	if err != nil {
		return err
	}

	detail, err := svc.catalog.GetTest(name)
	if err != nil {
		return err
	}
	return displayTest(detail)
}

func displayTest(d model.TestDetail) error {
	m := d.Meta

	// Print header
	fmt.Printf("=== Test: %s ===\n", m.Name)
	fmt.Printf("Created: %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if m.LastRunAt != nil {
		fmt.Printf("Last Run: %s\n", m.LastRunAt.Local().Format("2006-01-02 15:04:05"))
	}
	status := "unknown"
	if m.LastStatus != nil {
		status = string(*m.LastStatus)
	}
	fmt.Printf("Status: %s\n", status)
	if m.LastAppURL != nil {
		fmt.Printf("URL: %s\n", *m.LastAppURL)
	}
	fmt.Println()

	if m.LastReportFile == nil || d.ReportText == "" {
		fmt.Println("No report available")
		return nil
	}
	fmt.Printf("Report: %s\n", *m.LastReportFile)
	fmt.Println(d.ReportText)
	return nil
}
