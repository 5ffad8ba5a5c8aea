// Package scenario finds, generates and persists the structured test
// scenarios of a named test.
package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/qaflow/qaflow/apperr"
	"github.com/qaflow/qaflow/launcher"
	"github.com/qaflow/qaflow/model"
	"github.com/qaflow/qaflow/workspace"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// failureTailBytes is how much pipeline output is kept in a generation error.
const failureTailBytes = 1200

// Resolver owns the scenario sets under output/Testcases.
type Resolver struct {
	logger   zerolog.Logger
	layout   *workspace.Layout
	launcher *launcher.Launcher
	pipeline launcher.Tool

	// Deduplicates concurrent generation for the same test
	group singleflight.Group
}

// NewResolver returns a resolver that generates missing scenario sets by
// running pipeline in plan-only mode.
func NewResolver(logger zerolog.Logger, layout *workspace.Layout, l *launcher.Launcher, pipeline launcher.Tool) *Resolver {
	return &Resolver{
		logger:   logger.With().Str("component", "scenario").Logger(),
		layout:   layout,
		launcher: l,
		pipeline: pipeline,
	}
}

// Resolve returns the existing scenario file for name, trying the canonical
// file, then the name without a trailing _test, then any file containing the
// name.
func (r *Resolver) Resolve(name string) (string, bool) {
	safe := workspace.SanitizeName(name)
	if safe == "" {
		return "", false
	}

	expected := r.layout.ScenarioPath(safe)
	if isFile(expected) {
		return expected, true
	}

	var candidates []string
	if base, ok := strings.CutSuffix(safe, "_test"); ok && base != "" {
		candidates = append(candidates, r.layout.ScenarioPath(base))
	}
	// safe only contains [a-zA-Z0-9._-] so it cannot carry glob syntax
	matches, err := filepath.Glob(filepath.Join(r.layout.ScenariosDir(), "*"+safe+"*test_cases.json"))
	if err == nil {
		candidates = append(candidates, matches...)
	}

	for _, c := range candidates {
		if isFile(c) {
			return c, true
		}
	}
	return "", false
}

// Ensure makes sure a scenario set exists for name, running the pipeline in
// plan-only mode when none does. Concurrent calls for the same name share one
// pipeline process, which keeps running if a caller gives up waiting.
func (r *Resolver) Ensure(ctx context.Context, name, appURL, desc string) error {
	safe := workspace.SanitizeName(name)
	if safe == "" {
		return apperr.New(apperr.CodeInvalidInput, "invalid test name %q", name)
	}
	if _, ok := r.Resolve(safe); ok {
		return nil
	}

	// The process is shared, so it must not die with whichever caller started it
	ch := r.group.DoChan(safe, func() (any, error) {
		return nil, r.generate(context.WithoutCancel(ctx), safe, appURL, desc)
	})
	select {
	case res := <-ch:
		if res.Shared {
			r.logger.Debug().Str("test", safe).Msg("Joined in-flight scenario generation")
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Resolver) generate(ctx context.Context, safe, appURL, desc string) error {
	// Another caller may have finished generating while we waited
	if _, ok := r.Resolve(safe); ok {
		return nil
	}

	argv, err := r.pipeline.Resolve(r.layout.Root())
	if err != nil {
		return err
	}

	r.logger.Info().Str("test", safe).Str("app_url", appURL).Msg("Generating scenarios")
	env := launcher.PipelineEnv(strings.TrimSpace(appURL), safe, strings.TrimSpace(desc), true)
	res, err := r.launcher.Run(ctx, argv, env, nil, nil)
	if err != nil {
		return apperr.Wrap(apperr.CodeGenerationFailed, err, "scenario generation failed")
	}

	found, ok := r.Resolve(safe)
	if !ok {
		msg := fmt.Sprintf("Scenario generation failed (exit %d).", res.ExitCode)
		if tail := outputTail(res.Stderr); tail != "" {
			msg += " stderr: " + tail
		} else if tail := outputTail(res.Stdout); tail != "" {
			msg += " output: " + tail
		}
		return apperr.New(apperr.CodeGenerationFailed, "%s", msg)
	}

	expected := r.layout.ScenarioPath(safe)
	if found != expected {
		if err := workspace.CopyFile(found, expected); err != nil {
			// Non-fatal: the set is still resolvable under its own name
			r.logger.Warn().Err(err).Str("from", found).Msg("Failed to copy scenarios to canonical path")
		}
	}
	r.logger.Info().Str("test", safe).Str("path", found).Msg("Scenarios generated")
	return nil
}

// GetOrCreate returns the scenario set for name. When none exists it is
// generated, which needs both appURL and desc; without them the result is
// NotFound.
func (r *Resolver) GetOrCreate(ctx context.Context, name, appURL, desc string) ([]model.Scenario, error) {
	safe := workspace.SanitizeName(name)
	if safe == "" {
		return nil, apperr.New(apperr.CodeInvalidInput, "invalid test name %q", name)
	}

	path, ok := r.Resolve(safe)
	if !ok {
		if strings.TrimSpace(appURL) == "" || strings.TrimSpace(desc) == "" {
			return nil, apperr.New(apperr.CodeNotFound, "Scenarios not found for this test.")
		}
		if err := r.Ensure(ctx, safe, appURL, desc); err != nil {
			return nil, err
		}
		if path, ok = r.Resolve(safe); !ok {
			return nil, apperr.New(apperr.CodeNotFound, "Scenarios not found for this test.")
		}
	}
	return Load(path)
}

// Save overwrites the scenario set of name with exactly scenarios and returns
// the file written.
func (r *Resolver) Save(name string, scenarios []model.Scenario) (string, error) {
	safe := workspace.SanitizeName(name)
	if safe == "" {
		return "", apperr.New(apperr.CodeInvalidInput, "invalid test name %q", name)
	}
	if scenarios == nil {
		scenarios = []model.Scenario{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(scenarios); err != nil {
		return "", fmt.Errorf("failed to marshal scenarios: %w", err)
	}

	path := r.layout.ScenarioPath(safe)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", apperr.Wrap(apperr.CodeStorageFailure, err, "failed to create scenario directory")
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", apperr.Wrap(apperr.CodeStorageFailure, err, "failed to save scenarios")
	}
	r.logger.Debug().Str("test", safe).Int("count", len(scenarios)).Msg("Saved scenarios")
	return path, nil
}

var arrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

// Load reads a scenario file. Pipeline output is not always clean JSON, so a
// leading "json" tag line, code fences and text around the array are
// tolerated.
func Load(path string) ([]model.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.New(apperr.CodeNotFound, "Scenarios not found for this test.")
		}
		return nil, apperr.Wrap(apperr.CodeStorageFailure, err, "failed to read scenarios")
	}
	return Parse(data)
}

// Parse decodes scenario text with the same tolerance as Load.
func Parse(data []byte) ([]model.Scenario, error) {
	text := strings.TrimSpace(strings.ToValidUTF8(string(data), ""))
	if len(text) >= 4 && strings.EqualFold(text[:4], "json") {
		if _, rest, ok := strings.Cut(text, "\n"); ok {
			text = rest
		} else {
			text = "[]"
		}
	}
	text = strings.Trim(strings.TrimSpace(text), "`")

	var scenarios []model.Scenario
	if err := json.Unmarshal([]byte(text), &scenarios); err == nil {
		return nonNil(scenarios), nil
	}

	m := arrayPattern.FindString(text)
	if m == "" {
		return nil, apperr.New(apperr.CodeInvalidScenarioData, "Invalid scenarios JSON.")
	}
	if err := json.Unmarshal([]byte(m), &scenarios); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidScenarioData, err, "Invalid scenarios JSON.")
	}
	return nonNil(scenarios), nil
}

func nonNil(s []model.Scenario) []model.Scenario {
	if s == nil {
		return []model.Scenario{}
	}
	return s
}

func outputTail(s string) string {
	if len(s) > failureTailBytes {
		s = s[len(s)-failureTailBytes:]
	}
	return strings.TrimSpace(strings.ToValidUTF8(s, ""))
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
