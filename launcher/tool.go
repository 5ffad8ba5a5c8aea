package launcher

// This file contains discovery of the external executables qaflow drives.

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/qaflow/qaflow/apperr"
)

// Tool describes how to find an external executable: an explicit command
// wins, then a locally-installed binary under the project root, then a
// binary on PATH.
type Tool struct {
	// Human readable name used in errors
	Name string
	// Explicit command line from configuration
	Command []string
	// Project-relative path of a locally-installed binary
	Local string
	// Arguments appended after a discovered local binary
	LocalArgs []string
	// Executable looked up on PATH when no local binary exists
	Global string
	// Arguments appended after the global executable
	GlobalArgs []string
	// Hint shown when nothing can be found
	InstallHint string
}

// PipelineTool is the agent pipeline: a project virtualenv's crewai, else
// crewai on PATH.
func PipelineTool(command []string) Tool {
	return Tool{
		Name:        "CrewAI CLI",
		Command:     command,
		Local:       filepath.Join(".venv", binDir(), exeName("crewai")),
		LocalArgs:   []string{"run"},
		Global:      "crewai",
		GlobalArgs:  []string{"run"},
		InstallHint: "install it in the project environment (e.g. `pip install crewai`)",
	}
}

// PlaywrightTool is the browser test runner: the project's node_modules
// binary, else npx.
func PlaywrightTool(command []string) Tool {
	return Tool{
		Name:        "Playwright CLI",
		Command:     command,
		Local:       filepath.Join("node_modules", ".bin", cmdName("playwright")),
		Global:      "npx",
		GlobalArgs:  []string{"playwright"},
		InstallHint: "run 'npm install' and 'npx playwright install'",
	}
}

// Resolve returns the command line prefix for the tool. It fails with
// ToolUnavailable when nothing can be found; nothing is spawned.
func (t Tool) Resolve(root string) ([]string, error) {
	if len(t.Command) > 0 {
		path, err := exec.LookPath(t.Command[0])
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeToolUnavailable, err, "%s not found (configured command %q)", t.Name, t.Command[0])
		}
		return append([]string{path}, t.Command[1:]...), nil
	}

	if t.Local != "" {
		local := filepath.Join(root, t.Local)
		if info, err := os.Stat(local); err == nil && !info.IsDir() {
			return append([]string{local}, t.LocalArgs...), nil
		}
	}

	if t.Global != "" {
		if path, err := exec.LookPath(t.Global); err == nil {
			return append([]string{path}, t.GlobalArgs...), nil
		}
	}

	return nil, apperr.New(apperr.CodeToolUnavailable, "%s not found: %s", t.Name, t.InstallHint)
}

func binDir() string {
	if runtime.GOOS == "windows" {
		return "Scripts"
	}
	return "bin"
}

func exeName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

func cmdName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".cmd"
	}
	return name
}
