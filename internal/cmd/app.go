package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/runboard/internal/config"
	"github.com/Iron-Ham/runboard/internal/coordination"
)

// app is the per-invocation state shared by every command.
type app struct {
	cc     *coordination.Context
	out    io.Writer
	json   bool
	styles styles
}

// openApp loads the configuration and wires the coordination context. When
// runID names an existing run, logs go to its debug.log.
func openApp(cmd *cobra.Command, runID string) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	cc, err := coordination.New(coordination.Config{
		Settings: cfg,
		BaseDir:  cwd,
		RunID:    runID,
	})
	if err != nil {
		return nil, err
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()
	return &app{
		cc:     cc,
		out:    out,
		json:   asJSON,
		styles: newStyles(isTerminal(out)),
	}, nil
}

// withApp runs fn with an app that is closed afterwards.
func withApp(cmd *cobra.Command, runID string, fn func(a *app) error) error {
	a, err := openApp(cmd, runID)
	if err != nil {
		return err
	}
	err = fn(a)
	if cerr := a.cc.Close(); err == nil {
		err = cerr
	}
	return err
}

// emit prints v as indented JSON in --json mode and calls text otherwise.
func (a *app) emit(v any, text func(w io.Writer)) error {
	if a.json {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(a.out)
	return nil
}

func (a *app) settings() *config.Config {
	return a.cc.Settings()
}
