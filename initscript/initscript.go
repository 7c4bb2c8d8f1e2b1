// Package initscript renders the guest's /init: change into the app
// directory, run the build commands, run the app, power off.
package initscript

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"mvdan.cc/sh/v3/syntax"
)

// GuestAppDir is where the uploaded code lives inside the guest.
const GuestAppDir = "/app"

// RunIndex marks the run command in a CommandError.
const RunIndex = -1

// ErrInvalidCommand is wrapped by every CommandError.
var ErrInvalidCommand = errors.New("invalid shell command")

// CommandError names the command that would not survive being placed in
// the script. Index is zero-based into the build commands, or RunIndex.
type CommandError struct {
	Index int
	Err   error
}

func (e *CommandError) Error() string {
	if e.Index == RunIndex {
		return fmt.Sprintf("run command: %v", e.Err)
	}
	return fmt.Sprintf("build command %d: %v", e.Index+1, e.Err)
}

func (e *CommandError) Unwrap() []error { return []error{ErrInvalidCommand, e.Err} }

// Config holds the inputs for the init script.
type Config struct {
	AppDir        string
	BuildCommands []string
	RunCommand    string
}

var scriptTmpl = template.Must(template.New("init").Parse(`#!/bin/bash
cd {{.AppDir}}
{{range .BuildCommands}}{{.}}
{{end}}{{.RunCommand}}
poweroff -f
`))

// Validate checks every command on its own. A command is accepted only if
// a poweroff placed on the next line still parses as its own statement, so
// an open quote, heredoc or trailing backslash cannot swallow the shutdown.
func Validate(build []string, run string) error {
	for i, c := range build {
		if err := checkCommand(c); err != nil {
			return &CommandError{Index: i, Err: err}
		}
	}
	if err := checkCommand(run); err != nil {
		return &CommandError{Index: RunIndex, Err: err}
	}
	return nil
}

// Render validates cfg and returns the script bytes.
func Render(cfg *Config) ([]byte, error) {
	if cfg.AppDir == "" {
		cfg.AppDir = GuestAppDir
	}
	if err := Validate(cfg.BuildCommands, cfg.RunCommand); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := scriptTmpl.Execute(&buf, cfg); err != nil {
		return nil, fmt.Errorf("render init script: %w", err)
	}
	if err := endsWithPoweroff(buf.String()); err != nil {
		return nil, fmt.Errorf("rendered init script: %w", err)
	}
	return buf.Bytes(), nil
}

func checkCommand(c string) error {
	if strings.TrimSpace(c) == "" {
		return nil
	}
	return endsWithPoweroff(c + "\npoweroff -f\n")
}

func endsWithPoweroff(src string) error {
	f, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(strings.NewReader(src), "")
	if err != nil {
		return err
	}
	if len(f.Stmts) == 0 {
		return errors.New("empty script")
	}
	last := f.Stmts[len(f.Stmts)-1]
	call, ok := last.Cmd.(*syntax.CallExpr)
	if !ok || last.Background || len(last.Redirs) > 0 || len(call.Args) != 2 ||
		call.Args[0].Lit() != "poweroff" || call.Args[1].Lit() != "-f" {
		return errors.New("command does not terminate before the final poweroff")
	}
	return nil
}
