// Copyright 2023 Stealth Rocket, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/stealthrocket/fixcontinue"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type program struct {
	bundlePath string
	sourcePath string
	objectPath string
	debug      bool
	mi         bool
	cxx        bool
}

func (prog *program) run(ctx context.Context, engine *fixcontinue.Engine) error {
	engine.Debug = prog.debug

	report, err := engine.Fix(ctx, prog.bundlePath, prog.sourcePath, prog.objectPath, prog.cxx)
	if err != nil {
		return fmt.Errorf("fix %s: %w", prog.bundlePath, err)
	}

	if prog.mi {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	totalReplaced := 0
	for _, th := range report.ReplacedFunctions {
		totalReplaced += len(th.Replaced)
	}
	fmt.Printf("replaced %d function(s) across %d active thread(s), redirected %d static(s)\n",
		totalReplaced, len(report.ReplacedFunctions), len(report.Statics))
	for _, th := range report.ReplacedFunctions {
		for _, f := range th.Replaced {
			fmt.Printf("  thread %d: %s: %#x -> %#x\n", th.ThreadID, f.Name, f.OriginalAddr, f.NewAddr)
		}
	}
	return nil
}

var (
	debug bool
	mi    bool
	cxx   bool
)

func init() {
	log.Default().SetOutput(os.Stderr)
	pflag.BoolVar(&debug, "debug", false, "Toggle verbose tracing (no functional effect).")
	pflag.BoolVar(&mi, "mi", false, "Emit the replaced-functions report as machine-readable JSON.")
	pflag.BoolVar(&cxx, "cxx", false, "Treat the bundle as C++ or Objective-C++, enabling the ZeroLink coupling check.")
}

func run(ctx context.Context) error {
	pflag.Parse()

	args := pflag.Args()
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("usage: fixcontinue <bundle-path> <source-path> [<object-path>]: %w", fixcontinue.ErrUsage)
	}

	bundlePath, err := realpath(args[0])
	if err != nil {
		return err
	}
	sourcePath, err := expandTilde(args[1])
	if err != nil {
		return err
	}
	objectPath := ""
	if len(args) == 3 {
		objectPath, err = expandTilde(args[2])
		if err != nil {
			return err
		}
	}

	prog := &program{
		bundlePath: bundlePath,
		sourcePath: sourcePath,
		objectPath: objectPath,
		debug:      debug,
		mi:         mi,
		cxx:        cxx,
	}

	// The engine's collaborators (symbol store, inferior memory, frame
	// unwinder, ...) are owned by the surrounding debugger, out of scope
	// for this repository (spec §1). newEngine wires them from whatever
	// debugger-specific package registers itself; absent one, report that
	// plainly rather than pretending to drive a live inferior.
	engine, err := newEngine()
	if err != nil {
		return err
	}

	return prog.run(ctx, engine)
}

func expandTilde(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding %s: %w", path, err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return fixcontinue.CanonicalizePath(path), nil
}

// realpath tilde-expands and absolutizes path, matching the "realpath of
// the bundle" requirement spec.md §6 places on the fix command surface.
func realpath(path string) (string, error) {
	expanded, err := expandTilde(path)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	return abs, nil
}

// newEngine is a var, not a plain function, so an embedding debugger can
// replace it at init time with one that wires real collaborators (its own
// symbol table, ptrace/mach task memory, frame unwinder, ...). Standalone,
// there is no inferior to drive, so it reports that plainly.
var newEngine = func() (*fixcontinue.Engine, error) {
	return nil, fmt.Errorf("fixcontinue: %w (this binary has no debugger collaborators wired in)", fixcontinue.ErrNoDebugger)
}
