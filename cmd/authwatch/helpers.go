package main

// ---------------------------------------------------------------------------
// helpers.go: color, error helpers, list flags, config loading
// ---------------------------------------------------------------------------

import (
	"fmt"
	"os"
	"strings"

	"authwatch/internal/config"
)

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func colorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	return isTTY(os.Stderr)
}

func ansi(code, s string) string {
	if !colorEnabled() {
		return s
	}
	return code + s + "\033[0m"
}

func red(s string) string    { return ansi("\033[91m", s) }
func yellow(s string) string { return ansi("\033[93m", s) }
func bold(s string) string   { return ansi("\033[1m", s) }

func errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, red("error: ")+format+"\n", args...)
	os.Exit(1)
}

func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, yellow("warn: ")+format+"\n", args...)
}

// listFlag collects a repeatable flag; each value may also hold a
// comma-separated list.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

// loadConfig reads path, or AUTHWATCH_CONFIG when path is empty, falling back
// to the built-in defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		path = os.Getenv("AUTHWATCH_CONFIG")
	}
	if path == "" {
		return config.DefaultConfig(), "", nil
	}
	path = config.ResolvePath(path)
	cfg, err := config.Load(path)
	return cfg, path, err
}

func suggest(input string) string {
	cmds := []string{"scan", "explain", "serve", "version", "help"}
	input = strings.ToLower(input)
	for _, c := range cmds {
		if strings.HasPrefix(c, input) || strings.HasPrefix(input, c) {
			return c
		}
	}
	for _, c := range cmds {
		if len(c) != len(input) {
			continue
		}
		diff := 0
		for i := range c {
			if c[i] != input[i] {
				diff++
			}
		}
		if diff <= 1 {
			return c
		}
	}
	return ""
}
