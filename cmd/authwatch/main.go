package main

// ---------------------------------------------------------------------------
// main.go: command dispatcher for the authwatch CLI
//
// Command implementations live in cmd_*.go; shared helpers in helpers.go.
// ---------------------------------------------------------------------------

import (
	"fmt"
	"io"
	"os"
	goruntime "runtime"
	"runtime/debug"
)

var (
	version   = "0.3.0"
	commit    = "dev"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(0)
	}

	subcmd := os.Args[1]
	args := os.Args[2:]

	switch subcmd {
	case "--version", "-V", "version":
		printVersion(os.Stdout)
		os.Exit(0)
	case "--help", "-h", "help":
		printUsage(os.Stdout)
		os.Exit(0)
	}

	switch subcmd {
	case "scan":
		cmdScan(args)
	case "explain":
		cmdExplain(args)
	case "serve":
		cmdServe(args)
	default:
		fmt.Fprintf(os.Stderr, red("error: ")+"unknown command %q\n\n", subcmd)
		if s := suggest(subcmd); s != "" {
			fmt.Fprintf(os.Stderr, "       Did you mean %s?\n\n", bold(s))
		}
		printUsage(os.Stderr)
		os.Exit(1)
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "authwatch v%s", version)
	if commit != "dev" {
		fmt.Fprintf(w, " (%s)", commit[:min(7, len(commit))])
	}
	if buildDate != "unknown" {
		fmt.Fprintf(w, " built %s", buildDate)
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fmt.Fprintf(w, " %s", bi.GoVersion)
	}
	fmt.Fprintf(w, " %s/%s\n", goruntime.GOOS, goruntime.GOARCH)
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "%s\n\n", bold("USAGE"))
	fmt.Fprintf(w, "  authwatch <command> [flags]\n\n")
	fmt.Fprintf(w, "%s\n\n", bold("COMMANDS"))
	fmt.Fprintf(w, "  %-10s  %s\n", bold("scan"), "Detect brute force, spraying, country and ASN anomalies in a log batch")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("explain"), "Show the active detection rules and thresholds")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("serve"), "Run the HTTP API accepting batches on POST /scan")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("version"), "Print version and build info")
	fmt.Fprintf(w, "\n%s\n\n", bold("EXAMPLES"))
	fmt.Fprintf(w, "  authwatch scan linux --path /var/log/auth.log --threshold 10 --window 5m\n")
	fmt.Fprintf(w, "  authwatch scan windows --path security.xml --geoip-mmdb GeoLite2-Country.mmdb --deny-country RU\n")
	fmt.Fprintf(w, "  zcat auth.log.2.gz | authwatch scan linux --path - --format json\n")
	fmt.Fprintf(w, "  authwatch serve --config authwatch.yaml\n\n")
	fmt.Fprintf(w, "Run 'authwatch <command> -h' for command flags.\n")
}
