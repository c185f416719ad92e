// Command vitrine gates untrusted UI artifacts: it scans a catalog
// directory, validates every artifact, emits the manifest the browsing host
// consumes, and can serve the catalog over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/vitrine-app/vitrine/pkg/catalog"
	"github.com/vitrine-app/vitrine/pkg/config"
	"github.com/vitrine-app/vitrine/pkg/history"
	"github.com/vitrine-app/vitrine/pkg/loader"
	"github.com/vitrine-app/vitrine/pkg/policy"
	"github.com/vitrine-app/vitrine/pkg/validate"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	config.InitLogger(cfg.LogFormat, cfg.LogLevel)

	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "scan":
		return runScanCmd(cfg, args[2:], stdout, stderr)
	case "validate":
		return runValidateCmd(cfg, args[2:], stdout, stderr)
	case "serve":
		return runServeCmd(cfg, args[2:], stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[1])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: vitrine <scan|validate|serve> [flags]")
	fmt.Fprintln(w, "  scan      discover and validate the artifacts directory, write the manifest")
	fmt.Fprintln(w, "  validate  validate a single artifact source file")
	fmt.Fprintln(w, "  serve     serve the catalog and verdicts over HTTP")
}

// newValidator builds the validator from the configured policy file, or
// the built-in policy when none is set.
func newValidator(policyPath string) (*validate.Validator, error) {
	if policyPath == "" {
		return validate.New(), nil
	}
	p, err := policy.Load(policyPath)
	if err != nil {
		return nil, err
	}
	return validate.FromPolicy(p)
}

func newLoader(cfg *config.Config, dir, policyPath, historyDB string, extra ...loader.Option) (*loader.Loader, func(), error) {
	validator, err := newValidator(policyPath)
	if err != nil {
		return nil, nil, err
	}

	opts := extra
	cleanup := func() {}
	if historyDB != "" {
		store, err := history.Open(historyDB)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, loader.WithRecorder(store))
		cleanup = func() { _ = store.Close() }
	}

	cat := catalog.NewFS(dir)
	return loader.New(cat, validator, opts...), cleanup, nil
}

func runScanCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("dir", cfg.ArtifactsDir, "artifacts directory")
	policyPath := fs.String("policy", cfg.PolicyPath, "policy file (yaml or json)")
	manifest := fs.String("manifest", cfg.ManifestPath, "manifest output path")
	historyDB := fs.String("history", cfg.HistoryDB, "verdict history sqlite path")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ld, cleanup, err := newLoader(cfg, *dir, *policyPath, *historyDB)
	if err != nil {
		fmt.Fprintf(stderr, "scan: %v\n", err)
		return 1
	}
	defer cleanup()

	ctx := context.Background()
	if err := ld.Refresh(ctx); err != nil {
		fmt.Fprintf(stderr, "scan: %v\n", err)
		return 1
	}

	arts := ld.List()
	invalid := 0
	var sources []string
	for _, a := range arts {
		sources = append(sources, a.Source)
		status := "ok"
		if !a.Validation.IsValid {
			status = "rejected"
			invalid++
		}
		fmt.Fprintf(stdout, "%-30s %s\n", a.ID, status)
		for _, issue := range a.Validation.SecurityIssues {
			fmt.Fprintf(stdout, "    [security] %s\n", issue.Message)
		}
		for _, issue := range a.Validation.Errors {
			fmt.Fprintf(stdout, "    [error]    %s\n", issue.Message)
		}
		for _, issue := range a.Validation.Warnings {
			fmt.Fprintf(stdout, "    [warning]  %s\n", issue.Message)
		}
	}

	if deps := catalog.RequiredPackages(sources); len(deps) > 0 {
		fmt.Fprintf(stdout, "external packages: %v\n", deps)
	}

	if err := catalog.WriteManifest(*manifest, arts); err != nil {
		fmt.Fprintf(stderr, "scan: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%d artifacts, %d rejected, manifest written to %s\n", len(arts), invalid, *manifest)

	if invalid > 0 {
		return 1
	}
	return 0
}

func runValidateCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	policyPath := fs.String("policy", cfg.PolicyPath, "policy file (yaml or json)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: vitrine validate [flags] <file>")
		return 2
	}

	validator, err := newValidator(*policyPath)
	if err != nil {
		fmt.Fprintf(stderr, "validate: %v\n", err)
		return 1
	}

	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "validate: %v\n", err)
		return 1
	}

	result := validator.Validate(string(data), path)
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(stderr, "validate: %v\n", err)
		return 1
	}
	if !result.IsValid {
		return 1
	}
	return 0
}
