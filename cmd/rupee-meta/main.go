// Package main is the entry point for rupee-meta, the metadata export/import tool.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rupee/rupee/internal/config"
	"github.com/rupee/rupee/internal/serialization"
)

const usage = "Usage: rupee-meta <export|import> [flags]"

// resolveDBPath reads the SQLite path from the config file.
func resolveDBPath(configPath string) (string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	if cfg.Meta.Type != "sqlite" {
		return "", fmt.Errorf("meta.type is %q; export and import need the sqlite backend", cfg.Meta.Type)
	}
	return cfg.Meta.SQLite.Path, nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	switch command := os.Args[1]; command {
	case "export":
		os.Exit(runExport(os.Args[2:], os.Stdout, os.Stderr))
	case "import":
		os.Exit(runImport(os.Args[2:], os.Stdin, os.Stderr))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n%s\n", command, usage)
		os.Exit(1)
	}
}

func dbFromFlags(configPath, dbPath string, stderr io.Writer) (string, bool) {
	if dbPath != "" {
		return dbPath, true
	}
	db, err := resolveDBPath(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading config: %v\n", err)
		return "", false
	}
	return db, true
}

func runExport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "rupee.yaml", "Config file path")
	dbPath := fs.String("db", "", "SQLite database path (overrides config)")
	output := fs.String("output", "-", "Output file path (- for stdout)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	db, ok := dbFromFlags(*configPath, *dbPath, stderr)
	if !ok {
		return 1
	}

	result, err := serialization.ExportMetadata(db)
	if err != nil {
		fmt.Fprintf(stderr, "Error exporting: %v\n", err)
		return 1
	}

	if *output == "-" {
		fmt.Fprintln(stdout, result)
		return 0
	}
	if err := os.WriteFile(*output, []byte(result+"\n"), 0o644); err != nil {
		fmt.Fprintf(stderr, "Error writing output: %v\n", err)
		return 1
	}
	fmt.Fprintf(stderr, "Exported to %s\n", *output)
	return 0
}

func runImport(args []string, stdin io.Reader, stderr io.Writer) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "rupee.yaml", "Config file path")
	dbPath := fs.String("db", "", "SQLite database path (overrides config)")
	input := fs.String("input", "-", "Input file path (- for stdin)")
	replace := fs.Bool("replace", false, "Replace mode (DELETE then INSERT)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	db, ok := dbFromFlags(*configPath, *dbPath, stderr)
	if !ok {
		return 1
	}

	var (
		jsonData []byte
		err      error
	)
	if *input == "-" {
		jsonData, err = io.ReadAll(stdin)
	} else {
		jsonData, err = os.ReadFile(*input)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error reading input: %v\n", err)
		return 1
	}

	result, err := serialization.ImportMetadata(db, string(jsonData), &serialization.ImportOptions{Replace: *replace})
	if err != nil {
		fmt.Fprintf(stderr, "Error importing: %v\n", err)
		return 1
	}

	msg := fmt.Sprintf("  %s: %d imported", serialization.Table, result.Imported)
	if result.Skipped > 0 {
		msg += fmt.Sprintf(", %d skipped", result.Skipped)
	}
	fmt.Fprintln(stderr, msg)
	for _, w := range result.Warnings {
		fmt.Fprintf(stderr, "  WARNING: %s\n", w)
	}
	return 0
}
