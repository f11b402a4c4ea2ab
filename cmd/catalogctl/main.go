// Command catalogctl validates catalog import files offline using the same rules as the import endpoint.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/hanko-field/orderops/internal/services"
)

const usage = `usage: catalogctl validate [-delimiter ,] [-max-rows 1000] <file>`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] != "validate" {
		fmt.Fprintln(stderr, usage)
		return 2
	}

	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	delimiter := fs.String("delimiter", ",", "field delimiter: comma, semicolon, tab, pipe or a single character")
	maxRows := fs.Int("max-rows", 1000, "maximum number of data rows")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, usage)
		return 2
	}

	comma, err := parseDelimiter(*delimiter)
	if err != nil {
		fmt.Fprintf(stderr, "catalogctl: %v\n", err)
		return 2
	}

	file, err := os.Open(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "catalogctl: %v\n", err)
		return 1
	}
	defer file.Close()

	report, err := validateFile(file, comma, *maxRows)
	if err != nil {
		fmt.Fprintf(stderr, "catalogctl: %v\n", err)
		return 1
	}
	if err := report.render(stdout); err != nil {
		fmt.Fprintf(stderr, "catalogctl: %v\n", err)
		return 1
	}
	if len(report.violations) > 0 {
		return 1
	}
	return 0
}

type validationReport struct {
	total      int
	valid      int
	duplicates int
	violations []services.Violation
}

func validateFile(source io.Reader, delimiter rune, maxRows int) (validationReport, error) {
	rows, err := services.ParseImportRows(source, delimiter, maxRows)
	if err != nil {
		return validationReport{}, err
	}
	valid, violations := services.ValidateImportRows(rows)
	report := validationReport{total: len(rows), violations: violations}

	seen := make(map[string]struct{}, len(valid))
	for _, row := range valid {
		sku := strings.TrimSpace(row.Values[services.FieldSKU])
		if _, dup := seen[sku]; dup {
			report.duplicates++
			continue
		}
		seen[sku] = struct{}{}
		report.valid++
	}
	return report, nil
}

func (r validationReport) render(w io.Writer) error {
	fmt.Fprintf(w, "rows: %d  valid: %d  duplicates: %d  violations: %d\n", r.total, r.valid, r.duplicates, len(r.violations))
	if len(r.violations) == 0 {
		return nil
	}
	table := tablewriter.NewWriter(w)
	table.Header("Row", "Field", "Value", "Error")
	for _, v := range r.violations {
		if err := table.Append(strconv.Itoa(v.Row), v.Field, v.Value, v.Error); err != nil {
			return err
		}
	}
	return table.Render()
}

func parseDelimiter(raw string) (rune, error) {
	if raw == "\t" {
		return '\t', nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "comma", ",":
		return ',', nil
	case "semicolon", ";":
		return ';', nil
	case "tab", `\t`:
		return '\t', nil
	case "pipe", "|":
		return '|', nil
	}
	runes := []rune(raw)
	if len(runes) != 1 {
		return 0, errors.New("delimiter must be a single character")
	}
	return runes[0], nil
}
