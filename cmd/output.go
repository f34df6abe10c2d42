package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"mongoinit/bootstrap"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

// runReport is the machine-readable summary of run and verify
type runReport struct {
	RunID             string `json:"run_id" yaml:"run_id"`
	Database          string `json:"database" yaml:"database"`
	Collection        string `json:"collection,omitempty" yaml:"collection,omitempty"`
	CollectionCreated bool   `json:"collection_created" yaml:"collection_created"`
	User              string `json:"user" yaml:"user"`
	UserAction        string `json:"user_action,omitempty" yaml:"user_action,omitempty"`
	Verified          bool   `json:"verified" yaml:"verified"`
	Duration          string `json:"duration" yaml:"duration"`
	Error             string `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorClass        string `json:"error_class,omitempty" yaml:"error_class,omitempty"`
}

func newRunReport(result *bootstrap.Result, err error) runReport {
	report := runReport{
		RunID:             result.RunID,
		Database:          result.Database,
		Collection:        result.Collection,
		CollectionCreated: result.CollectionCreated,
		User:              result.User,
		UserAction:        string(result.UserAction),
		Verified:          result.Verified,
		Duration:          formatDuration(result.Duration),
	}
	if err != nil {
		report.Error = err.Error()
		report.ErrorClass = string(bootstrap.Classify(err))
	}
	return report
}

// outputAsJSON writes data as indented JSON.
func outputAsJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// outputAsYAML writes data as YAML.
func outputAsYAML(w io.Writer, data interface{}) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(data); err != nil {
		return err
	}
	return encoder.Close()
}

// outputStructured writes data in a machine format; it reports false for text.
func outputStructured(w io.Writer, format string, data interface{}) (bool, error) {
	switch format {
	case formatJSON:
		return true, outputAsJSON(w, data)
	case formatYAML:
		return true, outputAsYAML(w, data)
	default:
		return false, nil
	}
}

// renderRunReport displays a run or verify summary
func renderRunReport(w io.Writer, title string, report runReport) {
	if report.Error != "" {
		errorColor.Fprintf(w, "✗ %s failed (%s)\n", title, strings.ToUpper(report.ErrorClass))
	} else {
		successColor.Fprintf(w, "✓ %s complete\n", title)
	}

	printField(w, "Run ID", report.RunID)
	printField(w, "Database", report.Database)
	if report.Collection != "" {
		printField(w, "Collection", report.Collection+" "+formatCreated(report.CollectionCreated))
	}
	printField(w, "User", report.User+" "+formatUserAction(report.UserAction))
	printField(w, "Verified", formatBool(report.Verified))
	printField(w, "Duration", report.Duration)
	if report.Error != "" {
		printField(w, "Error", errorColor.Sprint(report.Error))
	}
}

// renderPlan displays a dry run
func renderPlan(w io.Writer, plan *bootstrap.Plan) {
	headerColor.Fprintf(w, "Plan for %s.%s (user %s)\n", plan.Database, plan.Collection, plan.User)
	headerColor.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintf(w, "%-20s %-10s %-25s %s\n", "Step", "Action", "Target", "Detail")
	fmt.Fprintln(w, strings.Repeat("-", 72))
	for _, step := range plan.Steps {
		fmt.Fprintf(w, "%-20s %-10s %-25s %s\n", step.Step, formatAction(step.Action), step.Target, step.Detail)
	}
	fmt.Fprintln(w, strings.Repeat("=", 72))
	if err := plan.Err(); err != nil {
		warningColor.Fprintf(w, "Run would fail: %v\n", err)
	}
}

// printField prints a key-value field
func printField(w io.Writer, key, value string) {
	if strings.TrimSpace(value) == "" {
		value = "(not set)"
	}
	fmt.Fprintf(w, "  %-12s %s\n", key+":", value)
}

// formatBool returns a colored boolean string
func formatBool(b bool) string {
	if b {
		return color.New(color.FgGreen).Sprint("Yes")
	}
	return color.New(color.FgRed).Sprint("No")
}

func formatCreated(created bool) string {
	if created {
		return color.New(color.FgGreen).Sprint("(created)")
	}
	return "(exists)"
}

func formatUserAction(action string) string {
	switch bootstrap.UserAction(action) {
	case bootstrap.UserCreated:
		return color.New(color.FgGreen).Sprint("(created)")
	case bootstrap.UserUpdated:
		return color.New(color.FgCyan).Sprint("(updated)")
	case bootstrap.UserUnchanged:
		return "(unchanged)"
	default:
		return ""
	}
}

// formatAction pads before coloring so escape codes do not break column alignment
func formatAction(action bootstrap.PlanAction) string {
	padded := fmt.Sprintf("%-10s", action)
	switch action {
	case bootstrap.ActionCreate:
		return color.New(color.FgGreen).Sprint(padded)
	case bootstrap.ActionUpdate:
		return color.New(color.FgCyan).Sprint(padded)
	case bootstrap.ActionConflict:
		return color.New(color.FgRed).Sprint(padded)
	default:
		return padded
	}
}
