// cmd/scrapemend/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/valpere/ScrapeMend/internal/browser"
	"github.com/valpere/ScrapeMend/internal/collector"
	"github.com/valpere/ScrapeMend/internal/config"
	"github.com/valpere/ScrapeMend/internal/errors"
	"github.com/valpere/ScrapeMend/internal/output"
	"github.com/valpere/ScrapeMend/internal/storage"
	"github.com/valpere/ScrapeMend/internal/utils"
	"github.com/valpere/ScrapeMend/pkg/api"
	"gopkg.in/yaml.v3"
)

// Version information (set by build flags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cli carries the streams and options of one invocation.
type cli struct {
	stdout   io.Writer
	stderr   io.Writer
	verbose  bool
	flags    map[string]string
	args     []string
	errorSvc *errors.Service
}

// valueFlags take an argument.
var valueFlags = map[string]bool{"--type": true, "--output": true, "--format": true}

func parseArgs(args []string) (positional []string, flags map[string]string) {
	flags = make(map[string]string)
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "-") || a == "-" {
			positional = append(positional, a)
			continue
		}
		name, value, hasValue := strings.Cut(a, "=")
		if a == "-v" {
			name = "--verbose"
		}
		if valueFlags[name] && !hasValue && i+1 < len(args) {
			i++
			value = args[i]
		}
		flags[name] = value
	}
	return positional, flags
}

func (c *cli) has(flag string) bool {
	_, ok := c.flags[flag]
	return ok
}

func (c *cli) fail(err error) int {
	fmt.Fprint(c.stderr, c.errorSvc.FormatErrorForCLI(err))
	return c.errorSvc.GetExitCode(err)
}

func (c *cli) logger(cfg *config.Config) (utils.Logger, error) {
	lc := cfg.Log
	if c.verbose {
		lc.Level = "debug"
	}
	if len(lc.OutputPaths) == 0 {
		lc.OutputPaths = []string{"stderr"}
	}
	return utils.NewLoggerWithConfig(lc)
}

func (c *cli) client(ctx context.Context, cfg *config.Config) (*api.Client, error) {
	logger, err := c.logger(cfg)
	if err != nil {
		return nil, utils.WrapError(err, utils.ErrCodeInvalidConfig, "failed to build logger")
	}
	return api.New(ctx, cfg, api.WithLogger(logger))
}

func (c *cli) loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if out, ok := c.flags["--output"]; ok {
		cfg.Output.File = out
		cfg.Output.Format = ""
	}
	if f, ok := c.flags["--format"]; ok {
		cfg.Output.Format = output.Format(f)
	}
	return cfg, nil
}

// runExtract extracts the configured template from a saved HTML file.
func (c *cli) runExtract(ctx context.Context) error {
	if len(c.args) < 2 {
		return usageError("extract <config.yaml> <page.html>")
	}
	cfg, err := c.loadConfig(c.args[0])
	if err != nil {
		return err
	}
	client, err := c.client(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	f, err := os.Open(c.args[1])
	if err != nil {
		return fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()
	page, err := api.ParseHTML(f)
	if err != nil {
		return utils.WrapError(err, utils.ErrCodeValidation, "failed to parse document")
	}

	var data interface{}
	if cfg.Template.Container != "" || c.has("--rows") {
		data, err = client.ExtractRows(ctx, page)
	} else {
		data, err = client.Extract(ctx, page)
	}
	if err != nil {
		return err
	}
	return c.finish(ctx, client, data)
}

// runAnalyze prints the structural analysis of a saved HTML file.
func (c *cli) runAnalyze(ctx context.Context) error {
	if len(c.args) < 1 {
		return usageError("analyze <page.html>")
	}
	cfg := config.Default()
	cfg.Storage = storage.Config{Driver: storage.DriverMemory}
	client, err := c.client(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	f, err := os.Open(c.args[0])
	if err != nil {
		return fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()
	page, err := api.ParseHTML(f)
	if err != nil {
		return utils.WrapError(err, utils.ErrCodeValidation, "failed to parse document")
	}

	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(client.Analyze(page))
}

// runCollect opens url in a browser and collects items until the page stops
// producing new ones. Interrupting the command keeps what was collected.
func (c *cli) runCollect(ctx context.Context) error {
	if len(c.args) < 2 {
		return usageError("collect <config.yaml> <url>")
	}
	if !utils.IsValidURL(c.args[1]) {
		return utils.NewError(utils.ErrCodeInvalidAddress, "not an http(s) URL: "+c.args[1]).Build()
	}
	cfg, err := c.loadConfig(c.args[0])
	if err != nil {
		return err
	}
	client, err := c.client(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	chrome, err := browser.NewChromeClient(cfg.BrowserConfig(), nil)
	if err != nil {
		return err
	}
	defer chrome.Close()
	target, err := utils.NormalizeURL(c.args[1])
	if err != nil {
		return utils.WrapError(err, utils.ErrCodeInvalidAddress, "invalid URL")
	}
	if err := chrome.Navigate(ctx, target); err != nil {
		return err
	}

	summary, err := client.Collect(ctx, chrome, func(ev collector.Event) {
		if c.verbose && ev.Type == collector.EventDelta {
			fmt.Fprintf(c.stderr, "iteration %d: %d new items\n", ev.Iteration, len(ev.NewItems))
		}
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stderr, "Collected %d items in %s (%s)\n", summary.ItemCount, utils.FormatDuration(summary.Duration), summary.Reason)
	return c.finish(ctx, client, summary.Items)
}

// runDeliver sends a previously exported JSON file to the endpoint.
func (c *cli) runDeliver(ctx context.Context) error {
	if len(c.args) < 2 {
		return usageError("deliver <config.yaml> <results.json>")
	}
	cfg, err := c.loadConfig(c.args[0])
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(c.args[1])
	if err != nil {
		return fmt.Errorf("failed to read results: %w", err)
	}
	if !json.Valid(raw) {
		return utils.NewError(utils.ErrCodeValidation, "results file is not valid JSON").Build()
	}
	client, err := c.client(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	return c.deliver(ctx, client, json.RawMessage(raw))
}

func (c *cli) finish(ctx context.Context, client *api.Client, data interface{}) error {
	if err := client.Export(c.stdout, data); err != nil {
		return err
	}
	if file := client.Config().Output.File; file != "" {
		fmt.Fprintf(c.stderr, "Results saved to %s\n", file)
	}
	if c.has("--deliver") {
		return c.deliver(ctx, client, data)
	}
	return nil
}

func (c *cli) deliver(ctx context.Context, client *api.Client, data interface{}) error {
	resp, err := client.Deliver(ctx, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stderr, "Results delivered: %s\n", resp.Message)
	return nil
}

func (c *cli) runValidate() error {
	if len(c.args) < 1 {
		return usageError("validate <config.yaml>")
	}
	cfg, err := config.LoadFromFile(c.args[0])
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	result := cfg.ValidateWithDetails()
	for _, w := range result.Warnings {
		fmt.Fprintf(c.stdout, "⚠ %s\n", w)
	}
	if c.verbose {
		fmt.Fprintf(c.stdout, "Configuration details:\n")
		fmt.Fprintf(c.stdout, "  Template: %s (%d fields)\n", cfg.Template.Name, len(cfg.Template.Fields))
		fmt.Fprintf(c.stdout, "  Storage: %s\n", cfg.Storage.Driver)
		fmt.Fprintf(c.stdout, "  Output format: %s\n", cfg.Output.Format)
	}
	fmt.Fprintf(c.stdout, "✓ Configuration file '%s' is valid\n", c.args[0])
	return nil
}

func (c *cli) runTemplate() error {
	kind := c.flags["--type"]
	if kind == "" {
		kind = "basic"
	}
	tmpl := config.GenerateTemplate(kind)
	data, err := yaml.Marshal(&tmpl)
	if err != nil {
		return fmt.Errorf("failed to marshal template to YAML: %w", err)
	}
	_, err = c.stdout.Write(data)
	return err
}

func usageError(usage string) error {
	return utils.NewError(utils.ErrCodeInvalidConfig, "missing arguments; usage: scrapemend "+usage).Build()
}

// run dispatches one command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	positional, flags := parseArgs(args[1:])
	c := &cli{stdout: stdout, stderr: stderr, flags: flags, args: positional}
	c.verbose = c.has("--verbose")
	c.errorSvc = errors.NewService(errors.DefaultRetryConfig(), errors.DefaultCircuitBreakerConfig()).WithVerbose(c.verbose)

	var err error
	switch args[0] {
	case "extract":
		err = c.runExtract(ctx)
	case "analyze":
		err = c.runAnalyze(ctx)
	case "collect":
		err = c.runCollect(ctx)
	case "deliver":
		err = c.runDeliver(ctx)
	case "validate":
		err = c.runValidate()
	case "template":
		err = c.runTemplate()
	case "version", "--version":
		printVersion(stdout)
	case "help", "--help", "-h":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Error: unknown command '%s'\n", args[0])
		printUsage(stderr)
		return 1
	}
	if err != nil {
		return c.fail(err)
	}
	return 0
}

func main() {
	utils.Version = version
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// printUsage displays help information
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "ScrapeMend - Self-healing structured data extraction")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  scrapemend extract <config.yaml> <page.html>   Extract the template from a saved page")
	fmt.Fprintln(w, "  scrapemend analyze <page.html>                 Describe a page's structure as JSON")
	fmt.Fprintln(w, "  scrapemend collect <config.yaml> <url>         Collect items from an infinite-scroll page")
	fmt.Fprintln(w, "  scrapemend deliver <config.yaml> <results.json> Send exported results to the endpoint")
	fmt.Fprintln(w, "  scrapemend validate <config.yaml>              Validate configuration file")
	fmt.Fprintln(w, "  scrapemend template [--type <type>]            Generate configuration template")
	fmt.Fprintln(w, "  scrapemend version                             Show version information")
	fmt.Fprintln(w, "  scrapemend help                                Show this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fmt.Fprintln(w, "  -v, --verbose          Enable verbose output")
	fmt.Fprintln(w, "  --rows                 Extract one record per template row")
	fmt.Fprintln(w, "  --output <file>        Override the output file")
	fmt.Fprintln(w, "  --format <format>      Override the output format (json, csv, yaml, xlsx)")
	fmt.Fprintln(w, "  --deliver              Send results to the configured endpoint")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Template types:")
	fmt.Fprintln(w, "  basic       Single-page template (default)")
	fmt.Fprintln(w, "  ecommerce   Product page template")
	fmt.Fprintln(w, "  news        News article template")
	fmt.Fprintln(w, "  feed        Infinite-scroll feed template")
}

// printVersion displays version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "ScrapeMend %s\n", version)
	fmt.Fprintf(w, "Build time: %s\n", buildTime)
	fmt.Fprintf(w, "Git commit: %s\n", gitCommit)
}
