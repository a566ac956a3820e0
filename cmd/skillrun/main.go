package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ormasoftchile/skillrun/pkg/catalog"
	"github.com/ormasoftchile/skillrun/pkg/logger"
	"github.com/ormasoftchile/skillrun/pkg/memory"
	"github.com/ormasoftchile/skillrun/pkg/remedy"
	"github.com/ormasoftchile/skillrun/pkg/runtime"
	"github.com/ormasoftchile/skillrun/pkg/schema"
	"github.com/ormasoftchile/skillrun/pkg/template"
	"github.com/ormasoftchile/skillrun/pkg/tools"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "skillrun",
	Short: "Declarative skill execution engine",
	Long:  "skillrun — run declarative multi-step skills with templated args, condition gating, and auto-heal retries.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.SetLevel(logLevel); err != nil {
			return err
		}
		return initConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.skillrun/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	runCmd.Flags().StringArrayVarP(&runInputs, "input", "i", nil, "skill input as key=value (repeatable)")
	runCmd.Flags().StringVar(&runInputsJSON, "inputs-json", "", "skill inputs as a JSON object")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full result as JSON")
	runCmd.Flags().StringArrayVar(&runConfigSet, "set", nil, "config override as key=value (repeatable)")

	memoryCmd.Flags().IntVarP(&memoryLimit, "limit", "n", 20, "number of entries to show")

	rootCmd.AddCommand(runCmd, validateCmd, listCmd, schemaCmd, memoryCmd, versionCmd)
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.skillrun")
		}
	}
	viper.SetEnvPrefix("SKILLRUN")
	viper.AutomaticEnv()

	viper.SetDefault("skills_dir", "./skills")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			return nil // config is optional
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// toolDefinition is one exec-backed tool from the config file.
type toolDefinition struct {
	Name string   `mapstructure:"name"`
	Argv []string `mapstructure:"argv"`
}

// buildEngine assembles the engine from the loaded configuration.
func buildEngine(ctx context.Context) (*runtime.Engine, error) {
	resolver := template.NewResolver()
	registerLinkFilters(resolver)

	reg := tools.NewMemoryRegistry()
	var defs []toolDefinition
	if err := viper.UnmarshalKey("tools", &defs); err != nil {
		return nil, fmt.Errorf("parse tool definitions: %w", err)
	}
	executor := tools.RealExecutor{}
	for _, d := range defs {
		if err := reg.Register(d.Name, tools.NewExecTool(d.Name, d.Argv, executor, resolver)); err != nil {
			return nil, err
		}
	}

	var sink memory.Sink = memory.NopSink{}
	dbPath, err := memory.DefaultDBPath()
	if err == nil {
		if s, err := memory.OpenSQLite(ctx, dbPath); err == nil {
			sink = s
		} else {
			logger.G(ctx).WithError(err).Warn("failure memory unavailable, logging disabled")
		}
	}

	logins := make(map[string][]string)
	for cluster, argv := range viper.GetStringMapStringSlice("remediation.logins") {
		logins[cluster] = argv
	}
	var rem remedy.Provider = remedy.NopProvider{}
	if len(logins) > 0 || len(viper.GetStringSlice("remediation.vpn")) > 0 {
		rem = &remedy.CLIRemediator{
			Exec:      executor,
			LoginArgv: logins,
			VPNArgv:   viper.GetStringSlice("remediation.vpn"),
		}
	}

	cat, err := catalog.NewDirCatalog(viper.GetString("skills_dir"))
	if err != nil {
		return nil, err
	}

	e := runtime.NewEngine(reg)
	e.Resolver = resolver
	e.Catalog = cat
	e.Remedy = rem
	e.Sink = sink
	if cfg := viper.GetStringMap("config"); cfg != nil {
		e.Config = cfg
	}
	e.MaxAttempts = viper.GetInt("max_attempts")
	return e, nil
}

// registerLinkFilters adds URL-building filters so skills can render
// "{{ inputs.issue_key | issue_link }}" style values.
func registerLinkFilters(r *template.Resolver) {
	if jira := viper.GetString("config.jira_url"); jira != "" {
		r.RegisterFilter("issue_link", func(v any) any {
			return strings.TrimSuffix(jira, "/") + "/browse/" + template.Stringify(v)
		})
	}
	if gitlab := viper.GetString("config.gitlab_url"); gitlab != "" {
		r.RegisterFilter("mr_link", func(v any) any {
			return strings.TrimSuffix(gitlab, "/") + "/-/merge_requests/" + template.Stringify(v)
		})
	}
}

// --- run ---

var (
	runInputs     []string
	runInputsJSON string
	runJSON       bool
	runConfigSet  []string
)

var runCmd = &cobra.Command{
	Use:   "run [skill]",
	Short: "Run a skill from the catalog",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	engine, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	for _, kv := range runConfigSet {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid --set %q: expected key=value", kv)
		}
		engine.Config[key] = value
	}
	if closer, ok := engine.Sink.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	inputs, err := parseInputs()
	if err != nil {
		return err
	}

	def, err := engine.Catalog.LoadSkill(args[0])
	if err != nil {
		return err
	}

	result, execErr := engine.Execute(ctx, def, inputs)

	if runJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		printSummary(result)
	}

	if execErr != nil {
		return execErr
	}
	if result.Status == runtime.SkillAborted {
		return fmt.Errorf("skill %s aborted", def.Name)
	}
	return nil
}

func parseInputs() (map[string]any, error) {
	inputs := make(map[string]any)
	if runInputsJSON != "" {
		if err := json.Unmarshal([]byte(runInputsJSON), &inputs); err != nil {
			return nil, fmt.Errorf("parse --inputs-json: %w", err)
		}
	}
	for _, kv := range runInputs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --input %q: expected key=value", kv)
		}
		inputs[key] = value
	}
	return inputs, nil
}

var (
	styleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleHeading = lipgloss.NewStyle().Bold(true)
)

func printSummary(result *runtime.SkillResult) {
	status := string(result.Status)
	switch result.Status {
	case runtime.SkillCompleted:
		status = styleOK.Render(status)
	case runtime.SkillAborted:
		status = styleWarn.Render(status)
	}
	fmt.Printf("%s %s\n", styleHeading.Render(result.Skill), status)

	for _, sr := range result.StepResults {
		var line string
		switch sr.Status {
		case runtime.StepOK:
			line = styleOK.Render("✓") + " " + sr.Name
		case runtime.StepHealed:
			line = styleWarn.Render("✓") + " " + sr.Name +
				styleMuted.Render(fmt.Sprintf(" (healed after %d retry)", sr.Retries))
		case runtime.StepSkipped:
			line = styleMuted.Render("- " + sr.Name + " (skipped)")
		case runtime.StepFailed:
			line = styleError.Render("✗") + " " + sr.Name + ": " + sr.ErrorText
			if sr.Retries > 0 {
				line += styleMuted.Render(fmt.Sprintf(" (%d retries)", sr.Retries))
			}
		}
		fmt.Println("  " + line)
	}

	if len(result.Outputs) > 0 {
		fmt.Println(styleHeading.Render("outputs:"))
		for name, value := range result.Outputs {
			fmt.Printf("  %s: %s\n", name, template.Stringify(value))
		}
	}
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [skill.yaml]",
	Short: "Validate a skill YAML file against the schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	def, errs := schema.ValidateFile(args[0])

	var fatal int
	for _, e := range errs {
		if e.Severity == "warning" {
			fmt.Fprintf(os.Stderr, "  ⚠ [%s] %s\n", e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(os.Stderr, "    at: %s\n", e.Path)
			}
			continue
		}
		fatal++
		fmt.Fprintf(os.Stderr, "  %d. [%s] %s\n", fatal, e.Phase, e.Message)
		if e.Path != "" {
			fmt.Fprintf(os.Stderr, "     at: %s\n", e.Path)
		}
	}
	if fatal > 0 {
		return fmt.Errorf("validation failed with %d error(s)", fatal)
	}
	fmt.Printf("✓ %s is valid (%d steps)\n", def.Name, len(def.Steps))
	return nil
}

// --- list ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the skills in the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.NewDirCatalog(viper.GetString("skills_dir"))
		if err != nil {
			return err
		}
		names, err := cat.List()
		if err != nil {
			return err
		}
		for _, name := range names {
			if def, err := cat.LoadSkill(name); err == nil && def.Description != "" {
				fmt.Printf("%s  %s\n", name, styleMuted.Render(def.Description))
			} else {
				fmt.Println(name)
			}
		}
		return nil
	},
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Export the skill JSON Schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := schema.GenerateJSONSchema()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

// --- memory ---

var memoryLimit int

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Show recent tool failures from the memory sink",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dbPath, err := memory.DefaultDBPath()
		if err != nil {
			return err
		}
		sink, err := memory.OpenSQLite(ctx, dbPath)
		if err != nil {
			return err
		}
		defer sink.Close()

		entries, err := sink.Recent(ctx, memoryLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no recorded failures")
			return nil
		}
		for _, e := range entries {
			marker := styleError.Render("✗")
			if e.AutoFixed {
				marker = styleWarn.Render("✓")
			}
			fmt.Printf("%s %s  %s/%s  %s\n",
				marker,
				e.Timestamp.Format("2006-01-02 15:04"),
				e.Skill, e.Tool,
				styleMuted.Render(e.Error))
		}
		return nil
	},
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("skillrun %s (%s)\n", version, commit)
	},
}
