package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dotsetgreg/dotpersona/pkg/config"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
	"github.com/dotsetgreg/dotpersona/pkg/memory"
	"github.com/dotsetgreg/dotpersona/pkg/prompt"
	"github.com/dotsetgreg/dotpersona/pkg/providers"
)

type rootOptions struct {
	configPath string
	debug      bool
}

func executeCLI() error {
	return buildRootCommand(true).Execute()
}

func buildRootCommand(includeDocsCommand bool) *cobra.Command {
	var (
		showVersion bool
		opts        rootOptions
	)

	root := &cobra.Command{
		Use:   appName,
		Short: "Discord persona bot for locally hosted language models",
		Long: strings.TrimSpace(`dotpersona gives a locally hosted language model a character card and puts
it on Discord. Prompts are assembled from the persona and as much recent
channel history as fits the model's context window.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.debug {
				logger.SetLevel(logger.DEBUG)
				logger.DebugC("main", "Debug logging enabled")
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath(), "Path to the config file")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	root.AddCommand(newOnboardCommand(&opts))
	root.AddCommand(newRunCommand(&opts))
	root.AddCommand(newChatCommand(&opts))
	root.AddCommand(newPromptCommand(&opts))
	root.AddCommand(newStatusCommand(&opts))
	root.AddCommand(newVersionCommand())

	if includeDocsCommand {
		root.AddCommand(newDocsCommand(func() *cobra.Command { return buildRootCommand(false) }))
	}
	return root
}

func addPersonaFlags(cmd *cobra.Command, po *personaOptions) {
	cmd.Flags().StringVarP(&po.character, "character", "c", "", "Character card name or path (overrides persona.character)")
	cmd.Flags().StringVarP(&po.paramsPath, "params", "p", "", "Generation parameters JSON file (overrides model.params_path)")
	cmd.Flags().BoolVar(&po.persistentLogs, "persistent-logs", false, "Keep one memory log per persona across restarts")
	cmd.Flags().IntVar(&po.historyLimit, "history-limit", 0, "Number of recent channel messages fetched for each prompt")
	cmd.Flags().BoolVar(&po.permanentDialogue, "permanent-dialogue-context", false, "Never drop the example dialogue from the prompt")
}

func newOnboardCommand(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "onboard",
		Short:   "Write a default config file",
		Long:    "Create ~/.dotpersona/config.json (or the --config path) with default settings.",
		Example: "  dotpersona onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return onboard(cmd.InOrStdin(), cmd.OutOrStdout(), opts.configPath, force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config without asking")
	return cmd
}

func onboard(in io.Reader, out io.Writer, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		fmt.Fprintf(out, "Config already exists at %s\n", path)
		fmt.Fprint(out, "Overwrite? (y/n): ")
		response, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && response == "" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Fprintf(out, "✓ Config written to %s\n", path)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Set discord.token (or DOTPERSONA_DISCORD_TOKEN)")
	fmt.Fprintln(out, "  2. Point model.api_base at your local model server")
	fmt.Fprintln(out, "  3. Put a character card in persona.characters_dir and run: dotpersona run")
	return nil
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	var po personaOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and start answering",
		Long:  "Start the Discord channel, inference worker, scheduled posts and health server.",
		Example: strings.Join([]string{
			"  dotpersona run",
			"  dotpersona run -c aria --persistent-logs --history-limit 20",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(opts.configPath, po)
		},
	}
	addPersonaFlags(cmd, &po)
	return cmd
}

func newChatCommand(opts *rootOptions) *cobra.Command {
	var (
		po       personaOptions
		message  string
		session string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the persona in the terminal",
		Long:  "Run an interactive local conversation, or send one message with --message, without Discord.",
		Example: strings.Join([]string{
			"  dotpersona chat -c aria",
			"  dotpersona chat --message \"hello there\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := loadApp(ctx, opts.configPath, po, appOptions{withStore: true})
			if err != nil {
				return err
			}
			defer a.close()

			provider, err := providers.CreateProvider(a.cfg)
			if err != nil {
				return fmt.Errorf("create provider: %w", err)
			}
			c := newConsole(a.session, provider, consoleLocation(session), cmd.OutOrStdout())
			if strings.TrimSpace(message) != "" {
				return c.send(ctx, strings.TrimSpace(message))
			}
			c.interactive(ctx)
			return nil
		},
	}
	addPersonaFlags(cmd, &po)
	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot message to send")
	cmd.Flags().StringVarP(&session, "session", "s", "default", "Console session name; each session keeps its own history")
	return cmd
}

func newPromptCommand(opts *rootOptions) *cobra.Command {
	var (
		po        personaOptions
		speaker   string
		replyTo   string
		replyFrom string
		stats     bool
	)

	cmd := &cobra.Command{
		Use:   "prompt <message>",
		Short: "Print the prompt that would be sent for a message",
		Long:  "Assemble the prompt for a message without calling the model. Useful for tuning the character card and token budget.",
		Example: strings.Join([]string{
			"  dotpersona prompt \"what's for dinner?\"",
			"  dotpersona prompt --reply-to \"I made soup\" --reply-from Aria \"what kind?\" --stats",
		}, "\n"),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := loadApp(ctx, opts.configPath, po, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			p := a.session.Persona()
			if speaker == "" {
				speaker = p.UserName
			}
			conv := prompt.Conversation{
				Current: memory.Message{Speaker: speaker, Text: strings.Join(args, " ")},
			}
			if replyTo != "" {
				conv.Referenced = &memory.Message{Speaker: valueOr(replyFrom, p.Name), Text: replyTo}
			}
			res := a.session.BuildPrompt(conv, "")

			fmt.Fprint(cmd.OutOrStdout(), res.Prompt)
			if stats {
				printPromptStats(cmd.ErrOrStderr(), res)
			}
			return nil
		},
	}
	addPersonaFlags(cmd, &po)
	cmd.Flags().StringVar(&speaker, "as", "", "Speaker name for the message (default persona.user_name)")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "Text of the message being replied to")
	cmd.Flags().StringVar(&replyFrom, "reply-from", "", "Speaker of the replied-to message (default the persona)")
	cmd.Flags().BoolVar(&stats, "stats", false, "Print token accounting to stderr")
	return cmd
}

func printPromptStats(w io.Writer, res prompt.Result) {
	alloc := res.Allocation
	fmt.Fprintln(w, "\n--- token accounting ---")
	fmt.Fprintf(w, "permanent block: %d\n", res.PermanentTokens)
	fmt.Fprintf(w, "history budget:  %d\n", alloc.Budget)
	fmt.Fprintf(w, "history used:    %d\n", alloc.Consumed)
	fmt.Fprintf(w, "messages:        %d\n", len(alloc.Messages))
	if alloc.OverBudget {
		fmt.Fprintln(w, "over budget:     reserved messages alone exceed the budget")
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and readiness",
		Example: "  dotpersona status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return status(cmd.OutOrStdout(), opts.configPath)
		},
	}
}

func status(out io.Writer, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	mark := func(ok bool, missing string) string {
		if ok {
			return "✓"
		}
		return missing
	}
	exists := func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	}

	fmt.Fprintf(out, "%s Status\n", appName)
	fmt.Fprintf(out, "Version: %s\n\n", formatVersion())
	fmt.Fprintln(out, "Config:", configPath, mark(exists(configPath), "✗"))
	charPath := cfg.CharacterPath()
	fmt.Fprintln(out, "Character:", charPath, mark(exists(charPath), "✗"))
	fmt.Fprintln(out, "Params:", cfg.Model.ParamsPath, mark(exists(cfg.Model.ParamsPath), "defaults"))
	fmt.Fprintf(out, "Memory log: %s (%s, persistent=%t)\n", cfg.LogDirPath(), valueOr(cfg.Persona.LogBackend, "json"), cfg.Persona.PersistentLogs)
	fmt.Fprintf(out, "Model: %s via %s at %s\n", cfg.Model.Model, providers.ActiveProviderName(cfg), cfg.GetAPIBase())
	fmt.Fprintf(out, "Context: %d tokens, history limit %d\n", cfg.Model.MaxContextTokens, cfg.Model.HistoryLimit)

	providerOK := providers.ValidateProviderConfig(cfg) == nil
	discordOK := strings.TrimSpace(cfg.Discord.Token) != ""
	fmt.Fprintln(out, "Provider config:", mark(providerOK, "invalid"))
	fmt.Fprintln(out, "Discord token:", mark(discordOK, "not set"))
	fmt.Fprintln(out, "Schedules:", len(cfg.Schedules))
	if err := cfg.Validate(true); err != nil {
		fmt.Fprintf(out, "\nConfiguration problems:\n  %s\n", strings.ReplaceAll(err.Error(), "\n", "\n  "))
		return nil
	}
	fmt.Fprintln(out, "Gateway ready:", mark(providerOK && exists(charPath), "no"))
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  dotpersona version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Fprintf(w, "  Build: %s\n", build)
	}
	fmt.Fprintf(w, "  Go: %s\n", goVer)
}
