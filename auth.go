package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/minios-linux/gametl/settings"
	"github.com/minios-linux/gametl/translate"
)

var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage provider API keys",
		Long: `Manage the API keys and endpoints used by the AI providers.

API key providers (paste your key):
  openai        OpenAI
  google        Google AI Studio (Gemini API key)
  anthropic     Anthropic
  groq          Groq Cloud (free tier available)
  custom-openai Custom OpenAI-compatible endpoint

Endpoint only:
  ollama        Local Ollama server

Examples:
  gametl auth login                         Interactive provider selection
  gametl auth login --provider openai       Store an OpenAI API key
  gametl auth logout --provider openai      Remove the OpenAI API key
  gametl auth logout                        Remove all credentials
  gametl auth list                          Show all stored credentials`,
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthListCmd(),
	)

	return cmd
}

// allProviders is the ordered list of providers for the interactive menu.
var allProviders = []struct {
	id      string
	name    string
	desc    string
	helpURL string
}{
	{translate.ProviderOpenAI, "OpenAI", "GPT models", "https://platform.openai.com/api-keys"},
	{translate.ProviderGoogle, "Google AI Studio", "Gemini API key, free tier available", "https://aistudio.google.com/apikey"},
	{translate.ProviderAnthropic, "Anthropic", "Claude models", "https://console.anthropic.com/settings/keys"},
	{translate.ProviderGroq, "Groq Cloud", "fast inference, free tier available", "https://console.groq.com/keys"},
	{translate.ProviderCustomOpenAI, "Custom OpenAI", "any OpenAI-compatible endpoint", ""},
	{translate.ProviderOllama, "Ollama", "local server, endpoint only", ""},
}

func knownProvider(id string) bool {
	for _, p := range allProviders {
		if p.id == id {
			return true
		}
	}
	return false
}

func providerCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	completions := make([]string, 0, len(allProviders))
	for _, p := range allProviders {
		completions = append(completions, fmt.Sprintf("%s\t%s", p.id, p.name))
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

// pickProvider resolves a menu choice given by number or by ID.
func pickProvider(choice string) (string, bool) {
	choice = strings.TrimSpace(choice)
	if n, err := strconv.Atoi(choice); err == nil {
		if n >= 1 && n <= len(allProviders) {
			return allProviders[n-1].id, true
		}
		return "", false
	}
	return choice, knownProvider(choice)
}

func newAuthLoginCmd() *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an API key for an AI provider",
		Long: `Store an API key (and, for custom-openai and ollama, an endpoint URL).

If --provider is not specified, you will be prompted to choose.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewScanner(cmd.InOrStdin())
			if provider == "" {
				fmt.Fprintf(os.Stderr, "\n%s\n\n", blue("Select provider to authenticate:"))
				for i, p := range allProviders {
					fmt.Fprintf(os.Stderr, "  %d. %s %s\n", i+1, yellow(fmt.Sprintf("%-13s", p.id)), p.desc)
				}
				fmt.Fprintf(os.Stderr, "\nEnter choice (number or name): ")
				choice, err := readLine(in)
				if err != nil {
					return err
				}
				id, ok := pickProvider(choice)
				if !ok {
					return fmt.Errorf("invalid choice, use: gametl auth login --provider PROVIDER")
				}
				provider = id
			}

			switch provider {
			case translate.ProviderCustomOpenAI, translate.ProviderOllama:
				return authLoginEndpoint(in, provider)
			default:
				if !knownProvider(provider) {
					return fmt.Errorf("unknown provider '%s', run 'gametl auth login' for options", provider)
				}
				return authLoginAPIKey(in, provider)
			}
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Provider to authenticate")
	_ = cmd.RegisterFlagCompletionFunc("provider", providerCompletion)

	return cmd
}

func readLine(in *bufio.Scanner) (string, error) {
	if !in.Scan() {
		if err := in.Err(); err != nil {
			return "", err
		}
		return "", io.ErrUnexpectedEOF
	}
	return strings.TrimSpace(in.Text()), nil
}

func authLoginAPIKey(in *bufio.Scanner, providerID string) error {
	var name, helpURL string
	for _, p := range allProviders {
		if p.id == providerID {
			name, helpURL = p.name, p.helpURL
		}
	}

	fmt.Fprintf(os.Stderr, "\n%s\n", blue(name+" — API Key Setup"))
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	fmt.Fprintln(os.Stderr)
	if helpURL != "" {
		fmt.Fprintf(os.Stderr, "  Get your API key from: %s\n\n", green(helpURL))
	}

	existing := settings.GetAPIKey(providerID)
	if existing != "" {
		fmt.Fprintf(os.Stderr, "  Current key: %s\n", yellow(settings.MaskKey(existing)))
		fmt.Fprintf(os.Stderr, "  Enter new key to replace, or press Enter to keep: ")
	} else {
		fmt.Fprintf(os.Stderr, "  Enter API key: ")
	}

	key, err := readLine(in)
	if err != nil {
		return err
	}
	if key == "" {
		if existing != "" {
			logInfo("Keeping existing key")
			return nil
		}
		return fmt.Errorf("no API key provided")
	}

	if err := settings.SetAPIKey(providerID, key); err != nil {
		return fmt.Errorf("saving API key: %w", err)
	}
	logSuccess("%s API key saved!", name)
	fmt.Fprintf(os.Stderr, "\n  You can now use: gametl translate --provider %s\n\n", providerID)
	return nil
}

func authLoginEndpoint(in *bufio.Scanner, providerID string) error {
	fmt.Fprintf(os.Stderr, "\n%s\n", blue(providerID+" endpoint"))
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	fmt.Fprintln(os.Stderr)

	existingURL := settings.GetBaseURL(providerID)
	if existingURL != "" {
		fmt.Fprintf(os.Stderr, "  Current endpoint: %s\n", yellow(existingURL))
		fmt.Fprintf(os.Stderr, "  Enter new endpoint URL, or press Enter to keep: ")
	} else {
		fmt.Fprintf(os.Stderr, "  Enter endpoint URL (e.g., https://api.example.com/v1): ")
	}
	baseURL, err := readLine(in)
	if err != nil {
		return err
	}
	if baseURL == "" {
		baseURL = existingURL
	}
	if baseURL == "" && providerID == translate.ProviderCustomOpenAI {
		return fmt.Errorf("endpoint URL is required")
	}

	existingKey := settings.GetAPIKey(providerID)
	if existingKey != "" {
		fmt.Fprintf(os.Stderr, "  Current key: %s\n", yellow(settings.MaskKey(existingKey)))
		fmt.Fprintf(os.Stderr, "  Enter new API key, or press Enter to keep: ")
	} else {
		fmt.Fprintf(os.Stderr, "  Enter API key (or press Enter if not required): ")
	}
	apiKey, err := readLine(in)
	if err != nil {
		return err
	}
	if apiKey == "" {
		apiKey = existingKey
	}

	if err := settings.SetAPIKeyWithBaseURL(providerID, apiKey, baseURL); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	logSuccess("%s endpoint saved!", providerID)
	fmt.Fprintf(os.Stderr, "\n  You can now use: gametl translate --provider %s --model MODEL_NAME\n\n", providerID)
	return nil
}

func newAuthLogoutCmd() *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		Long: `Remove stored credentials for one or all providers.

If --provider is not specified, credentials for ALL providers are removed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if provider != "" {
				if err := settings.Remove(provider); err != nil {
					return fmt.Errorf("removing %s credentials: %w", provider, err)
				}
				logSuccess("%s credentials removed", provider)
				return nil
			}
			if err := settings.RemoveAll(); err != nil {
				return err
			}
			logSuccess("All stored credentials removed")
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Provider to logout (default: all)")
	_ = cmd.RegisterFlagCompletionFunc("provider", providerCompletion)

	return cmd
}

func newAuthListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show stored credentials and status",
		Run: func(cmd *cobra.Command, args []string) {
			store := settings.Load()
			fmt.Fprintf(os.Stderr, "\n%s\n", blue("Stored Credentials"))
			fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
			fmt.Fprintln(os.Stderr)

			for _, p := range allProviders {
				entry := store[p.id]
				var status string
				switch {
				case entry != nil && entry.Key != "":
					status = fmt.Sprintf("%s (key: %s)", green("configured"), settings.MaskKey(entry.Key))
				case entry != nil && entry.BaseURL != "":
					status = fmt.Sprintf("%s (no key)", green("configured"))
				default:
					status = red("not configured")
				}
				if entry != nil && entry.BaseURL != "" {
					status += fmt.Sprintf("\n  %14s endpoint: %s", "", entry.BaseURL)
				}
				fmt.Fprintf(os.Stderr, "  %-14s %s\n", p.id, status)
			}

			fmt.Fprintf(os.Stderr, "\n  %s\n", yellow("Environment Variables"))
			for _, env := range []string{"GAMETL_API_KEY", "OPENAI_API_KEY", "GOOGLE_API_KEY", "ANTHROPIC_API_KEY", "GROQ_API_KEY"} {
				if v := os.Getenv(env); v != "" {
					fmt.Fprintf(os.Stderr, "  %-18s %s\n", env+":", green(settings.MaskKey(v)))
				} else {
					fmt.Fprintf(os.Stderr, "  %-18s %s\n", env+":", red("not set"))
				}
			}
			fmt.Fprintf(os.Stderr, "\n  stored in %s\n\n", settings.FilePath())
		},
	}
}
