package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"completion-gateway/internal/config"
	"completion-gateway/internal/gateway"
	"completion-gateway/internal/llm"
)

// providerFlags override the provider settings from config.
type providerFlags struct {
	Model string
	URL   string
	Token string
}

func (f *providerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Model, "model", "", "override model name")
	cmd.Flags().StringVar(&f.URL, "url", "", "override base url")
	cmd.Flags().StringVar(&f.Token, "token", "", "override access token")
}

// loadGateway reads config, applies flag overrides and builds the gateway.
func loadGateway(cmd *cobra.Command, flags providerFlags) (*gateway.Gateway, config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, config.Config{}, nil, err
	}
	cfg.LLM.Model = firstNonEmpty(flags.Model, cfg.LLM.Model)
	cfg.LLM.URL = firstNonEmpty(flags.URL, cfg.LLM.URL)
	cfg.LLM.Token = firstNonEmpty(flags.Token, cfg.LLM.Token)

	logger := cfg.Log.NewLogger(cmd.ErrOrStderr())
	client, err := llm.New(llm.Settings{
		Type:      cfg.LLM.Type,
		BaseURL:   cfg.LLM.URL,
		Token:     cfg.LLM.Token,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		Transport: llm.NewHTTPClient(cfg.LLM.Timeout),
	})
	if err != nil {
		return nil, config.Config{}, nil, err
	}
	return gateway.New(client, gatewayDefaults(cfg.LLM), logger), cfg, logger, nil
}

func gatewayDefaults(cfg config.LLMConfig) gateway.Defaults {
	temperature := cfg.Temperature
	defaults := gateway.Defaults{
		Model:          cfg.Model,
		Temperature:    &temperature,
		EmbeddingModel: cfg.EmbeddingModel,
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		defaults.MaxTokens = &maxTokens
	}
	return defaults
}

type chatOptions struct {
	providerFlags
	Prompt      string
	InputFile   string
	System      string
	Stream      bool
	NoStream    bool
	Temperature float64
	MaxTokens   int
	TopP        float64
	ShowUsage   bool
}

func newChatCmd() *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat [prompt...]",
		Short: "Send a chat completion request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Prompt, "prompt", "", "prompt content")
	cmd.Flags().StringVarP(&opts.InputFile, "file", "F", "", "prompt file, use -F- for stdin")
	cmd.Flags().StringVar(&opts.System, "system", "", "system prompt")
	cmd.Flags().BoolVar(&opts.Stream, "stream", false, "stream response")
	cmd.Flags().BoolVar(&opts.NoStream, "no-stream", false, "disable streaming response")
	cmd.Flags().Float64Var(&opts.Temperature, "temperature", 0, "sampling temperature")
	cmd.Flags().IntVar(&opts.MaxTokens, "max-tokens", 0, "maximum tokens to generate")
	cmd.Flags().Float64Var(&opts.TopP, "top-p", 0, "nucleus sampling probability")
	cmd.Flags().BoolVar(&opts.ShowUsage, "show-usage", false, "print token usage to stderr")
	opts.providerFlags.register(cmd)

	return cmd
}

func runChat(cmd *cobra.Command, opts *chatOptions, args []string) error {
	if opts.Stream && opts.NoStream {
		return errors.New("only one of --stream or --no-stream can be set")
	}
	prompt, err := resolvePrompt(opts.Prompt, args, opts.InputFile, cmd.InOrStdin())
	if err != nil {
		return err
	}

	gw, _, _, err := loadGateway(cmd, opts.providerFlags)
	if err != nil {
		return err
	}

	genOpts := gateway.Options{Model: opts.Model, Stream: opts.Stream}
	flags := cmd.Flags()
	if flags.Changed("temperature") {
		genOpts.Temperature = &opts.Temperature
	}
	if flags.Changed("max-tokens") {
		genOpts.MaxTokens = &opts.MaxTokens
	}
	if flags.Changed("top-p") {
		genOpts.TopP = &opts.TopP
	}

	messages := buildMessages(opts.System, prompt)
	out := cmd.OutOrStdout()

	if opts.Stream {
		usage, err := streamCompletion(cmd, gw, messages, genOpts, out)
		if err != nil {
			return err
		}
		if opts.ShowUsage {
			printUsage(cmd.ErrOrStderr(), usage)
		}
		return nil
	}

	completion, err := gw.CreateChatCompletion(cmd.Context(), messages, genOpts)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(out, completion.Content); err != nil {
		return err
	}
	if opts.ShowUsage {
		printUsage(cmd.ErrOrStderr(), completion.Usage)
	}
	return nil
}

func streamCompletion(cmd *cobra.Command, gw *gateway.Gateway, messages []llm.Message, opts gateway.Options, out io.Writer) (llm.Usage, error) {
	stream, err := gw.CreateStreamingChatCompletion(cmd.Context(), messages, opts)
	if err != nil {
		return llm.Usage{}, err
	}
	for text, err := range stream.Chunks(cmd.Context()) {
		if err != nil {
			_, _ = fmt.Fprintln(out)
			return llm.Usage{}, err
		}
		if _, err := fmt.Fprint(out, text); err != nil {
			return llm.Usage{}, err
		}
	}
	_, _ = fmt.Fprintln(out)
	return stream.Usage(), nil
}

// resolvePrompt prefers --prompt, then args or -F, then whatever is piped
// on stdin.
func resolvePrompt(prompt string, args []string, inputFile string, stdin io.Reader) (string, error) {
	if strings.TrimSpace(prompt) != "" {
		if len(args) > 0 || inputFile != "" {
			return "", errors.New("--prompt cannot be combined with args or -F")
		}
		return strings.TrimSpace(prompt), nil
	}
	if len(args) > 0 || inputFile != "" {
		return readInput(args, inputFile, stdin)
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt = strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("prompt is required")
	}
	return prompt, nil
}

func printUsage(w io.Writer, usage llm.Usage) {
	fmt.Fprintf(w, "tokens: prompt=%d completion=%d total=%d\n",
		usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
}

type testOptions struct {
	providerFlags
	Stream   bool
	NoStream bool
}

func newTestCmd() *cobra.Command {
	opts := &testOptions{}
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Test provider connectivity with config or flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Stream, "stream", false, "stream response")
	cmd.Flags().BoolVar(&opts.NoStream, "no-stream", false, "disable streaming response")
	opts.providerFlags.register(cmd)

	return cmd
}

func runTest(cmd *cobra.Command, opts *testOptions) error {
	if opts.Stream && opts.NoStream {
		return errors.New("only one of --stream or --no-stream can be set")
	}
	gw, _, _, err := loadGateway(cmd, opts.providerFlags)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if gw.ValidateAPIKey(cmd.Context()) {
		fmt.Fprintln(out, "api key: valid")
	} else {
		fmt.Fprintln(out, "api key: invalid or unreachable")
	}

	messages := []llm.Message{{Role: llm.RoleUser, Content: "ping"}}
	genOpts := gateway.Options{Model: opts.Model, Stream: opts.Stream}
	if opts.Stream {
		_, err = streamCompletion(cmd, gw, messages, genOpts, out)
		return err
	}

	completion, err := gw.CreateChatCompletion(cmd.Context(), messages, genOpts)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, completion.Content)
	return err
}

func buildMessages(system, prompt string) []llm.Message {
	messages := make([]llm.Message, 0, 2)
	if strings.TrimSpace(system) != "" {
		messages = append(messages, llm.Message{
			Role:    llm.RoleSystem,
			Content: system,
		})
	}
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: prompt,
	})
	return messages
}
