package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"scriptstudio/internal/contexttoken"
	"scriptstudio/pkg/bus"
	"scriptstudio/pkg/domain"
	"scriptstudio/pkg/kv"
	"scriptstudio/pkg/messenger"
	"scriptstudio/pkg/state"
	"scriptstudio/pkg/store"
	"scriptstudio/pkg/validate"
)

// sender picks the redis transport when an address is configured and the
// background HTTP endpoint otherwise. The returned func releases it.
func sender(opts options) (messenger.Sender, func(), error) {
	if opts.redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		transport := messenger.NewRedisTransport(client, messenger.RedisConfig{ResponseTimeout: opts.timeout})
		return transport.To(opts.target), func() { _ = client.Close() }, nil
	}
	var signer messenger.TokenSigner
	if opts.secret != "" {
		s, err := contexttoken.NewSigner(contexttoken.SignerOptions{Secret: opts.secret, Issuer: opts.contextName})
		if err != nil {
			return nil, nil, err
		}
		signer = s
	}
	return messenger.NewHTTPSender(opts.backgroundURL, opts.target, signer, nil), func() {}, nil
}

func call(cmd *cobra.Command, typ messenger.Type, payload any) (messenger.Response, error) {
	opts := optionsFrom(cmd)
	s, release, err := sender(opts)
	if err != nil {
		return messenger.Response{}, err
	}
	defer release()
	req, err := messenger.NewRequest(typ, opts.contextName, payload)
	if err != nil {
		return messenger.Response{}, err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()
	return messenger.Call(ctx, s, req)
}

func newAddScriptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-script <script.json>",
		Short: "Store a script through the background context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read script: %w", err)
			}
			var script domain.Script
			if err := json.Unmarshal(data, &script); err != nil {
				return fmt.Errorf("parse script: %w", err)
			}
			resp, err := call(cmd, messenger.TypeAddScript, messenger.AddScriptPayload{Script: &script})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "script %d stored\n", resp.ScriptID)
			var result messenger.AddScriptResult
			if len(resp.Data) > 0 && json.Unmarshal(resp.Data, &result) == nil {
				for _, w := range result.Warnings {
					fmt.Fprintf(out, "warning: %s\n", w)
				}
			}
			return nil
		},
	}
}

func newOpenPageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open-page <payload.json>",
		Short: "Open the application page with a payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
			if !json.Valid(data) {
				return fmt.Errorf("payload %s is not valid JSON", args[0])
			}
			resp, err := call(cmd, messenger.TypeOpenPage, json.RawMessage(data))
			if err != nil {
				return err
			}
			var opened messenger.OpenPagePayload
			if err := json.Unmarshal(resp.Data, &opened); err != nil {
				return fmt.Errorf("decode reply: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "page opened with payload %s\n", opened.Key)
			return nil
		},
	}
}

func newPrimeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prime",
		Short: "Prime the chat AI app with the script schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := call(cmd, messenger.TypePrimeGemini, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "priming text sent")
			return nil
		},
	}
}

func newThemeCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "theme [light|dark|toggle]",
		Short:     "Show or change the theme preference",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"light", "dark", "toggle"},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := optionsFrom(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			db, err := store.Open(ctx, opts.databaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			settings, err := kv.NewGormStore(db.DB())
			if err != nil {
				return err
			}
			var b bus.Bus = bus.NewLocalBus()
			if opts.redisAddr != "" {
				client := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
				defer client.Close()
				b = bus.NewRedisBus(client, "")
			}
			defer b.Close()
			theme, err := state.NewTheme(ctx, kv.NewNotifying(settings, b, "local", opts.contextName))
			if err != nil {
				return err
			}

			mode := theme.Get()
			arg := ""
			if len(args) == 1 {
				arg = strings.TrimSpace(args[0])
			}
			switch arg {
			case "":
			case "toggle":
				if mode, err = theme.Toggle(ctx); err != nil {
					return err
				}
			case string(state.ThemeLight), string(state.ThemeDark):
				if err := theme.Set(ctx, state.ThemeMode(arg)); err != nil {
					return err
				}
				mode = theme.Get()
			default:
				return fmt.Errorf("theme must be light, dark or toggle, got %q", arg)
			}
			fmt.Fprintln(cmd.OutOrStdout(), mode)
			return nil
		},
	}
}

func newValidateLineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-line <line>",
		Short: "Report stage directions in a dialogue line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			check := validate.ValidateDialogueLine(strings.Join(args, " "))
			out := cmd.OutOrStdout()
			if check.IsValid {
				fmt.Fprintln(out, "ok")
				return nil
			}
			for _, w := range check.Warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			return nil
		},
	}
}

func newStripCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strip <line>",
		Short: "Remove stage directions from a dialogue line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), validate.StripStageDirections(strings.Join(args, " ")))
			return nil
		},
	}
}

func newValidatePromptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-prompt <file>",
		Short: "Validate a prompt template (.json, .yaml) or an exported list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := loadPromptText(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if strings.HasPrefix(strings.TrimSpace(text), "[") {
				recs, err := validate.ValidatePromptListJSON(text)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%d prompt templates valid\n", len(recs))
				return nil
			}
			check := validate.ValidatePromptJSON(text)
			if !check.IsValid {
				return fmt.Errorf("invalid prompt template: %s", check.Error)
			}
			fmt.Fprintf(out, "prompt template %q valid (%s)\n", check.Data.Title, check.Data.Category)
			return nil
		},
	}
}

// loadPromptText returns the JSON form of a prompt file. YAML files are
// converted so both formats share one validation path.
func loadPromptText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var node any
		if err := yaml.Unmarshal(data, &node); err != nil {
			return "", fmt.Errorf("parse prompt yaml: %w", err)
		}
		out, err := json.Marshal(node)
		if err != nil {
			return "", fmt.Errorf("convert prompt yaml: %w", err)
		}
		return string(out), nil
	default:
		return string(data), nil
	}
}
