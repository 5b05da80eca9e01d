// ABOUTME: Interactive config wizard for coven-recall
// ABOUTME: Asks for frontend credentials and writes a YAML config file

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-recall/internal/config"
)

// initAnswers are the values gathered by the wizard.
type initAnswers struct {
	Homeserver  string
	Username    string
	Password    string
	RecoveryKey string
	TelegramKey string
	GatewayURL  string
	Marker      string
}

func runInit(in io.Reader, out io.Writer, configPath string) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(out, banner)
	fmt.Fprintln(out, "    Interactive Setup")
	fmt.Fprintln(out, "    -----------------")
	fmt.Fprintln(out)

	reader := bufio.NewReader(in)
	ask := func(prompt, def string) string {
		green.Fprint(out, "    ▶ ")
		if def != "" {
			fmt.Fprintf(out, "%s [%s]: ", prompt, def)
		} else {
			fmt.Fprintf(out, "%s: ", prompt)
		}
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return def
		}
		return answer
	}

	if _, err := os.Stat(configPath); err == nil {
		yellow.Fprintf(out, "    Config already exists at %s\n", configPath)
		if strings.ToLower(ask("Overwrite? [y/N]", "")) != "y" {
			fmt.Fprintln(out, "    Aborted.")
			return nil
		}
		fmt.Fprintln(out)
	}

	answers := initAnswers{
		Homeserver:  ask("Matrix homeserver URL", "https://matrix.org"),
		Username:    ask("Matrix username (empty to skip Matrix)", ""),
		Password:    ask("Matrix password", ""),
		RecoveryKey: ask("Matrix recovery key (optional, for E2EE)", ""),
		TelegramKey: ask("Telegram bot token (optional)", ""),
		GatewayURL:  ask("Gateway URL", "http://localhost:8080"),
		Marker:      ask("Recall marker", config.DefaultMarker),
	}

	data, err := renderConfig(answers)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintln(out)
	green.Fprintf(out, "    ✓ Config written to %s\n", configPath)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "    Next steps:")
	fmt.Fprintln(out, "    1. Run: coven-recall")
	fmt.Fprintf(out, "    2. Tell your agent to send %s to take back its previous message\n", answers.Marker)
	fmt.Fprintln(out)
	return nil
}

// renderConfig builds the YAML config for the wizard answers.
func renderConfig(a initAnswers) ([]byte, error) {
	var cfg config.Config

	cfg.Recall.Marker = a.Marker
	cfg.Recall.MaxHistory = config.DefaultMaxHistory
	cfg.Recall.SettleDelayRaw = config.DefaultSettleDelay.String()
	cfg.Recall.DeleteTimeoutRaw = config.DefaultDeleteTimeout.String()
	cfg.Recall.SupportedPlatforms = config.DefaultSupportedPlatforms
	cfg.Recall.CommandPrefix = config.DefaultCommandPrefix

	if a.Homeserver != "" && a.Username != "" {
		cfg.Matrix.Enabled = true
		cfg.Matrix.Homeserver = a.Homeserver
		cfg.Matrix.Username = a.Username
		cfg.Matrix.Password = a.Password
		cfg.Matrix.RecoveryKey = a.RecoveryKey
		cfg.Matrix.TypingIndicator = true
	}
	if a.TelegramKey != "" {
		cfg.Telegram.Enabled = true
		cfg.Telegram.Token = a.TelegramKey
		cfg.Telegram.TypingIndicator = true
	}
	if !cfg.Matrix.Enabled && !cfg.Telegram.Enabled {
		return nil, fmt.Errorf("configure at least Matrix or Telegram")
	}

	cfg.Gateway.URL = a.GatewayURL
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	body, err := yaml.Marshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return append([]byte("# coven-recall configuration\n# Generated by coven-recall init\n\n"), body...), nil
}
