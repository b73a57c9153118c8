package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Generate a configuration file interactively",
	Long: `Generate a configuration file interactively.

You will be prompted for:
  - Server port and path prefix
  - Database type and DSN
  - Storage directory
  - Duplicate handling policy
  - Token authentication settings

The result is written as YAML to the path given with --output.`,
	RunE: runConfigure,
}

var configureOutput string

func init() {
	configureCmd.Flags().StringVar(&configureOutput, "output", "config.yaml", "path to write the configuration file")
	rootCmd.AddCommand(configureCmd)
}

type serverFileConfig struct {
	Port       int    `yaml:"port"`
	PathPrefix string `yaml:"path_prefix,omitempty"`
}

type databaseFileConfig struct {
	Type string `yaml:"type"`
	DSN  string `yaml:"dsn"`
}

type storageFileConfig struct {
	Path string `yaml:"path"`
}

type storeFileConfig struct {
	DuplicatePolicy string `yaml:"duplicate_policy"`
	ValidateUIDs    bool   `yaml:"validate_uids"`
}

type authFileConfig struct {
	Enabled       bool              `yaml:"enabled"`
	AnonymousRead bool              `yaml:"anonymous_read"`
	Issuer        string            `yaml:"issuer,omitempty"`
	Audience      string            `yaml:"audience,omitempty"`
	Keys          map[string]string `yaml:"keys,omitempty"`
}

type fileConfig struct {
	Server   serverFileConfig   `yaml:"server"`
	Database databaseFileConfig `yaml:"database"`
	Storage  storageFileConfig  `yaml:"storage"`
	Store    storeFileConfig    `yaml:"store"`
	Auth     authFileConfig     `yaml:"auth"`
}

func runConfigure(_ *cobra.Command, _ []string) error {
	if _, err := os.Stat(configureOutput); err == nil {
		prompt := promptui.Prompt{
			Label:     fmt.Sprintf("File '%s' already exists. Overwrite it", configureOutput),
			IsConfirm: true,
		}
		if _, promptErr := prompt.Run(); promptErr != nil {
			fmt.Println("Cancelled.")
			return nil //nolint:nilerr // User cancelled, not an error
		}
	}

	cfg := fileConfig{}

	portPrompt := promptui.Prompt{
		Label:   "Server port",
		Default: "8042",
		Validate: func(input string) error {
			port, err := strconv.Atoi(input)
			if err != nil {
				return errors.New("port must be a number")
			}
			if port < 1 || port > 65535 {
				return errors.New("port must be between 1 and 65535")
			}
			return nil
		},
	}
	portVal, err := portPrompt.Run()
	if err != nil {
		return handlePromptError(err)
	}
	cfg.Server.Port, _ = strconv.Atoi(portVal)

	prefixPrompt := promptui.Prompt{
		Label:   "Path prefix (empty for root)",
		Default: "",
	}
	cfg.Server.PathPrefix, err = prefixPrompt.Run()
	if err != nil {
		return handlePromptError(err)
	}

	dbTypePrompt := promptui.Select{
		Label: "Database type",
		Items: []string{"sqlite", "postgres"},
	}
	_, dbType, err := dbTypePrompt.Run()
	if err != nil {
		return handlePromptError(err)
	}
	cfg.Database.Type = dbType

	dsnDefault := "dicomweb.db"
	if dbType == "postgres" {
		dsnDefault = "postgres://localhost:5432/dicomweb"
	}
	dsnPrompt := promptui.Prompt{
		Label:   "Database DSN",
		Default: dsnDefault,
		Validate: func(input string) error {
			if input == "" {
				return errors.New("DSN is required")
			}
			return nil
		},
	}
	cfg.Database.DSN, err = dsnPrompt.Run()
	if err != nil {
		return handlePromptError(err)
	}

	storagePrompt := promptui.Prompt{
		Label:   "Storage directory",
		Default: "./data",
		Validate: func(input string) error {
			if input == "" {
				return errors.New("storage directory is required")
			}
			return nil
		},
	}
	cfg.Storage.Path, err = storagePrompt.Run()
	if err != nil {
		return handlePromptError(err)
	}

	policyPrompt := promptui.Select{
		Label: "Duplicate policy",
		Items: []string{"reject", "replace", "accept"},
	}
	_, cfg.Store.DuplicatePolicy, err = policyPrompt.Run()
	if err != nil {
		return handlePromptError(err)
	}
	cfg.Store.ValidateUIDs = true

	authPrompt := promptui.Prompt{
		Label:     "Enable token authentication",
		IsConfirm: true,
	}
	if _, promptErr := authPrompt.Run(); promptErr == nil {
		cfg.Auth.Enabled = true

		issuerPrompt := promptui.Prompt{
			Label: "Token issuer (empty to skip the check)",
		}
		cfg.Auth.Issuer, err = issuerPrompt.Run()
		if err != nil {
			return handlePromptError(err)
		}

		secretPrompt := promptui.Prompt{
			Label: "Signing secret",
			Mask:  '*',
			Validate: func(input string) error {
				if len(input) < 16 {
					return errors.New("secret must be at least 16 characters")
				}
				return nil
			},
		}
		secret, err := secretPrompt.Run()
		if err != nil {
			return handlePromptError(err)
		}
		cfg.Auth.Keys = map[string]string{"default": secret}

		anonPrompt := promptui.Prompt{
			Label:     "Allow anonymous reads",
			IsConfirm: true,
		}
		if _, promptErr := anonPrompt.Run(); promptErr == nil {
			cfg.Auth.AnonymousRead = true
		}
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(configureOutput, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("Configuration written to %s\n", configureOutput)
	return nil
}

// handlePromptError handles promptui errors.
func handlePromptError(err error) error {
	if errors.Is(err, promptui.ErrInterrupt) {
		fmt.Println("\nCancelled.")
		os.Exit(0)
	}
	if errors.Is(err, promptui.ErrAbort) {
		fmt.Println("Cancelled.")
		return nil
	}
	return err
}
