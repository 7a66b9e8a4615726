// Package cli implements the mqttpersist command tree.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nimburion/mqttpersist/pkg/config"
	"github.com/nimburion/mqttpersist/pkg/observability/logger"
)

// Options configures the command tree. Zero values select production defaults.
type Options struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// BackendFactory overrides how the persistence backend is built.
	BackendFactory BackendFactory
	// MQTTClientFactory overrides how the publish command creates its client.
	MQTTClientFactory MQTTClientFactory
	// Logger overrides the logger built from configuration.
	Logger logger.Logger
}

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configFile  string
	secretFile  string
	serviceName string
	backend     string
}

func (o *Options) normalize() {
	if strings.TrimSpace(o.Name) == "" {
		o.Name = "mqttpersist"
	}
	if o.Description == "" {
		o.Description = "Inspect and drive MQTT client persistence stores"
	}
	if strings.TrimSpace(o.EnvPrefix) == "" {
		o.EnvPrefix = config.DefaultEnvPrefix
	}
	if o.BackendFactory == nil {
		o.BackendFactory = defaultBackendFactory
	}
	if o.MQTTClientFactory == nil {
		o.MQTTClientFactory = defaultMQTTClientFactory
	}
}

// app carries what every command needs after flags are parsed.
type app struct {
	opts  Options
	flags globalFlags
}

// NewRootCommand builds the command tree.
func NewRootCommand(opts Options) *cobra.Command {
	opts.normalize()
	a := &app{opts: opts}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&a.flags.configFile, "config-file", "c", opts.ConfigPath, "config file path")
	pf.StringVar(&a.flags.secretFile, "secret-file", "", fmt.Sprintf("path to secrets file (sets %s_SECRETS_FILE)", strings.ToUpper(opts.EnvPrefix)))
	pf.StringVar(&a.flags.serviceName, "service-name", "", "service name override")
	pf.StringVar(&a.flags.backend, "backend", "", fmt.Sprintf("persistence backend override (%s)", strings.Join(config.SupportedBackends, ", ")))

	rootCmd.AddCommand(
		a.newVersionCommand(),
		a.newConfigCommand(),
		a.newHealthcheckCommand(),
		a.newKeysCommand(),
		a.newGetCommand(),
		a.newPutCommand(),
		a.newRemoveCommand(),
		a.newClearCommand(),
		a.newPublishCommand(),
		a.newServeCommand(),
	)

	rootCmd.CompletionOptions.DisableDefaultCmd = false
	rootCmd.InitDefaultCompletionCmd()
	return rootCmd
}

// Execute runs the command and exits with appropriate code.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves configuration and the logger for a command.
func (a *app) loadConfig() (*config.Config, *config.Config, logger.Logger, error) {
	return LoadConfigAndLogger(a.flags.configFile, a.opts.EnvPrefix, a.flags.secretFile, a.flags.serviceName, a.flags.backend, a.opts.Logger)
}

// LoadConfigAndLogger loads configuration with secrets, applies command line
// overrides, validates the result and builds the logger. A non-nil log is
// used instead of building one.
func LoadConfigAndLogger(
	cfgPath,
	envPrefix,
	secretFilePath,
	serviceNameOverride,
	backendOverride string,
	log logger.Logger,
) (*config.Config, *config.Config, logger.Logger, error) {
	if err := applySecretFileFlag(envPrefix, secretFilePath); err != nil {
		return nil, nil, nil, err
	}

	loader := config.NewViperLoader(cfgPath, envPrefix)
	cfg, secrets, err := loader.LoadWithSecrets()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	cfg.Service.Name = resolveServiceNameValue(cfg.Service.Name, serviceNameOverride)
	if backend := strings.TrimSpace(backendOverride); backend != "" {
		cfg.Persistence.Backend = backend
		if err := loader.Validate(cfg); err != nil {
			return nil, nil, nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	if log == nil {
		zl, err := logger.NewZapLogger(logger.Config{
			Level:  logger.LogLevel(cfg.Observability.LogLevel),
			Format: logger.LogFormat(cfg.Observability.LogFormat),
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create logger: %w", err)
		}
		log = zl
	}
	log = log.With("service", cfg.Service.Name)

	logConfigIfDebug(log, cfg, secrets)
	return cfg, secrets, log, nil
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(resolveEnvPrefix(envPrefix)+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}

func logConfigIfDebug(log logger.Logger, cfg, secrets *config.Config) {
	if !strings.EqualFold(cfg.Observability.LogLevel, string(logger.DebugLevel)) {
		return
	}
	log.Debug("effective configuration", "config", cfg.Redacted(secrets))
}

func resolveEnvPrefix(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return config.DefaultEnvPrefix
	}
	return strings.ToUpper(trimmed)
}

func resolveServiceNameValue(currentConfigName, serviceNameOverride string) string {
	if override := strings.TrimSpace(serviceNameOverride); override != "" {
		return override
	}
	if configured := strings.TrimSpace(currentConfigName); configured != "" {
		return configured
	}
	return config.DefaultConfig().Service.Name
}
