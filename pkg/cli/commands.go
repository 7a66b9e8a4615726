package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nimburion/mqttpersist/pkg/config"
	"github.com/nimburion/mqttpersist/pkg/health"
	"github.com/nimburion/mqttpersist/pkg/observability/metrics"
	"github.com/nimburion/mqttpersist/pkg/resilience"
	"github.com/nimburion/mqttpersist/pkg/version"
)

const defaultHealthTimeout = 5 * time.Second

// Readiness probes stop hitting a failing backend for breakerCooldown after
// breakerFailures consecutive failures.
const (
	breakerFailures = 3
	breakerCooldown = 30 * time.Second
)

func (a *app) newVersionCommand() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Current(resolveServiceNameValue("", a.flags.serviceName))
			out := cmd.OutOrStdout()
			if short {
				_, err := fmt.Fprintln(out, info.Version)
				return err
			}
			data, err := yaml.Marshal(info)
			if err != nil {
				return fmt.Errorf("render version: %w", err)
			}
			_, err = out.Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "print only the version")
	return cmd
}

func (a *app) newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	var showSecrets bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, secrets, _, err := a.loadConfig()
			if err != nil {
				return err
			}
			var data []byte
			if showSecrets {
				data, err = yaml.Marshal(cfg)
			} else {
				data, err = cfg.YAML(secrets)
			}
			if err != nil {
				return fmt.Errorf("render config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	show.Flags().BoolVar(&showSecrets, "show-secrets", false, "print credentials in clear text")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := a.loadConfig()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid (backend: %s)\n", cfg.Persistence.Backend)
			return err
		},
	}

	schema := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Schema()
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(s, "", "  ")
			if err != nil {
				return fmt.Errorf("render config schema: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}

	cmd.AddCommand(show, validate, schema)
	return cmd
}

func (a *app) newHealthcheckCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe the configured backend with a write, read and clear round trip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			rt, err := a.newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := rt.close(); err == nil {
					err = closeErr
				}
			}()

			checker := health.NewPersistenceChecker(rt.cfg.Persistence.Backend, rt.backend, timeout)
			rt.closeBackend = checker.Close
			registry := health.NewRegistry()
			registry.Register(checker)
			result := registry.Check(cmd.Context())

			data, err := yaml.Marshal(result)
			if err != nil {
				return fmt.Errorf("render health result: %w", err)
			}
			if _, err := cmd.OutOrStdout().Write(data); err != nil {
				return err
			}
			if !result.IsHealthy() {
				return errors.New(unhealthyMessage(result))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", defaultHealthTimeout, "probe timeout")
	return cmd
}

func unhealthyMessage(result health.AggregatedResult) string {
	var failed []string
	for _, c := range result.Checks {
		if c.Status != health.StatusHealthy {
			failed = append(failed, fmt.Sprintf("%s: %s", c.Name, c.Error))
		}
	}
	return "backend unhealthy: " + strings.Join(failed, "; ")
}

func (a *app) newServeCommand() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, readiness, version and metrics endpoints for the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			rt, err := a.newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := rt.close(); err == nil {
					err = closeErr
				}
			}()
			if strings.TrimSpace(addr) != "" {
				rt.cfg.Observability.MetricsAddr = addr
			}

			log := rt.log
			breaker := resilience.NewBreaker(breakerFailures, breakerCooldown, resilience.WithStateListener(func(from, to resilience.State) {
				log.Warn("readiness breaker changed state", "from", from.String(), "to", to.String())
			}))
			checker := health.NewPersistenceChecker(rt.cfg.Persistence.Backend, rt.backend, timeout, health.WithBreaker(breaker))
			rt.closeBackend = checker.Close
			registry := health.NewRegistry(health.WithObserver(metrics.ObserveHealthCheck))
			registry.Register(checker)

			mgmt := newManagementServer(rt, registry)
			if err := mgmt.Listen(); err != nil {
				return err
			}
			rt.log.Info("management server listening", "addr", mgmt.Addr(), "backend", rt.cfg.Persistence.Backend)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return mgmt.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to observability.metrics_addr)")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultHealthTimeout, "readiness probe timeout")
	return cmd
}
