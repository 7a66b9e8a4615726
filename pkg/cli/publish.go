package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nimburion/mqttpersist/pkg/health"
	"github.com/nimburion/mqttpersist/pkg/mqttstore"
	"github.com/nimburion/mqttpersist/pkg/observability/logger"
	"github.com/nimburion/mqttpersist/pkg/observability/metrics"
	"github.com/nimburion/mqttpersist/pkg/server"
)

// MQTTClientFactory creates the MQTT client used by publish.
type MQTTClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

func defaultMQTTClientFactory(opts *mqtt.ClientOptions) mqtt.Client {
	return mqtt.NewClient(opts)
}

const disconnectQuiesceMillis = 250

type publishFlags struct {
	clientID string
	broker   string
	topic    string
	message  string
	qos      int
	retain   bool
	count    int
	rate     float64
	timeout  time.Duration
}

func (a *app) newPublishCommand() *cobra.Command {
	var f publishFlags
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish messages through an MQTT client whose in-flight state lives in the configured backend",
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

			if !cmd.Flags().Changed("qos") {
				f.qos = rt.cfg.MQTT.QoS
			}
			if f.qos < 0 || f.qos > 2 {
				return fmt.Errorf("qos must be 0, 1 or 2, got %d", f.qos)
			}
			if f.count < 1 {
				return fmt.Errorf("count must be at least 1, got %d", f.count)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runPublish(ctx, rt, f)
		},
	}

	cmd.Flags().StringVar(&f.clientID, "client-id", "", "MQTT client identifier (defaults to mqtt.client_id, then mqttpersist-<uuid>)")
	cmd.Flags().StringVar(&f.broker, "broker", "", "broker URI (defaults to mqtt.broker)")
	cmd.Flags().StringVarP(&f.topic, "topic", "t", "test", "topic to publish to")
	cmd.Flags().StringVarP(&f.message, "message", "m", "Hello world!", "message payload")
	cmd.Flags().IntVarP(&f.qos, "qos", "q", 1, "quality of service (defaults to mqtt.qos)")
	cmd.Flags().BoolVar(&f.retain, "retain", false, "set the retain flag")
	cmd.Flags().IntVarP(&f.count, "count", "n", 1, "number of messages to publish")
	cmd.Flags().Float64Var(&f.rate, "rate", 0, "maximum messages per second (0 for unlimited)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "per operation timeout (defaults to mqtt.connect_timeout)")
	return cmd
}

func (a *app) runPublish(ctx context.Context, rt *runtime, f publishFlags) error {
	mqttCfg := rt.cfg.MQTT
	broker := firstNonEmpty(f.broker, mqttCfg.Broker)
	clientID := firstNonEmpty(f.clientID, mqttCfg.ClientID, "mqttpersist-"+uuid.NewString())
	timeout := f.timeout
	if timeout <= 0 {
		timeout = mqttCfg.ConnectTimeout
	}
	log := rt.log.With("client_id", clientID, "broker", broker)

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetUsername(mqttCfg.Username).
		SetPassword(mqttCfg.Password).
		SetCleanSession(mqttCfg.CleanSession).
		SetKeepAlive(mqttCfg.KeepAlive).
		SetConnectTimeout(timeout).
		SetAutoReconnect(false).
		SetStore(mqttstore.New(rt.backend, clientID, broker, log))
	client := a.opts.MQTTClientFactory(opts)

	g, gctx := errgroup.WithContext(ctx)
	publishCtx, finished := context.WithCancel(gctx)
	defer finished()

	if rt.cfg.Observability.MetricsEnabled {
		mgmt := newManagementServer(rt, nil)
		if err := mgmt.Listen(); err != nil {
			return err
		}
		log.Info("serving metrics", "addr", mgmt.Addr())
		g.Go(func() error { return mgmt.Start(publishCtx) })
	}

	g.Go(func() error {
		defer finished()
		return publishMessages(publishCtx, client, f, timeout, log)
	})
	return g.Wait()
}

func publishMessages(ctx context.Context, client mqtt.Client, f publishFlags, timeout time.Duration, log logger.Logger) error {
	if err := waitToken(client.Connect(), timeout, "connect"); err != nil {
		return err
	}
	defer client.Disconnect(disconnectQuiesceMillis)
	log.Info("connected")

	limit := rate.Inf
	if f.rate > 0 {
		limit = rate.Limit(f.rate)
	}
	limiter := rate.NewLimiter(limit, 1)

	for i := 0; i < f.count; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("publish interrupted after %d messages: %w", i, err)
		}
		token := client.Publish(f.topic, byte(f.qos), f.retain, f.message)
		if err := waitToken(token, timeout, "publish"); err != nil {
			return fmt.Errorf("message %d: %w", i+1, err)
		}
	}
	log.Info("published", "topic", f.topic, "count", f.count, "qos", f.qos)
	return nil
}

func waitToken(token mqtt.Token, timeout time.Duration, op string) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%s timed out after %s", op, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	return nil
}

// newManagementServer serves metrics and build info on metrics_addr. A nil
// registry reports ready without checks.
func newManagementServer(rt *runtime, registry *health.Registry) *server.ManagementServer {
	return server.NewManagementServer(
		server.Config{Addr: rt.cfg.Observability.MetricsAddr},
		rt.log,
		registry,
		metrics.NewRegistry(),
		rt.info,
	)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
