package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"lift-control-core/utils"
)

// Severity orders alerts for display.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// Notifier is told whenever an alert changes state.
type Notifier interface {
	Notify(a *Alert)
}

// Alert is a persistent, visible condition. It notifies only on transitions.
type Alert struct {
	name     string
	text     string
	severity Severity
	active   bool
	since    time.Time
	notifier Notifier
	clk      clock.Clock
}

// NewAlert starts inactive. notifier may be nil; a nil clk stamps transitions with wall time.
func NewAlert(name, text string, severity Severity, notifier Notifier, clk clock.Clock) *Alert {
	if clk == nil {
		clk = clock.New()
	}
	return &Alert{name: name, text: text, severity: severity, notifier: notifier, clk: clk}
}

func (a *Alert) Name() string       { return a.name }
func (a *Alert) Text() string       { return a.text }
func (a *Alert) Severity() Severity { return a.severity }
func (a *Alert) Active() bool       { return a.active }
func (a *Alert) Since() time.Time   { return a.since }

// Set updates the alert and reports whether its state changed.
func (a *Alert) Set(active bool) bool {
	if a.active == active {
		return false
	}
	a.active = active
	a.since = a.clk.Now()
	if a.notifier != nil {
		a.notifier.Notify(a)
	}
	return true
}

// LogNotifier logs raised alerts at their severity and cleared alerts at info.
type LogNotifier struct {
	log *utils.Logger
}

func NewLogNotifier(log *utils.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("alerts")}
}

func (n *LogNotifier) Notify(a *Alert) {
	if !a.Active() {
		n.log.Info("cleared: %s", a.Text())
		return
	}
	switch a.Severity() {
	case Error:
		n.log.Error("%s", a.Text())
	case Warning:
		n.log.Warn("%s", a.Text())
	default:
		n.log.Info("%s", a.Text())
	}
}

// Notifiers fans a transition out to several notifiers.
type Notifiers []Notifier

func (ns Notifiers) Notify(a *Alert) {
	for _, n := range ns {
		n.Notify(a)
	}
}

const (
	defaultMQTTConnectTimeout = 10 * time.Second
	defaultMQTTKeepAlive      = 60 * time.Second
	alertQoS                  = 1
)

// MQTTConfig maps to the telemetry.mqtt section of the config file.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // e.g. tcp://10.0.0.2:1883
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// mqttPublisher is the part of the paho client the notifier uses.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

type alertPayload struct {
	Name     string `json:"name"`
	Text     string `json:"text"`
	Severity string `json:"severity"`
	Active   bool   `json:"active"`
	Since    string `json:"since"`
}

// MQTTNotifier publishes retained JSON alert states to <prefix>/alerts/<name>.
type MQTTNotifier struct {
	client mqttPublisher
	prefix string
	log    *utils.Logger

	mu   sync.Mutex
	conn pahomqtt.Client
}

// ConnectMQTT connects to the broker with auto-reconnect enabled.
func ConnectMQTT(cfg MQTTConfig, log *utils.Logger) (*MQTTNotifier, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultMQTTConnectTimeout)
	opts.SetKeepAlive(defaultMQTTKeepAlive)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultMQTTConnectTimeout) {
		return nil, errors.Errorf("mqtt connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "mqtt connect to %s", cfg.Broker)
	}

	n := newMQTTNotifier(client, cfg.TopicPrefix, log)
	n.conn = client
	return n, nil
}

func newMQTTNotifier(client mqttPublisher, prefix string, log *utils.Logger) *MQTTNotifier {
	if prefix == "" {
		prefix = "lift"
	}
	return &MQTTNotifier{client: client, prefix: strings.TrimSuffix(prefix, "/"), log: log.Named("mqtt")}
}

// Topic returns where alert name is published.
func (n *MQTTNotifier) Topic(name string) string {
	return fmt.Sprintf("%s/alerts/%s", n.prefix, name)
}

// Notify publishes without waiting for the broker; failures are logged from the token callback.
func (n *MQTTNotifier) Notify(a *Alert) {
	payload, err := json.Marshal(alertPayload{
		Name:     a.Name(),
		Text:     a.Text(),
		Severity: a.Severity().String(),
		Active:   a.Active(),
		Since:    a.Since().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		n.log.Error("encode alert %s: %v", a.Name(), err)
		return
	}
	topic := n.Topic(a.Name())
	token := n.client.Publish(topic, alertQoS, true, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			n.log.Warn("publish %s: %v", topic, err)
		}
	}()
}

// Close disconnects from the broker, letting in-flight publishes finish.
func (n *MQTTNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		n.conn.Disconnect(250)
		n.conn = nil
	}
	return nil
}
