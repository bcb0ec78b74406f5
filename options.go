package mqtt

import (
	"fmt"
	"time"

	"github.com/golang-io/mqtt/packet"
	"github.com/golang-io/requests"
)

// Listen describes one network endpoint the broker accepts connections
// on, optionally with a TLS certificate pair.
type Listen struct {
	URL      string `json:"url"`
	CertFile string `json:"certFile"`
	KeyFile  string `json:"keyFile"`
}

// Config is the broker's runtime configuration (§6): listen endpoints,
// credentials, and the per-session limits the CSM and router enforce.
// Loaded from JSON exactly as the teacher's cmd/mqtt-server/main.go
// does, with the flag-supplied path.
type config struct {
	HTTP       Listen            `json:"HTTP"`
	MQTT       Listen            `json:"MQTT"`
	MQTTs      Listen            `json:"MQTTs"`
	WebSocket  Listen            `json:"Websocket"`
	WebSockets Listen            `json:"Websockets"`
	Auth       map[string]string `json:"Auth"`

	// MaximumKeepAlive caps the raw keep-alive seconds a CONNECT
	// requests (§3.1.2.10, §6); exceeding it overrides the negotiated
	// value and echoes the cap back via the CONNACK server-keep-alive
	// property. Zero means no cap.
	MaximumKeepAlive time.Duration `json:"-"`
	MaximumKeepAliveSeconds uint16 `json:"MaximumKeepAliveSeconds"`

	// MaximumPacketSize bounds the size of any single incoming packet;
	// zero means no broker-side limit beyond the wire format's own VBI
	// bound.
	MaximumPacketSize uint32 `json:"MaximumPacketSize"`

	// MaximumInflightPerSession bounds how many QoS 1 packet
	// identifiers a session may have outstanding at once.
	MaximumInflightPerSession int `json:"MaximumInflightPerSession"`

	// MaximumQueuedQoS1PerSession bounds how many QoS 1 messages are
	// held for an offline session before the oldest is dropped.
	MaximumQueuedQoS1PerSession int `json:"MaximumQueuedQoS1PerSession"`

	// SessionExpiry is used when a CONNECT's Session Expiry Interval
	// property is absent (MQTT 3.1.1 has no such property at all).
	SessionExpiry time.Duration `json:"-"`
	SessionExpirySeconds uint32 `json:"SessionExpirySeconds"`

	// SessionExpiryCap bounds any session-expiry interval a client
	// requests, however long it asks for.
	SessionExpiryCap time.Duration `json:"-"`
	SessionExpiryCapSeconds uint32 `json:"SessionExpiryCapSeconds"`

	// DispatcherConcurrency bounds how many session mailboxes the
	// actor dispatcher drains concurrently (§4.6); zero defaults to
	// GOMAXPROCS at NewServer time.
	DispatcherConcurrency int64 `json:"DispatcherConcurrency"`
}

func (c *config) GetAuth(username string) (string, bool) {
	password, ok := c.Auth[username]
	return password, ok
}

// defaultConfig returns the broker's baked-in limits, applied whenever
// a loaded JSON config leaves a field at its zero value.
func defaultConfig() *config {
	return &config{
		Auth: map[string]string{
			"":     "",
			"root": "admin",
		},
		MaximumKeepAlive:            600 * time.Second,
		MaximumPacketSize:           256 * 1024 * 1024,
		MaximumInflightPerSession:   20,
		MaximumQueuedQoS1PerSession: 1000,
		SessionExpiry:               0,
		SessionExpiryCap:            24 * time.Hour,
	}
}

// applySeconds folds the JSON-friendly *Seconds fields (encoding/json
// has no time.Duration support) into their time.Duration counterparts
// after unmarshaling.
func (c *config) applySeconds() {
	if c.MaximumKeepAliveSeconds > 0 {
		c.MaximumKeepAlive = time.Duration(c.MaximumKeepAliveSeconds) * time.Second
	}
	if c.SessionExpirySeconds > 0 {
		c.SessionExpiry = time.Duration(c.SessionExpirySeconds) * time.Second
	}
	if c.SessionExpiryCapSeconds > 0 {
		c.SessionExpiryCap = time.Duration(c.SessionExpiryCapSeconds) * time.Second
	}
}

// CONFIG is the process-wide broker configuration, populated by
// cmd/mqtt-server/main.go from a JSON file before NewServer is called.
var CONFIG = defaultConfig()

// Options configures an outbound connection made by this package's
// helpers (tests and internal tooling dial the broker the same way a
// real client would, speaking the wire protocol directly rather than
// through a separate client package, per this module's broker-only
// scope).
type Options struct {
	URL           string
	ClientID      string
	Version       byte
	Subscriptions []packet.Subscription
}

type Option func(*Options)

func newOptions(opts ...Option) Options {
	options := Options{
		URL:      "mqtt://127.0.0.1:1883",
		ClientID: "mqtt-" + requests.GenId(),
		Version:  packet.VERSION500,
	}
	for _, o := range opts {
		o(&options)
	}
	return options
}

func URL(url string) Option {
	return func(o *Options) {
		o.URL = url
	}
}

func Subscription(subscription ...packet.Subscription) Option {
	return func(o *Options) {
		o.Subscriptions = append(o.Subscriptions, subscription...)
	}
}

func Version[T ~string | ~byte](version T) Option {
	return func(o *Options) {
		switch v := any(version).(type) {
		case byte:
			o.Version = v
		case string:
			switch v {
			case "5.0.0":
				o.Version = packet.VERSION500
			case "3.1.1":
				o.Version = packet.VERSION311
			default:
				panic(fmt.Errorf("version = %s not support", v))
			}
		}
	}
}
