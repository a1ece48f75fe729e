// Package mqttfeed is the push variant of the status source: it subscribes to
// printer report topics on an MQTT broker, merges the partial reports per
// printer, recomputes the normalized status on every message and keeps only
// the newest result.
package mqttfeed

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"bambuwatch/common/ws"
	"bambuwatch/server/status"
	"bambuwatch/server/storage"
)

const (
	DefaultBroker   = "ssl://us.mqtt.bambulab.com:8883"
	DefaultUsername = "bblp"

	defaultConnectTimeout = 15 * time.Second
	disconnectQuiesceMS   = 250
)

// Logger is the subset of the application logger used here.
type Logger interface {
	Debug(msg string, context ...interface{})
	Info(msg string, context ...interface{})
	Warn(msg string, context ...interface{})
	WarnRateLimited(key string, interval time.Duration, msg string, context ...interface{})
}

// Broadcaster fans a message out to websocket subscribers. *ws.Hub implements it.
type Broadcaster interface {
	Broadcast(msg ws.Message)
}

// PrinterSource supplies the configured printers. storage.Registry implements it.
type PrinterSource interface {
	List(ctx context.Context) ([]storage.Printer, error)
}

// Options configures a Feed.
type Options struct {
	Broker             string
	Username           string
	Password           string
	ClientID           string
	Serials            []string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
	Now                func() time.Time
}

// Snapshot is the latest normalized status and when it was computed.
type Snapshot struct {
	Status     status.NormalizedStatus `json:"status"`
	Serial     string                  `json:"serial"`
	ReceivedAt time.Time               `json:"receivedAt"`
}

// Feed owns the broker connection and the latest-snapshot cell.
type Feed struct {
	opts       Options
	normalizer *status.Normalizer
	printers   PrinterSource
	hub        Broadcaster
	log        Logger

	client mqtt.Client

	// mu guards devices and order.
	mu      sync.Mutex
	devices map[string]*deviceState
	order   []string

	latest   atomic.Pointer[Snapshot]
	received atomic.Int64
}

// New validates options and returns an unconnected Feed. hub may be nil.
func New(opts Options, normalizer *status.Normalizer, printers PrinterSource, hub Broadcaster, log Logger) (*Feed, error) {
	opts.Broker = strings.TrimSpace(opts.Broker)
	if opts.Broker == "" {
		opts.Broker = DefaultBroker
	}
	if opts.Username == "" {
		opts.Username = DefaultUsername
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	serials := make([]string, 0, len(opts.Serials))
	for _, s := range opts.Serials {
		if s = strings.TrimSpace(s); s != "" {
			serials = append(serials, s)
		}
	}
	if len(serials) == 0 {
		return nil, errors.New("mqtt feed: at least one printer serial is required")
	}
	opts.Serials = serials
	if opts.ClientID == "" {
		opts.ClientID = "bambuwatch-" + serials[0]
	}
	if normalizer == nil {
		return nil, errors.New("mqtt feed: normalizer is required")
	}
	if log == nil {
		log = nopLogger{}
	}

	return &Feed{
		opts:       opts,
		normalizer: normalizer,
		printers:   printers,
		hub:        hub,
		log:        log,
		devices:    make(map[string]*deviceState),
	}, nil
}

// Start connects to the broker. Subscriptions are (re)established on every
// connect, and paho reconnects automatically after connection loss.
func (f *Feed) Start(ctx context.Context) error {
	copts := mqtt.NewClientOptions().
		AddBroker(f.opts.Broker).
		SetClientID(f.opts.ClientID).
		SetUsername(f.opts.Username).
		SetPassword(f.opts.Password).
		SetOrderMatters(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(f.opts.ConnectTimeout).
		SetOnConnectHandler(f.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			f.log.Warn("MQTT connection lost", "broker", f.opts.Broker, "error", err)
			f.broadcastState("disconnected")
		}).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			f.log.Debug("MQTT reconnecting", "broker", f.opts.Broker)
		})
	if strings.HasPrefix(f.opts.Broker, "ssl://") || strings.HasPrefix(f.opts.Broker, "tls://") || strings.HasPrefix(f.opts.Broker, "mqtts://") {
		copts.SetTLSConfig(&tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: f.opts.InsecureSkipVerify, //nolint:gosec // printers on LAN brokers use self-signed certs
		})
	}

	f.client = mqtt.NewClient(copts)
	token := f.client.Connect()

	select {
	case <-token.Done():
	case <-time.After(f.opts.ConnectTimeout):
		return fmt.Errorf("mqtt connect to %s: timed out after %s", f.opts.Broker, f.opts.ConnectTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", f.opts.Broker, err)
	}
	return nil
}

// Stop disconnects from the broker.
func (f *Feed) Stop() {
	if f.client != nil {
		f.client.Disconnect(disconnectQuiesceMS)
	}
	f.log.Info("MQTT feed stopped")
}

// Connected reports whether the broker connection is up.
func (f *Feed) Connected() bool {
	return f.client != nil && f.client.IsConnectionOpen()
}

func (f *Feed) onConnect(c mqtt.Client) {
	filters := make(map[string]byte, len(f.opts.Serials))
	for _, serial := range f.opts.Serials {
		filters[reportTopic(serial)] = 0
	}
	token := c.SubscribeMultiple(filters, func(_ mqtt.Client, m mqtt.Message) {
		f.HandleMessage(m.Topic(), m.Payload())
	})
	if !token.WaitTimeout(f.opts.ConnectTimeout) {
		f.log.Warn("MQTT subscribe timed out", "topics", len(filters))
		return
	}
	if err := token.Error(); err != nil {
		f.log.Warn("MQTT subscribe failed", "error", err)
		return
	}
	f.log.Info("MQTT connected and subscribed", "broker", f.opts.Broker, "printers", len(filters))
	f.broadcastState("connected")
}

// HandleMessage merges one report, recomputes the status over all known
// printers and replaces the latest snapshot. Undecodable payloads are dropped.
func (f *Feed) HandleMessage(topic string, payload []byte) {
	serial, err := serialFromTopic(topic)
	if err != nil {
		f.log.WarnRateLimited("mqtt_topic", time.Minute, "Ignoring MQTT message", "topic", topic)
		return
	}
	r, ok := decodeReport(payload)
	if !ok {
		f.log.WarnRateLimited("mqtt_payload_"+serial, time.Minute, "Ignoring undecodable MQTT report", "serial", serial, "bytes", len(payload))
		return
	}

	now := f.opts.Now()
	configured := f.configured()
	names := make(map[string]string, len(configured))
	for _, p := range configured {
		names[p.Serial] = p.Name
	}

	f.mu.Lock()
	dev := f.devices[serial]
	if dev == nil {
		dev = &deviceState{serial: serial}
		f.devices[serial] = dev
		f.order = append(f.order, serial)
	}
	dev.merge(r, now)
	records := make([]status.RawDeviceRecord, 0, len(f.order))
	for _, s := range f.order {
		records = append(records, f.devices[s].record(names[s]))
	}
	f.mu.Unlock()

	snap := &Snapshot{
		Status:     f.normalizer.Compute(records, configured, ""),
		Serial:     serial,
		ReceivedAt: now,
	}
	f.latest.Store(snap)
	f.received.Add(1)

	if f.hub != nil {
		msg, err := ws.NewMessage(ws.MessageTypePrinterStatus, snap.Status)
		if err == nil {
			f.hub.Broadcast(msg)
		}
	}
}

// Latest returns the newest snapshot; ok is false until the first report.
func (f *Feed) Latest() (Snapshot, bool) {
	snap := f.latest.Load()
	if snap == nil {
		return Snapshot{}, false
	}
	return *snap, true
}

// Received returns the number of reports processed.
func (f *Feed) Received() int64 {
	return f.received.Load()
}

func (f *Feed) configured() []status.RegisteredPrinter {
	if f.printers == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	printers, err := f.printers.List(ctx)
	if err != nil {
		f.log.WarnRateLimited("mqtt_registry", time.Minute, "Failed to read printer registry", "error", err)
		return nil
	}
	return storage.Registered(printers)
}

func (f *Feed) broadcastState(state string) {
	if f.hub == nil {
		return
	}
	msg, err := ws.NewMessage(ws.MessageTypeFeedState, map[string]string{"state": state})
	if err == nil {
		f.hub.Broadcast(msg)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})                                  {}
func (nopLogger) Info(string, ...interface{})                                   {}
func (nopLogger) Warn(string, ...interface{})                                   {}
func (nopLogger) WarnRateLimited(string, time.Duration, string, ...interface{}) {}
