// Package notify publishes job lifecycle events to an MQTT broker for
// operational consumers (dashboards, alerting). The client-facing contract
// stays poll-based; nothing in the API depends on these events.
package notify

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type Publisher struct {
	conn mqtt.Client
	log  zerolog.Logger
}

type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	Log       zerolog.Logger
}

// Connect establishes the broker connection. Reconnects are automatic;
// events published while disconnected are dropped, which is acceptable for
// an advisory stream.
func Connect(opts Options) (*Publisher, error) {
	p := &Publisher{log: opts.Log}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	p.conn = mqtt.NewClient(clientOpts)
	token := p.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	opts.Log.Info().Str("broker", opts.BrokerURL).Msg("mqtt connected")
	return p, nil
}

// PublishJobEvent emits one job lifecycle event on scribed/jobs/{event}.
// Fire and forget: a publish failure is logged, never propagated.
func (p *Publisher) PublishJobEvent(event, referenceID string, payload map[string]any) {
	msg := map[string]any{
		"event":        event,
		"reference_id": referenceID,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range payload {
		msg[k] = v
	}

	data, err := json.Marshal(msg)
	if err != nil {
		p.log.Warn().Err(err).Msg("event marshal failed")
		return
	}

	token := p.conn.Publish("scribed/jobs/"+event, 0, false, data)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			p.log.Warn().Err(err).Str("event", event).Msg("event publish failed")
		}
	}()
}

// IsConnected reports the current broker connection state.
func (p *Publisher) IsConnected() bool {
	return p.conn.IsConnected()
}

func (p *Publisher) Close() {
	p.conn.Disconnect(250)
	p.log.Info().Msg("mqtt disconnected")
}
