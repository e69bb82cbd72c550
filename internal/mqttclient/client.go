package mqttclient

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const publishTimeout = 5 * time.Second

// TranscriptEvent announces a newly written transcript.
type TranscriptEvent struct {
	EventID   string    `json:"event_id"`
	Time      time.Time `json:"time"`
	Hash      string    `json:"hash"`
	Filename  string    `json:"filename"`
	VideoURL  string    `json:"video_url"`
	VTTURL    string    `json:"vtt_url"`
	Segments  int       `json:"segments"`
	Language  string    `json:"language,omitempty"`
	ModelSize string    `json:"model_size"`
}

type Client struct {
	conn      mqtt.Client
	topic     string
	connected atomic.Bool
	log       zerolog.Logger
}

type Options struct {
	BrokerURL string
	ClientID  string
	Topic     string
	Username  string
	Password  string
	Log       zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		topic: opts.Topic,
		log:   opts.Log.With().Str("component", "mqtt").Logger(),
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) onConnect(_ mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Str("topic", c.topic).Msg("mqtt connected")
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// PublishTranscript sends ev to {topic}/{hash} at QoS 1. The event id and
// time are filled in here.
func (c *Client) PublishTranscript(ev TranscriptEvent) error {
	ev = stamp(ev)
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	topic := c.topic + "/" + ev.Hash
	token := c.conn.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	c.log.Debug().Str("topic", topic).Str("event_id", ev.EventID).Msg("transcript event published")
	return nil
}

func stamp(ev TranscriptEvent) TranscriptEvent {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	return ev
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}
