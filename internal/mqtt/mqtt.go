// Package mqtt publishes plugin state to an MQTT broker.
package mqtt

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"
)

const (
	publishTimeout = 10 * time.Second
	statusOnline   = "online"
	statusOffline  = "offline"
)

// Publisher is the subset of Client that plugins depend on.
type Publisher interface {
	Topic(parts ...string) string
	PublishJSON(topic string, v any, retained bool) error
}

type Options struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
}

// Client is a connected publisher. It announces itself on <prefix>/status
// and leaves "offline" as its will.
type Client struct {
	client paho.Client
	prefix string
	log    logr.Logger
}

func Connect(opts Options, log logr.Logger) (*Client, error) {
	if opts.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	c := &Client{prefix: strings.Trim(opts.TopicPrefix, "/"), log: log.WithName("mqtt")}
	client := paho.NewClient(c.clientOptions(opts))
	if token := client.Connect(); token.WaitTimeout(publishTimeout) && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.Broker, token.Error())
	}
	c.client = client
	return c, nil
}

func (c *Client) clientOptions(opts Options) *paho.ClientOptions {
	clientID := opts.ClientID
	if clientID == "" {
		clientID = "gohome"
	}
	o := paho.NewClientOptions()
	o.AddBroker(opts.Broker)
	o.SetUsername(opts.Username)
	o.SetPassword(opts.Password)
	o.SetClientID(clientID + "-" + randomSuffix())
	o.SetAutoReconnect(true)
	o.SetConnectRetry(true)
	o.SetConnectTimeout(publishTimeout)
	o.SetWill(c.Topic("status"), statusOffline, 1, true)
	o.OnConnect = func(client paho.Client) {
		c.log.Info("connected", "broker", opts.Broker)
		client.Publish(c.Topic("status"), 1, true, statusOnline)
	}
	o.OnConnectionLost = func(_ paho.Client, err error) {
		c.log.Error(err, "connection lost", "broker", opts.Broker)
	}
	return o
}

// Topic joins parts under the configured prefix.
func (c *Client) Topic(parts ...string) string {
	all := make([]string, 0, len(parts)+1)
	if c.prefix != "" {
		all = append(all, c.prefix)
	}
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			all = append(all, p)
		}
	}
	return strings.Join(all, "/")
}

func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	token := c.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish %s: timeout", topic)
	}
	return token.Error()
}

func (c *Client) PublishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	return c.Publish(topic, payload, retained)
}

// Close marks the client offline and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.client.Publish(c.Topic("status"), 1, true, statusOffline).WaitTimeout(time.Second)
	c.client.Disconnect(250)
	return nil
}

func randomSuffix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
