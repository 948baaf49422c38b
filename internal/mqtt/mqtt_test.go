package mqtt

import (
	"strings"
	"testing"

	"github.com/go-logr/logr"
)

func TestTopic(t *testing.T) {
	c := &Client{prefix: "gohome/skyport/"}
	if got := c.Topic("dev-1", "state"); got != "gohome/skyport/dev-1/state" {
		t.Fatalf("topic = %q", got)
	}
	if got := c.Topic("/dev-1/", "", "event"); got != "gohome/skyport/dev-1/event" {
		t.Fatalf("topic = %q", got)
	}
	bare := &Client{}
	if got := bare.Topic("status"); got != "status" {
		t.Fatalf("topic = %q", got)
	}
}

func TestClientOptions(t *testing.T) {
	c := &Client{prefix: "gohome/skyport", log: logr.Discard()}
	opts := c.clientOptions(Options{
		Broker:   "tcp://broker.local:1883",
		Username: "user",
		Password: "pass",
		ClientID: "gohome-skyport",
	})

	if len(opts.Servers) != 1 || opts.Servers[0].Host != "broker.local:1883" {
		t.Fatalf("servers = %v", opts.Servers)
	}
	if !strings.HasPrefix(opts.ClientID, "gohome-skyport-") {
		t.Fatalf("client id = %q", opts.ClientID)
	}
	if !opts.WillEnabled || opts.WillTopic != "gohome/skyport/status" || string(opts.WillPayload) != "offline" || !opts.WillRetained {
		t.Fatalf("will = %v %q %q %v", opts.WillEnabled, opts.WillTopic, opts.WillPayload, opts.WillRetained)
	}
	if opts.Username != "user" || opts.Password != "pass" {
		t.Fatalf("credentials not set")
	}
}

func TestConnectRequiresBroker(t *testing.T) {
	if _, err := Connect(Options{}, logr.Discard()); err == nil {
		t.Fatalf("expected error without broker")
	}
}
