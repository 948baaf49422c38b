package skyport

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"

	"github.com/joshp123/gohome-skyport/internal/mqtt"
)

const pollTimeout = 30 * time.Second

// Poller publishes retained thermostat state to MQTT on a cron schedule.
type Poller struct {
	client    *Client
	publisher mqtt.Publisher
	cron      *cron.Cron
	log       logr.Logger
}

func NewPoller(client *Client, publisher mqtt.Publisher, spec string, log logr.Logger) (*Poller, error) {
	log = log.WithName("poller")
	p := &Poller{
		client:    client,
		publisher: publisher,
		log:       log,
		cron: cron.New(
			cron.WithLogger(log),
			cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
		),
	}
	if _, err := p.cron.AddFunc(spec, p.run); err != nil {
		return nil, fmt.Errorf("poll schedule %q: %w", spec, err)
	}
	return p, nil
}

func (p *Poller) Start() {
	p.cron.Start()
}

// Stop waits for a running poll to finish.
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
}

func (p *Poller) run() {
	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	defer cancel()
	if err := p.Poll(ctx); err != nil {
		p.log.Error(err, "poll failed")
	}
}

// Poll publishes <prefix>/<device>/state and <prefix>/<device>/sensors for every thermostat.
func (p *Poller) Poll(ctx context.Context) error {
	thermostats, err := p.client.Thermostats(ctx)
	if err != nil {
		return err
	}
	for _, t := range thermostats {
		if err := p.publisher.PublishJSON(p.publisher.Topic(t.ID, "state"), t.Data, true); err != nil {
			return err
		}
		if err := p.publisher.PublishJSON(p.publisher.Topic(t.ID, "sensors"), Sensors(t), true); err != nil {
			return err
		}
	}
	p.log.V(1).Info("published thermostat state", "count", len(thermostats))
	return nil
}
