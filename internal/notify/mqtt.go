package notify

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const publishTimeout = 5 * time.Second

// MQTT publishes each event on <topic>/<event kind>.
type MQTT struct {
	client mqtt.Client
	topic  string
}

func NewMQTT(url, topic string) (*MQTT, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(url)
	opts.SetClientID("nilmbench-" + time.Now().Format("20060102150405"))
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	if topic == "" {
		topic = "nilmbench/events"
	}
	return &MQTT{client: client, topic: topic}, nil
}

func (m *MQTT) Notify(ctx context.Context, e Event) error {
	data, err := e.Marshal()
	if err != nil {
		return err
	}
	token := m.client.Publish(m.topic+"/"+e.Kind, 1, false, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish %s: timed out", e.Kind)
	}
	return token.Error()
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
