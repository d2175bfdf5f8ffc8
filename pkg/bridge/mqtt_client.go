package bridge

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"lesyd-bridge/pkg/config"
	"lesyd-bridge/pkg/logger"
)

// MQTTClient is the narrow seam the bridge drives a broker connection
// through. It exists so device/bridge logic never imports paho directly,
// mirroring the teacher's GatewayInterface dependency-injection seam.
type MQTTClient interface {
	Connect() error
	Disconnect()
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// pahoClient adapts paho.mqtt.golang to MQTTClient. Connection and
// disconnection events are reported to the bridge only through the two
// callbacks supplied at construction — neither callback may touch engine
// state directly, only enqueue (enforced by the bridge, not this type).
type pahoClient struct {
	client paho.Client
}

// NewPahoClient builds an MQTTClient for one endpoint. onConnect/onLost run
// on paho's internal I/O goroutine; callers must only enqueue from them.
func NewPahoClient(name string, ep config.Endpoint, onConnect func(), onLost func(error)) MQTTClient {
	scheme := "tcp"
	switch ep.Transport {
	case "websocket":
		scheme = "ws"
	case "unix":
		scheme = "unix"
	}
	if ep.TLS != nil && ep.TLS.Enabled {
		if scheme == "tcp" {
			scheme = "ssl"
		} else if scheme == "ws" {
			scheme = "wss"
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, ep.Hostname, ep.Port))
	opts.SetClientID("lesyd-bridge_" + name)
	opts.SetUsername(ep.Username)
	opts.SetPassword(ep.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(paho.Client) {
		logger.LogInfo("%s: connected", name)
		onConnect()
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.LogWarn("%s: connection lost: %v", name, err)
		onLost(err)
	})

	return &pahoClient{client: paho.NewClient(opts)}
}

func (c *pahoClient) Connect() error {
	token := c.client.Connect()
	token.Wait()
	return token.Error()
}

func (c *pahoClient) Disconnect() {
	c.client.Disconnect(250)
}

func (c *pahoClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()
	return token.Error()
}

func (c *pahoClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	token := c.client.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	return token.Error()
}

func (c *pahoClient) IsConnected() bool {
	return c.client.IsConnected()
}
