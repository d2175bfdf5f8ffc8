package bridge

import (
	"strings"

	"lesyd-bridge/pkg/device"
)

// deviceEntry bundles one configured device's engine with the topic
// strings the bridge needs to route messages and perform publishes.
type deviceEntry struct {
	engine *device.Engine

	dataTopic   string // sydpower: <MAC>/device/response/client/data
	input04     string // sydpower: <MAC>/device/response/client/04
	stateSig    string // sydpower: <MAC>/device/response/state
	statusTopic string // client: <bridge>/<device>/status
	setPrefix   string // client: <bridge>/<device>/state/set/
}

type topicKey struct {
	transport device.Transport
	topic     string
}

// router dispatches an exact-match inbound message to the owning device.
// Command topics are matched separately by prefix (lookupCommand) since the
// field name is embedded in the topic's trailing segment.
type router struct {
	exact   map[topicKey]*deviceEntry
	devices []*deviceEntry
}

func newRouter() *router {
	return &router{exact: make(map[topicKey]*deviceEntry)}
}

func (r *router) add(d *deviceEntry) {
	r.devices = append(r.devices, d)
	r.exact[topicKey{device.TransportSydpower, d.dataTopic}] = d
	r.exact[topicKey{device.TransportSydpower, d.input04}] = d
	r.exact[topicKey{device.TransportSydpower, d.stateSig}] = d
	r.exact[topicKey{device.TransportClient, d.statusTopic}] = d
}

func (r *router) lookup(transport device.Transport, topic string) (*deviceEntry, bool) {
	d, ok := r.exact[topicKey{transport, topic}]
	return d, ok
}

// lookupCommand matches a client-broker command topic against every
// device's state/set/ prefix and returns the trailing field name.
func (r *router) lookupCommand(topic string) (*deviceEntry, string, bool) {
	for _, d := range r.devices {
		if strings.HasPrefix(topic, d.setPrefix) {
			return d, strings.TrimPrefix(topic, d.setPrefix), true
		}
	}
	return nil, "", false
}
