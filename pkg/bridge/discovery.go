package bridge

import (
	"encoding/json"

	"lesyd-bridge/pkg/discovery"
)

// BridgeVersion is stamped into every discovery document's origin.sw field.
// builder.BridgeBuilder.Build overwrites it with the WithVersion value;
// main.go passes its own link-time-stamped version through that setter.
var BridgeVersion = "dev"

func discoveryPayload(bridgeName string, meta discovery.DeviceMeta, present []string) ([]byte, error) {
	doc := discovery.Build(bridgeName, BridgeVersion, meta.WillTopic, meta, present)
	return json.Marshal(doc)
}
