package mqtt

import (
	"strings"

	"github.com/nugget/envnode/internal/buildinfo"
)

// DeviceInfo holds the Home Assistant device registry fields shared
// across all discovery config payloads, so HA groups every entity of
// one node under a single device page.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

// SensorConfig is the JSON payload for an HA MQTT sensor discovery
// message. It is published (retained) on every broker (re-)connect.
type SensorConfig struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	AvailabilityTopic string     `json:"availability_topic"`
	Device            DeviceInfo `json:"device"`
	DeviceClass       string     `json:"device_class,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	StateClass        string     `json:"state_class,omitempty"`
	ValueTemplate     string     `json:"value_template,omitempty"`
}

// NewDeviceInfo returns the device block for the named node.
func NewDeviceInfo(nodeName string) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{buildinfo.Name + "_" + nodeName},
		Name:         nodeName,
		Manufacturer: buildinfo.Name,
		Model:        "DHT telemetry node",
		SWVersion:    buildinfo.Version,
	}
}

// DiscoveryMessage is one retained discovery config and its topic.
type DiscoveryMessage struct {
	Topic  string
	Config SensorConfig
}

type discoveryEntity struct {
	suffix, label, deviceClass, unit, field string
}

var discoveryEntities = []discoveryEntity{
	{"temperature", "Temperature", "temperature", "°C", "temperatureCelcius"},
	{"humidity", "Humidity", "humidity", "%", "humidityPercent"},
	{"heat_index", "Heat Index", "temperature", "°C", "heatIndexCelcius"},
}

// SensorIDFromTopic returns the third segment of a telemetry topic
// ("iot/home/A01/telemetry" yields "A01"), or "" when there is none.
func SensorIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// DiscoveryMessages builds the discovery configs for every telemetry
// topic. Topics without a sensor segment use the node name.
func DiscoveryMessages(prefix, nodeName, availabilityTopic string, telemetryTopics []string) []DiscoveryMessage {
	dev := NewDeviceInfo(nodeName)
	var out []DiscoveryMessage
	for _, topic := range telemetryTopics {
		sensorID := SensorIDFromTopic(topic)
		if sensorID == "" {
			sensorID = nodeName
		}
		id := strings.ToLower(sensorID)
		for _, e := range discoveryEntities {
			object := id + "_" + e.suffix
			out = append(out, DiscoveryMessage{
				Topic: prefix + "/sensor/" + nodeName + "/" + object + "/config",
				Config: SensorConfig{
					Name:              sensorID + " " + e.label,
					UniqueID:          nodeName + "_" + object,
					StateTopic:        topic,
					AvailabilityTopic: availabilityTopic,
					Device:            dev,
					DeviceClass:       e.deviceClass,
					UnitOfMeasurement: e.unit,
					StateClass:        "measurement",
					ValueTemplate:     "{{ value_json." + e.field + " }}",
				},
			})
		}
	}
	return out
}
