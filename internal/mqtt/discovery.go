package mqtt

import (
	"fmt"
	"strconv"

	"github.com/iancoleman/strcase"

	"envnode/internal/sampling"
)

// entity is one Home Assistant sensor exposed by the node.
type entity struct {
	Name        string
	DeviceClass string
	Unit        string
	Icon        string
	Precision   int
	value       func(r sampling.Result) *float64
}

func (e entity) objectID() string { return strcase.ToSnake(e.Name) }

var entities = []entity{
	{Name: "Temperature", DeviceClass: "temperature", Unit: "°F", Precision: 2, value: func(r sampling.Result) *float64 { return r.Temperature }},
	{Name: "Humidity", DeviceClass: "humidity", Unit: "%", Precision: 2, value: func(r sampling.Result) *float64 { return r.Humidity }},
	{Name: "Altitude", Icon: "mdi:waves-arrow-up", Unit: "m", Precision: 1, value: func(r sampling.Result) *float64 { return r.Altitude }},
	{Name: "Barometer", DeviceClass: "atmospheric_pressure", Unit: "inHg", Precision: 3, value: func(r sampling.Result) *float64 { return r.Pressure }},
	{Name: "RSSI", DeviceClass: "signal_strength", Unit: "dB", Precision: 2, value: func(r sampling.Result) *float64 { return r.Signal }},
	{Name: "Sea Level Pressure", DeviceClass: "atmospheric_pressure", Unit: "hPa", Precision: 2, value: func(r sampling.Result) *float64 { return r.SeaLevel }},
}

// ipEntity is the text sensor carrying the node's address.
var ipEntity = entity{Name: "IP Address", Icon: "mdi:ip-network"}

type deviceDoc struct {
	Identifiers  []string `json:"ids"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"mf,omitempty"`
	Model        string   `json:"mdl,omitempty"`
	SWVersion    string   `json:"sw,omitempty"`
}

type configDoc struct {
	Name              string    `json:"name"`
	UniqueID          string    `json:"uniq_id"`
	StateTopic        string    `json:"stat_t"`
	AvailabilityTopic string    `json:"avty_t"`
	DeviceClass       string    `json:"dev_cla,omitempty"`
	Unit              string    `json:"unit_of_meas,omitempty"`
	Icon              string    `json:"ic,omitempty"`
	Precision         *int      `json:"sug_dsp_prc,omitempty"`
	StateClass        string    `json:"stat_cla,omitempty"`
	Device            deviceDoc `json:"dev"`
}

// topics for one device uid.
type topics struct {
	uid string
}

func (t topics) config(e entity) string {
	return fmt.Sprintf("homeassistant/sensor/%s/%s/config", t.uid, e.objectID())
}

func (t topics) state(e entity) string {
	return fmt.Sprintf("aha/%s/%s/stat_t", t.uid, e.objectID())
}

func (t topics) availability() string {
	return fmt.Sprintf("aha/%s/avty_t", t.uid)
}

func (t topics) document(e entity, dev deviceDoc) configDoc {
	doc := configDoc{
		Name:              e.Name,
		UniqueID:          t.uid + "_" + e.objectID(),
		StateTopic:        t.state(e),
		AvailabilityTopic: t.availability(),
		DeviceClass:       e.DeviceClass,
		Unit:              e.Unit,
		Icon:              e.Icon,
		Device:            dev,
	}
	if e.value != nil {
		p := e.Precision
		doc.Precision = &p
		doc.StateClass = "measurement"
	}
	return doc
}

func formatValue(v float64, precision int) string {
	return strconv.FormatFloat(v, 'f', precision, 64)
}
