package settings

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

const (
	DefaultHostname          = "envnode"
	DefaultSamplesPerPublish = 3
	DefaultPublishInterval   = 60000 // ms

	// Stored values must exceed these.
	MinSamplesPerPublish = 3
	MinPublishInterval   = 1000 // ms

	flagSet    byte = 0x09
	flagNotSet byte = 0x00
)

// Slot widths in bytes. Strings hold at most width-1 bytes plus a NUL.
const (
	hostnameLen    = 32
	ssidLen        = 32
	ssidPwdLen     = 64
	mqttServerLen  = 16
	mqttUserLen    = 16
	mqttPwdLen     = 32
	nwsStationLen  = 6
	samplesLen     = 1
	intervalLen    = 4
	flagLen        = 1
	fieldCount     = 9
	stringSlotsLen = hostnameLen + ssidLen + ssidPwdLen + mqttServerLen + mqttUserLen + mqttPwdLen + nwsStationLen

	// RecordSize is the encoded length of a Record.
	RecordSize = stringSlotsLen + samplesLen + intervalLen + fieldCount*flagLen
)

var ErrCorrupt = errors.New("settings: corrupt record")

// Record is the device configuration. Absent fields fall back to compiled-in
// defaults through the accessor methods.
type Record struct {
	Hostname          Optional[string]
	SSID              Optional[string]
	SSIDPassword      Optional[string]
	MQTTServer        Optional[string]
	MQTTUser          Optional[string]
	MQTTPassword      Optional[string]
	SamplesPerPublish Optional[uint8]
	PublishInterval   Optional[uint32]
	NWSStation        Optional[string]
}

// Defaults is the wiped record.
func Defaults() Record { return Record{} }

func (r Record) Name() string { return r.Hostname.Or(DefaultHostname) }

// StationMode reports whether the node should try to join a network.
func (r Record) StationMode() bool { return r.SSID.IsSet() }

func (r Record) Samples() int {
	return int(r.SamplesPerPublish.Or(DefaultSamplesPerPublish))
}

func (r Record) Interval() time.Duration {
	return time.Duration(r.PublishInterval.Or(DefaultPublishInterval)) * time.Millisecond
}

// Cadence is the gap between two raw sensor reads.
func (r Record) Cadence() time.Duration {
	return r.Interval() / time.Duration(r.Samples())
}

// Fields is what a caller submits to Save. Every field is considered on each
// save: an empty string or an out-of-range number clears the field.
type Fields struct {
	Hostname          string
	SSID              string
	SSIDPassword      string
	MQTTServer        string
	MQTTUser          string
	MQTTPassword      string
	SamplesPerPublish int
	PublishInterval   int
	NWSStation        string
}

// FromFields computes every flag from scratch.
func FromFields(f Fields) Record {
	return Record{
		Hostname:          optString(f.Hostname, hostnameLen),
		SSID:              optString(f.SSID, ssidLen),
		SSIDPassword:      optString(f.SSIDPassword, ssidPwdLen),
		MQTTServer:        optString(f.MQTTServer, mqttServerLen),
		MQTTUser:          optString(f.MQTTUser, mqttUserLen),
		MQTTPassword:      optString(f.MQTTPassword, mqttPwdLen),
		SamplesPerPublish: optSamples(f.SamplesPerPublish),
		PublishInterval:   optInterval(int64(f.PublishInterval)),
		NWSStation:        optString(f.NWSStation, nwsStationLen),
	}
}

func optString(s string, width int) Optional[string] {
	s = fit(s, width-1)
	if s == "" {
		return None[string]()
	}
	return Some(s)
}

func optSamples(n int) Optional[uint8] {
	if n <= MinSamplesPerPublish || n > 0xFF {
		return None[uint8]()
	}
	return Some(uint8(n))
}

func optInterval(ms int64) Optional[uint32] {
	if ms <= MinPublishInterval || ms > 0xFFFFFFFF {
		return None[uint32]()
	}
	return Some(uint32(ms))
}

// fit truncates s to max bytes without splitting a rune and drops anything
// after an embedded NUL.
func fit(s string, max int) string {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			s = s[:i]
			break
		}
	}
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// Encode lays the record out as (flag, value) pairs. Unset string slots are
// zeroed; unset numeric slots carry their defaults.
func (r Record) Encode() []byte {
	buf := make([]byte, 0, RecordSize)
	buf = putString(buf, r.Hostname, hostnameLen)
	buf = putString(buf, r.SSID, ssidLen)
	buf = putString(buf, r.SSIDPassword, ssidPwdLen)
	buf = putString(buf, r.MQTTServer, mqttServerLen)
	buf = putString(buf, r.MQTTUser, mqttUserLen)
	buf = putString(buf, r.MQTTPassword, mqttPwdLen)

	buf = append(buf, flagOf(r.SamplesPerPublish.IsSet()), r.SamplesPerPublish.Or(DefaultSamplesPerPublish))

	buf = append(buf, flagOf(r.PublishInterval.IsSet()))
	buf = binary.LittleEndian.AppendUint32(buf, r.PublishInterval.Or(DefaultPublishInterval))

	buf = putString(buf, r.NWSStation, nwsStationLen)
	return buf
}

func flagOf(set bool) byte {
	if set {
		return flagSet
	}
	return flagNotSet
}

func putString(buf []byte, o Optional[string], width int) []byte {
	v, ok := o.Get()
	buf = append(buf, flagOf(ok))
	slot := make([]byte, width)
	if ok {
		copy(slot, fit(v, width-1))
	}
	return append(buf, slot...)
}

// Decode reads an encoded record. Any flag other than SET means absent, and
// the bytes under it are ignored. Set values that could never have been
// saved are treated as absent too.
func Decode(b []byte) (Record, error) {
	if len(b) < RecordSize {
		return Record{}, fmt.Errorf("%w: %d bytes, want %d", ErrCorrupt, len(b), RecordSize)
	}
	d := decoder{b: b}
	var r Record
	r.Hostname = d.str(hostnameLen)
	r.SSID = d.str(ssidLen)
	r.SSIDPassword = d.str(ssidPwdLen)
	r.MQTTServer = d.str(mqttServerLen)
	r.MQTTUser = d.str(mqttUserLen)
	r.MQTTPassword = d.str(mqttPwdLen)

	if set, raw := d.slot(samplesLen); set {
		r.SamplesPerPublish = optSamples(int(raw[0]))
	}
	if set, raw := d.slot(intervalLen); set {
		r.PublishInterval = optInterval(int64(binary.LittleEndian.Uint32(raw)))
	}

	r.NWSStation = d.str(nwsStationLen)
	return r, nil
}

type decoder struct {
	b   []byte
	off int
}

func (d *decoder) slot(width int) (bool, []byte) {
	set := d.b[d.off] == flagSet
	raw := d.b[d.off+1 : d.off+1+width]
	d.off += 1 + width
	return set, raw
}

func (d *decoder) str(width int) Optional[string] {
	set, raw := d.slot(width)
	if !set {
		return None[string]()
	}
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}
	return optString(string(raw[:n]), width)
}
