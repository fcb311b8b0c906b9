// Package payload builds the JSON request payloads sent to Tuya devices.
//
// Each device profile has a template table mapping a command to the keys
// its payload carries and, for some commands, a different command code to
// use on the wire.
package payload

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/backkem/tuyalan/pkg/message"
)

// Payload is a generated request ready for encryption and framing.
type Payload struct {
	// Command is the command code to put on the wire.
	Command message.Command
	// Data is the compact JSON body, with every space removed.
	Data []byte
}

// Builder fills templates for one device.
type Builder struct {
	// DeviceID is used for gwId, devId and uid.
	DeviceID string

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Build generates the payload for command.
//
// data goes into dpId for update-DPS, into data.dps for templates with a
// data envelope, and into dps otherwise. When data is nil and a legacy
// profile builds a DP query, dps lists requestDPs with null values.
func (b Builder) Build(profile Profile, command message.Command, data any, requestDPs []string) (*Payload, error) {
	if b.DeviceID == "" {
		return nil, ErrEmptyDeviceID
	}

	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	ts := now().Unix()

	tmpl := Lookup(profile, command)

	var obj object
	for _, f := range tmpl.Fields {
		switch f {
		case FieldGwID, FieldDevID, FieldUID:
			obj.set(f.Name(), b.DeviceID)
		case FieldTime:
			obj.set(f.Name(), strconv.FormatInt(ts, 10))
		case FieldTimeInt:
			obj.set(f.Name(), ts)
		case FieldProtocol:
			obj.set(f.Name(), 5)
		case FieldData:
			obj.set(f.Name(), "")
		case FieldDPID:
			obj.set(f.Name(), UpdateDPSWhitelist())
		}
	}

	switch {
	case data != nil && tmpl.Has(FieldDPID):
		obj.set(FieldDPID.Name(), data)
	case data != nil && tmpl.Has(FieldData):
		obj.set(FieldData.Name(), object{{"dps", data}})
	case data != nil:
		obj.set("dps", data)
	case profile == ProfileLegacy && command == message.CommandDPQuery:
		obj.set("dps", nullDPs(requestDPs))
	}

	body, err := marshalCompact(obj)
	if err != nil {
		return nil, err
	}
	// Devices reject payloads containing spaces, including inside values.
	body = bytes.ReplaceAll(body, []byte(" "), nil)

	return &Payload{
		Command: tmpl.WireCommand(command),
		Data:    body,
	}, nil
}

// nullDPs returns {"<id>": null, ...} ordered by numeric id.
func nullDPs(ids []string) object {
	sorted := append([]string(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool {
		a, errA := strconv.Atoi(sorted[i])
		c, errC := strconv.Atoi(sorted[j])
		if errA == nil && errC == nil {
			return a < c
		}
		return sorted[i] < sorted[j]
	})

	obj := object{}
	for _, id := range sorted {
		obj.set(id, nil)
	}
	return obj
}

type member struct {
	key   string
	value any
}

// object is a JSON object that keeps insertion order.
type object []member

func (o *object) set(key string, value any) {
	for i := range *o {
		if (*o)[i].key == key {
			(*o)[i].value = value
			return
		}
	}
	*o = append(*o, member{key, value})
}

// MarshalJSON implements json.Marshaler.
func (o object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := marshalCompact(m.key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := marshalCompact(m.value)
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalCompact encodes v without HTML escaping or a trailing newline.
func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
