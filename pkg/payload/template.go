package payload

import "github.com/backkem/tuyalan/pkg/message"

// Template describes the request payload for one command.
type Template struct {
	// Override, when non-zero, replaces the command code on the wire.
	Override message.Command

	// Fields lists the payload keys in output order. A nil slice means the
	// template only overrides the command and takes its fields from the
	// default profile.
	Fields []Field
}

// updateDPSWhitelist is the dpId list sent when update-DPS has no data.
var updateDPSWhitelist = []int{18, 19, 20}

// UpdateDPSWhitelist returns the DP ids known to be safe with update-DPS.
func UpdateDPSWhitelist() []int {
	return append([]int(nil), updateDPSWhitelist...)
}

var fallbackFields = []Field{FieldGwID, FieldDevID, FieldUID, FieldTime}

var templates = map[Profile]map[message.Command]Template{
	ProfileDefault: {
		message.CommandAPConfig:   {Fields: []Field{FieldGwID, FieldDevID, FieldUID, FieldTime}},
		message.CommandControl:    {Fields: []Field{FieldDevID, FieldUID, FieldTime}},
		message.CommandStatus:     {Fields: []Field{FieldGwID, FieldDevID}},
		message.CommandHeartbeat:  {Fields: []Field{FieldGwID, FieldDevID}},
		message.CommandDPQuery:    {Fields: []Field{FieldGwID, FieldDevID, FieldUID, FieldTime}},
		message.CommandControlNew: {Fields: []Field{FieldDevID, FieldUID, FieldTime}},
		message.CommandDPQueryNew: {Fields: []Field{FieldDevID, FieldUID, FieldTime}},
		message.CommandUpdateDPS:  {Fields: []Field{FieldDPID}},
	},
	ProfileLegacy: {
		message.CommandDPQuery: {
			Override: message.CommandControlNew,
			Fields:   []Field{FieldDevID, FieldUID, FieldTime},
		},
	},
	ProfileSessionKey: {
		message.CommandControl: {
			Override: message.CommandControlNew,
			Fields:   []Field{FieldProtocol, FieldTimeInt, FieldData},
		},
		message.CommandDPQuery: {Override: message.CommandDPQueryNew},
	},
}

// Lookup resolves the template for command under profile. Entries missing
// from the profile fall back to the default profile, and commands unknown
// everywhere get {gwId, devId, uid, t}.
func Lookup(profile Profile, command message.Command) Template {
	t := templates[profile][command]

	if profile != ProfileDefault {
		def := templates[ProfileDefault][command]
		if t.Fields == nil {
			t.Fields = def.Fields
		}
		if t.Override == 0 {
			t.Override = def.Override
		}
	}

	if t.Fields == nil {
		t.Fields = fallbackFields
	}
	return t
}

// WireCommand returns the command code sent on the wire for command.
func (t Template) WireCommand(command message.Command) message.Command {
	if t.Override != 0 {
		return t.Override
	}
	return command
}

// Has reports whether the template contains f.
func (t Template) Has(f Field) bool {
	for _, x := range t.Fields {
		if x == f {
			return true
		}
	}
	return false
}
