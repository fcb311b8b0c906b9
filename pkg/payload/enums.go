package payload

import "fmt"

// Profile selects the payload templates used for a device.
type Profile int

const (
	// ProfileDefault is the standard template set ("type_0a").
	ProfileDefault Profile = iota

	// ProfileLegacy is for devices that answer DP queries with
	// "data unvalid" ("type_0d"). Queries go out as control-new and
	// list the wanted DPs explicitly.
	ProfileLegacy

	// ProfileSessionKey is the protocol 3.4 template set ("v3.4").
	ProfileSessionKey
)

// String returns the profile name as used by Tuya tooling.
func (p Profile) String() string {
	switch p {
	case ProfileDefault:
		return "type_0a"
	case ProfileLegacy:
		return "type_0d"
	case ProfileSessionKey:
		return "v3.4"
	default:
		return fmt.Sprintf("Profile(%d)", int(p))
	}
}

// ParseProfile parses a profile name as returned by String.
func ParseProfile(s string) (Profile, error) {
	switch s {
	case "type_0a":
		return ProfileDefault, nil
	case "type_0d":
		return ProfileLegacy, nil
	case "v3.4":
		return ProfileSessionKey, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownProfile, s)
	}
}

// Field is one entry of a payload template.
type Field int

const (
	FieldGwID Field = iota
	FieldDevID
	FieldUID
	// FieldTime is the Unix time as a decimal string.
	FieldTime
	// FieldTimeInt is the Unix time as a JSON number.
	FieldTimeInt
	// FieldProtocol is the fixed protocol marker 5.
	FieldProtocol
	// FieldData wraps the request data as {"dps": data}.
	FieldData
	// FieldDPID carries a list of DP ids.
	FieldDPID
)

// Name returns the JSON key of the field.
func (f Field) Name() string {
	switch f {
	case FieldGwID:
		return "gwId"
	case FieldDevID:
		return "devId"
	case FieldUID:
		return "uid"
	case FieldTime, FieldTimeInt:
		return "t"
	case FieldProtocol:
		return "protocol"
	case FieldData:
		return "data"
	case FieldDPID:
		return "dpId"
	default:
		return ""
	}
}
