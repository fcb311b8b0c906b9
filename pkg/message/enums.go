// Package message implements Tuya LAN message framing.
//
// Every frame on the wire is big-endian:
//
//	prefix(4) seq(4) cmd(4) length(4) [retcode(4)] payload checksum suffix(4)
//
// The prefix is always 0x000055AA and the suffix 0x0000AA55. The checksum is a
// CRC32 over header and payload, or an HMAC-SHA256 over the same span for
// protocol 3.4. Frames sent by a device carry a return code after the header;
// frames sent to a device do not.
package message

import "fmt"

// Command identifies the frame type (FRM_* in the Tuya SDK).
type Command uint32

// Command codes, from lan_protocol.h in the Tuya embedded SDK.
const (
	CommandAPConfig         Command = 0x01 // only used for AP 3.0 network config
	CommandActive           Command = 0x02
	CommandSessKeyNegStart  Command = 0x03
	CommandSessKeyNegResp   Command = 0x04
	CommandSessKeyNegFinish Command = 0x05
	CommandUnbind           Command = 0x06
	CommandControl          Command = 0x07
	CommandStatus           Command = 0x08
	CommandHeartbeat        Command = 0x09
	CommandDPQuery          Command = 0x0A
	CommandQueryWifi        Command = 0x0B
	CommandTokenBind        Command = 0x0C
	CommandControlNew       Command = 0x0D
	CommandEnableWifi       Command = 0x0E
	CommandWifiInfo         Command = 0x0F
	CommandDPQueryNew       Command = 0x10
	CommandSceneExecute     Command = 0x11
	CommandUpdateDPS        Command = 0x12
	CommandUDPNew           Command = 0x13
	CommandAPConfigNew      Command = 0x14
	CommandBroadcastLPV34   Command = 0x23
	CommandLanExtStream     Command = 0x40
)

// String returns a human-readable name for the command.
func (c Command) String() string {
	switch c {
	case CommandAPConfig:
		return "APConfig"
	case CommandActive:
		return "Active"
	case CommandSessKeyNegStart:
		return "SessKeyNegStart"
	case CommandSessKeyNegResp:
		return "SessKeyNegResp"
	case CommandSessKeyNegFinish:
		return "SessKeyNegFinish"
	case CommandUnbind:
		return "Unbind"
	case CommandControl:
		return "Control"
	case CommandStatus:
		return "Status"
	case CommandHeartbeat:
		return "Heartbeat"
	case CommandDPQuery:
		return "DPQuery"
	case CommandQueryWifi:
		return "QueryWifi"
	case CommandTokenBind:
		return "TokenBind"
	case CommandControlNew:
		return "ControlNew"
	case CommandEnableWifi:
		return "EnableWifi"
	case CommandWifiInfo:
		return "WifiInfo"
	case CommandDPQueryNew:
		return "DPQueryNew"
	case CommandSceneExecute:
		return "SceneExecute"
	case CommandUpdateDPS:
		return "UpdateDPS"
	case CommandUDPNew:
		return "UDPNew"
	case CommandAPConfigNew:
		return "APConfigNew"
	case CommandBroadcastLPV34:
		return "BroadcastLPV34"
	case CommandLanExtStream:
		return "LanExtStream"
	default:
		return fmt.Sprintf("Command(0x%02X)", uint32(c))
	}
}

// HasProtocolHeader reports whether the "3.x" version header is placed in
// front of the encrypted payload for this command (protocols 3.2 and up).
// Queries, heartbeats and the session-key handshake go without it.
func (c Command) HasProtocolHeader() bool {
	switch c {
	case CommandDPQuery, CommandDPQueryNew, CommandUpdateDPS, CommandHeartbeat,
		CommandSessKeyNegStart, CommandSessKeyNegResp, CommandSessKeyNegFinish:
		return false
	default:
		return true
	}
}

// ChecksumType selects the trailer format of a frame.
type ChecksumType uint8

const (
	// ChecksumCRC32 is a 4-byte CRC32 (IEEE) trailer.
	ChecksumCRC32 ChecksumType = iota
	// ChecksumHMAC is a 32-byte HMAC-SHA256 trailer (protocol 3.4).
	ChecksumHMAC
)

// String returns a human-readable name for the checksum type.
func (c ChecksumType) String() string {
	switch c {
	case ChecksumCRC32:
		return "CRC32"
	case ChecksumHMAC:
		return "HMAC-SHA256"
	default:
		return "Unknown"
	}
}

// ChecksumMode is the checksum type together with its key, if any.
type ChecksumMode struct {
	Type ChecksumType
	Key  []byte
}

// CRC32 returns the CRC32 checksum mode.
func CRC32() ChecksumMode {
	return ChecksumMode{Type: ChecksumCRC32}
}

// HMAC returns the HMAC-SHA256 checksum mode keyed with key.
func HMAC(key []byte) ChecksumMode {
	return ChecksumMode{Type: ChecksumHMAC, Key: key}
}

// Size returns the checksum length in bytes.
func (m ChecksumMode) Size() int {
	if m.Type == ChecksumHMAC {
		return HMACSize
	}
	return CRCSize
}

// TrailerSize returns the checksum plus suffix length in bytes.
func (m ChecksumMode) TrailerSize() int {
	return m.Size() + SuffixSize
}
