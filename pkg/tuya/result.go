package tuya

import (
	"fmt"
	"strconv"
	"unicode/utf8"
)

// ErrorCode identifies a structured error returned in place of a decoded
// device response.
type ErrorCode int

// Error codes.
const (
	CodeJSON       ErrorCode = 900
	CodeConnect    ErrorCode = 901
	CodeTimeout    ErrorCode = 902
	CodeRange      ErrorCode = 903
	CodePayload    ErrorCode = 904
	CodeOffline    ErrorCode = 905
	CodeState      ErrorCode = 906
	CodeFunction   ErrorCode = 907
	CodeDevType    ErrorCode = 908
	CodeCloudKey   ErrorCode = 909
	CodeCloudResp  ErrorCode = 910
	CodeCloudToken ErrorCode = 911
	CodeParams     ErrorCode = 912
	CodeCloud      ErrorCode = 913
)

var errorMessages = map[ErrorCode]string{
	CodeJSON:       "Invalid JSON Response from Device",
	CodeConnect:    "Network Error: Unable to Connect",
	CodeTimeout:    "Timeout Waiting for Device",
	CodeRange:      "Specified Value Out of Range",
	CodePayload:    "Unexpected Payload from Device",
	CodeOffline:    "Network Error: Device Unreachable",
	CodeState:      "Device in Unknown State",
	CodeFunction:   "Function Not Supported by Device",
	CodeDevType:    "Device22 Detected: Retry Command",
	CodeCloudKey:   "Missing Tuya Cloud Key and Secret",
	CodeCloudResp:  "Invalid JSON Response from Cloud",
	CodeCloudToken: "Unable to Get Cloud Token",
	CodeParams:     "Missing Function Parameters",
	CodeCloud:      "Error Response from Tuya Cloud",
}

// Message returns the human-readable message for the code.
func (c ErrorCode) Message() string {
	if m, ok := errorMessages[c]; ok {
		return m
	}
	return "Unknown Error"
}

// String returns the numeric code.
func (c ErrorCode) String() string {
	return strconv.Itoa(int(c))
}

// Result is a decoded device response.
//
// A response that cannot be decrypted or parsed is replaced by an error
// object {"Error": message, "Err": "<code>", "Payload": payload}; use Err
// to tell the two apart.
type Result map[string]any

// DPS returns the datapoint map of the response, or nil.
func (r Result) DPS() map[string]any {
	dps, _ := r["dps"].(map[string]any)
	return dps
}

// Err returns a *ResponseError when r is an error object, and nil
// otherwise.
func (r Result) Err() error {
	msg, ok := r["Error"].(string)
	if !ok {
		return nil
	}
	codeStr, ok := r["Err"].(string)
	if !ok {
		return nil
	}
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return nil
	}
	return &ResponseError{
		Code:    ErrorCode(code),
		Message: msg,
		Payload: r["Payload"],
	}
}

// ResponseError describes a device response that could not be decoded.
type ResponseError struct {
	Code    ErrorCode
	Message string
	Payload any
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("tuya: %s (%d)", e.Message, int(e.Code))
}

// errorResult builds the error object for code. payload is kept when it
// is valid text and replaced by an empty string otherwise.
func errorResult(code ErrorCode, payload []byte) Result {
	var p any
	switch {
	case payload == nil:
	case utf8.Valid(payload):
		p = string(payload)
	default:
		p = ""
	}
	return Result{
		"Error":   code.Message(),
		"Err":     code.String(),
		"Payload": p,
	}
}
