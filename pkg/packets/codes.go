package packets

import "fmt"

// Error and status code tables of the ZVT protocol. The terminal
// reports errors as a single byte inside Abort and PacketReceivedError;
// intermediate status codes arrive in 04 FF packets during long-running
// commands; terminal status codes are the Completion payload of a
// Status-Enquiry.

var errorCodes = map[byte]string{
	0x00: "no error",
	0x51: "initialisation required",
	0x62: "card not admitted",
	0x63: "card unknown / undefined",
	0x64: "card defective",
	0x65: "expiry date not readable",
	0x66: "card to be collected",
	0x6A: "card in blocked-list",
	0x6B: "wrong currency",
	0x6C: "card not readable",
	0x6E: "invalid card",
	0x77: "end-of-day batch not possible",
	0x78: "card expired",
	0x79: "card not yet valid",
	0x7A: "card unknown",
	0x83: "function not possible",
	0x85: "key missing",
	0x89: "no connection",
	0x9A: "protocol error",
	0x9B: "error from dial-up / communication fault",
	0x9C: "please wait",
	0xA0: "receiver not ready",
	0xA1: "remote station does not respond",
	0xA3: "no connection",
	0xB1: "memory full",
	0xB2: "merchant journal full",
	0xB4: "already reversed",
	0xB5: "reversal not possible",
	0xBF: "timeout, input aborted",
	0xC0: "card reader does not answer / card jammed",
	0xC1: "error while dispensing card",
	0xC2: "error during card insertion",
	0xC4: "terminal deactivated",
	0xC5: "transaction aborted",
	0xC6: "transaction aborted by timeout",
	0xCA: "card inserted during idle",
	0xD2: "function deactivated",
	0xDC: "card inserted",
	0xE0: "error in function",
	0xE1: "invalid parameter",
	0xE7: "end-of-day batch already done",
	0xE8: "out of order",
	0xE9: "protocol or connection error",
	0xEB: "function executed, time-out while waiting for card",
	0xF0: "abort via timeout or abort-key",
	0xF5: "chip error",
	0xFF: "system error",
}

// ErrorDescription resolves a ZVT error byte against the documented
// table.
func ErrorDescription(code byte) string {
	if s, ok := errorCodes[code]; ok {
		return s
	}
	return fmt.Sprintf("unknown error 0x%02X", code)
}

var intermediateStatusCodes = map[byte]string{
	0x00: "PT is waiting for amount confirmation",
	0x01: "please watch PIN pad",
	0x02: "please watch PIN pad",
	0x03: "not accepted",
	0x04: "PT is waiting for response from FEP",
	0x05: "PT is sending auto-reversal",
	0x06: "PT is sending post-bookings",
	0x07: "card not admitted",
	0x08: "card unknown / undefined",
	0x09: "expired card",
	0x0A: "insert card",
	0x0B: "please remove card",
	0x0C: "card not readable",
	0x0D: "processing error",
	0x0E: "please wait",
	0x0F: "PT is commencing an automatic end-of-day batch",
	0x10: "invalid card",
	0x11: "balance display",
	0x12: "system malfunction",
	0x13: "payment not possible",
	0x14: "credit not sufficient",
	0x15: "incorrect PIN",
	0x16: "limit not sufficient",
	0x17: "please wait",
	0x18: "PIN try limit exceeded",
	0x19: "card-data incorrect",
	0x1A: "service mode",
	0x1B: "approved, please fill up",
	0x1C: "approved, please take goods",
	0x1D: "declined",
	0x26: "PT is waiting for input of the mobile number",
	0x41: "please watch PIN pad",
	0x42: "connecting dial-up",
	0x43: "dial-up connection established",
	0x44: "authorisation in progress",
	0xC7: "PT is waiting for card insertion",
	0xC8: "PT is reading the card",
	0xC9: "processing payment",
	0xCA: "processing",
	0xCB: "terminal ready",
	0xD2: "connecting to host",
	0xD3: "sending data to host",
}

// IntermediateStatusDescription resolves a status byte from a 04 FF
// packet against the documented table.
func IntermediateStatusDescription(code byte) string {
	if s, ok := intermediateStatusCodes[code]; ok {
		return s
	}
	return fmt.Sprintf("unknown intermediate status 0x%02X", code)
}

var terminalStatusCodes = map[byte]string{
	0x00: "PT ready",
	0x51: "initialisation required",
	0x62: "date/time incorrect",
	0x9C: "end-of-day batch required",
	0xB1: "memory full, end-of-day batch required",
	0xDC: "card inserted",
	0xE0: "out of order",
	0xF0: "reconciliation required",
}

// TerminalStatusDescription resolves a Status-Enquiry completion byte
// against the documented table.
func TerminalStatusDescription(code byte) string {
	if s, ok := terminalStatusCodes[code]; ok {
		return s
	}
	return fmt.Sprintf("unknown terminal status 0x%02X", code)
}
