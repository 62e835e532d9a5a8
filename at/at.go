package at

import "strings"

const (
	// Terminal Control
	CR   = "\r"
	LF   = "\n"
	CRLF = "\r\n"

	// Escape switches an online data session back to command mode. It must
	// be surrounded by a guard time with no other traffic on the line.
	Escape = "+++"

	// Response Codes
	OK          = "OK"
	ERROR       = "ERROR"
	Connect     = "CONNECT"
	NoCarrier   = "NO CARRIER"
	NoDialtone  = "NO DIALTONE"
	Busy        = "BUSY"
	NoAnswer    = "NO ANSWER"
	PoweredDown = "POWERED DOWN"
	CmeError    = "+CME ERROR:"
	CmsError    = "+CMS ERROR:"

	// URCs (Unsolicited Result Codes)
	UrcNewMsg        = "+CMTI:"
	UrcMessageReport = "+CDSI:"
	UrcIndication    = "+QIND:"
	UrcSIMStatus     = "+QUSIM:"
	UrcReady         = "RDY"
	UrcCall          = "RING"
)

// Command mnemonics understood by Quectel BG9x modules.
const (
	CmdAt              = "AT"
	CmdEchoOff         = "ATE0"
	CmdVerboseErrors   = "AT+CMEE=2"
	CmdSignalQuality   = "AT+CSQ"
	CmdBattery         = "AT+CBC"
	CmdOperator        = "AT+COPS?"
	CmdModelName       = "AT+CGMM"
	CmdIMEI            = "AT+CGSN"
	CmdIMSI            = "AT+CIMI"
	CmdICCID           = "AT+QCCID"
	CmdSimStatus       = "AT+CPIN?"
	CmdRegistration    = "AT+CGREG?"
	CmdServingCell     = `AT+QENG="servingcell"`
	CmdPowerDown       = "AT+QPOWD=1"
	CmdFirmware        = "AT+QGMR"
	CmdDialPPP         = "ATD*99#"
	CmdResumeData      = "ATO"
	CmdHangUp          = "ATH"
	CmdStoreProfile    = "AT&W"
	CmdFlowControl     = "AT+IFC="
	CmdDefineContext   = "AT+CGDCONT="
	CmdSetBaudRate     = "AT+IPR="
	SimReady           = "READY"
	RegisteredHome     = '1'
	RegisteredRoaming  = '5'
	ServingCellKeyword = "servingcell"
)

type ResponseType int

const (
	TypeFinal ResponseType = iota // OK, ERROR, CONNECT
	TypeURC                       // Asynchronous notifications
	TypeData                      // Intermediate command output (+CSQ: ...)
)

// Classify identifies the nature of a trimmed modem line.
func Classify(line string) ResponseType {
	if HasToken(line, Connect) {
		return TypeFinal
	}

	switch line {
	case OK, ERROR, NoCarrier, NoDialtone, Busy, NoAnswer:
		return TypeFinal
	case UrcCall, UrcReady:
		return TypeURC
	}

	switch {
	case strings.HasPrefix(line, CmeError), strings.HasPrefix(line, CmsError):
		return TypeFinal
	case strings.HasPrefix(line, UrcNewMsg),
		strings.HasPrefix(line, UrcMessageReport),
		strings.HasPrefix(line, UrcIndication),
		strings.HasPrefix(line, UrcSIMStatus):
		return TypeURC
	default:
		return TypeData
	}
}

// IsError reports whether line is one of the failure result codes.
func IsError(line string) bool {
	return line == ERROR ||
		strings.HasPrefix(line, CmeError) ||
		strings.HasPrefix(line, CmsError)
}

// HasToken reports whether a trimmed line is the result code token, alone
// or followed by a space and parameters as in "CONNECT 150000000".
func HasToken(line, token string) bool {
	return line == token || strings.HasPrefix(line, token+" ")
}

// Trim strips the carriage return and surrounding blanks from a framed line.
func Trim(line string) string {
	return strings.TrimSpace(line)
}
