package modem

import (
	"fmt"
	"time"

	"i4.energy/across/ltemodem/at"
)

// Mode is the operating mode of the serial link.
type Mode int

const (
	// CommandMode accepts AT commands.
	CommandMode Mode = iota + 1
	// DataMode carries an opaque PPP session.
	DataMode
)

func (m Mode) String() string {
	switch m {
	case CommandMode:
		return "command"
	case DataMode:
		return "data"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts "command" or "data" into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "command":
		return CommandMode, nil
	case "data":
		return DataMode, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

// Command describes one outgoing AT command and how to interpret its
// replies. A Command is immutable; the With methods return copies.
type Command struct {
	text    string
	timeout time.Duration
	handler Handler
	// enters is the mode the link is in after the command succeeds, zero
	// for commands that keep the mode.
	enters Mode
}

// NewCommand returns a command sending text verbatim. A zero timeout
// selects the modem default at issue time.
func NewCommand(text string, timeout time.Duration, h Handler) Command {
	return Command{text: text, timeout: timeout, handler: h}
}

// ATCommand returns a command that sends text terminated by CR and
// succeeds on OK.
func ATCommand(text string) Command {
	return Command{text: text + at.CR, handler: HandlerFunc(handleOK)}
}

// Text returns the bytes sent on the wire, terminator included.
func (c Command) Text() string { return c.text }

// Timeout returns the command deadline, zero for the modem default.
func (c Command) Timeout() time.Duration { return c.timeout }

// Handler returns the response handler.
func (c Command) Handler() Handler { return c.handler }

// Enters returns the mode a successful exchange switches to, or zero.
func (c Command) Enters() Mode { return c.enters }

// WithTimeout returns a copy of c with another deadline.
func (c Command) WithTimeout(d time.Duration) Command {
	c.timeout = d
	return c
}

func (c Command) String() string {
	return at.Trim(c.text)
}

func query(text string, h HandlerFunc) Command {
	return Command{text: text + at.CR, handler: h}
}

// Sync checks that the module answers.
func Sync() Command { return ATCommand(at.CmdAt) }

// EchoOff stops the module from echoing commands.
func EchoOff() Command { return ATCommand(at.CmdEchoOff) }

// VerboseErrors selects +CME ERROR replies with text.
func VerboseErrors() Command { return ATCommand(at.CmdVerboseErrors) }

// CSQ queries the signal quality.
func CSQ() Command { return query(at.CmdSignalQuality, handleCSQ) }

// CBC queries the battery charge and voltage.
func CBC() Command { return query(at.CmdBattery, handleCBC) }

// COPS queries the selected operator. Allow a long timeout.
func COPS() Command { return query(at.CmdOperator, handleCOPS) }

// CGMM queries the module name.
func CGMM() Command { return query(at.CmdModelName, textLine(setName)) }

// CGSN queries the IMEI.
func CGSN() Command { return query(at.CmdIMEI, textLine(setIMEI)) }

// CIMI queries the IMSI.
func CIMI() Command { return query(at.CmdIMSI, textLine(setIMSI)) }

// QCCID queries the ICCID of the SIM.
func QCCID() Command { return query(at.CmdICCID, handleQCCID) }

// CPIN queries whether the SIM is unlocked.
func CPIN() Command { return query(at.CmdSimStatus, handleCPIN) }

// CGREG queries the packet domain registration.
func CGREG() Command { return query(at.CmdRegistration, handleCGREG) }

// QENGServingCell queries the serving cell measurements.
func QENGServingCell() Command { return query(at.CmdServingCell, handleServingCell) }

// QGMR queries the firmware revision.
func QGMR() Command { return query(at.CmdFirmware, textLine(setFirmware)) }

// QPOWD powers the module off. It resolves on POWERED DOWN, not on OK.
func QPOWD() Command { return query(at.CmdPowerDown, handlePowerDown) }

// DialPPP starts the PPP session. It succeeds on CONNECT and moves the
// link to DataMode.
func DialPPP() Command {
	c := query(at.CmdDialPPP, handleConnect)
	c.enters = DataMode
	return c
}

// ResumeData returns to a data session suspended by Escape.
func ResumeData() Command {
	c := query(at.CmdResumeData, handleConnect)
	c.enters = DataMode
	return c
}

// Escape leaves DataMode. The sequence is sent without terminator and
// succeeds on OK or NO CARRIER.
func Escape() Command {
	return Command{text: at.Escape, handler: HandlerFunc(handleEscape), enters: CommandMode}
}

// HangUp terminates the data call.
func HangUp() Command { return ATCommand(at.CmdHangUp) }

// StoreProfile saves the current settings to the user profile.
func StoreProfile() Command { return ATCommand(at.CmdStoreProfile) }

// SetFlowControl selects the DCE and DTE flow control methods, 0 for none
// and 2 for RTS/CTS.
func SetFlowControl(dce, dte int) Command {
	return ATCommand(fmt.Sprintf("%s%d,%d", at.CmdFlowControl, dce, dte))
}

// DefinePDPContext configures context cid with an IP type and APN.
func DefinePDPContext(cid int, pdpType, apn string) Command {
	return ATCommand(fmt.Sprintf(`%s%d,"%s","%s"`, at.CmdDefineContext, cid, pdpType, apn))
}

// SetBaudRate changes the UART rate of the module. The new rate applies
// after the OK, so the transport has to be reopened.
func SetBaudRate(baud int) Command {
	return ATCommand(fmt.Sprintf("%s%d", at.CmdSetBaudRate, baud))
}
