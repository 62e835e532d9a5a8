package modem

import (
	"errors"
	"strings"

	"i4.energy/across/ltemodem/at"
)

// Handler interprets the reply lines of one command.
//
// HandleLine receives each trimmed, non-empty line while the command is in
// flight and reports whether the exchange is finished. Parsed values go
// into info, a scratch copy committed only when the exchange succeeds. A
// returned error is a parse failure of that line alone: it is logged, the
// field stays unset and the outcome still applies.
type Handler interface {
	HandleLine(line string, info *Info) (Outcome, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(line string, info *Info) (Outcome, error)

func (f HandlerFunc) HandleLine(line string, info *Info) (Outcome, error) {
	return f(line, info)
}

var (
	errPrefix = errors.New("unexpected prefix")
	errStatus = errors.New("malformed status")
	errNoCell = errors.New("no serving cell record")
)

// iccidStart skips the fixed "+QCCID: " prefix.
const iccidStart = len("+QCCID: ")

// terminal maps a final result code to its outcome for commands that
// succeed on success alone.
func terminal(line, success string) Outcome {
	if line == success {
		return Success
	}
	if at.Classify(line) == at.TypeFinal {
		return Fail
	}
	return Continue
}

func handleOK(line string, _ *Info) (Outcome, error) {
	return terminal(line, at.OK), nil
}

func handleCSQ(line string, info *Info) (Outcome, error) {
	if !strings.HasPrefix(line, "+CSQ:") {
		return terminal(line, at.OK), nil
	}
	f := at.Tokenize(line)
	rssi, err := f.Int(0)
	if err != nil {
		return Continue, err
	}
	ber, err := f.Int(1)
	if err != nil {
		return Continue, err
	}
	info.Signal = SignalQuality{RSSI: rssi, BER: ber}
	return Continue, nil
}

func handleCBC(line string, info *Info) (Outcome, error) {
	if !strings.HasPrefix(line, "+CBC:") {
		return terminal(line, at.OK), nil
	}
	f := at.Tokenize(line)
	var vals [3]int
	for i := range vals {
		v, err := f.Int(i)
		if err != nil {
			return Continue, err
		}
		vals[i] = v
	}
	info.Battery = BatteryStatus{ChargeStatus: vals[0], ConnectionLevel: vals[1], Voltage: vals[2]}
	return Continue, nil
}

func handleCOPS(line string, info *Info) (Outcome, error) {
	if !strings.HasPrefix(line, "+COPS:") {
		return terminal(line, at.OK), nil
	}
	f := at.Tokenize(line)
	oper, err := f.String(2)
	if err != nil {
		return Continue, err
	}
	info.Operator = oper
	return Continue, nil
}

// textLine handles commands that answer with one bare line of text.
func textLine(set func(*Info, string)) HandlerFunc {
	return func(line string, info *Info) (Outcome, error) {
		if out := terminal(line, at.OK); out != Continue {
			return out, nil
		}
		set(info, line)
		return Continue, nil
	}
}

func setName(i *Info, s string)     { i.Name = s }
func setIMEI(i *Info, s string)     { i.IMEI = s }
func setIMSI(i *Info, s string)     { i.IMSI = s }
func setFirmware(i *Info, s string) { i.Firmware = s }

func handleQCCID(line string, info *Info) (Outcome, error) {
	if !strings.HasPrefix(line, "+QCCID:") {
		return terminal(line, at.OK), nil
	}
	if len(line) <= iccidStart {
		return Continue, errPrefix
	}
	// Some SIMs pad the 19 digit ICCID with F to 20 digits.
	info.ICCID = strings.TrimRight(strings.TrimSpace(line[iccidStart:]), "Ff")
	return Continue, nil
}

func handleCPIN(line string, info *Info) (Outcome, error) {
	if !strings.Contains(line, "+CPIN") {
		return terminal(line, at.OK), nil
	}
	f := at.Tokenize(line)
	state, err := f.String(0)
	if err != nil {
		return Continue, err
	}
	info.SIMState = state
	info.SIMReady = strings.Contains(line, at.SimReady)
	return Continue, nil
}

func handleCGREG(line string, info *Info) (Outcome, error) {
	if !strings.HasPrefix(line, "+CGREG:") {
		return terminal(line, at.OK), nil
	}
	f := at.Tokenize(line)
	stat, err := f.String(1)
	if err != nil {
		return Continue, err
	}
	if len(stat) != 1 || stat[0] < '0' || stat[0] > '9' {
		return Continue, errStatus
	}
	info.Registration = RegistrationStatus(stat[0])
	return Continue, nil
}

// Field positions inside a +QENG: "servingcell" LTE record.
const (
	cellRSRP = 13
	cellRSRQ = 14
	cellRSSI = 15
)

func handleServingCell(line string, info *Info) (Outcome, error) {
	if !strings.HasPrefix(line, "+QENG:") {
		return terminal(line, at.OK), nil
	}
	f := at.Tokenize(line)
	if kind, _ := f.String(0); kind != at.ServingCellKeyword {
		return Continue, errPrefix
	}
	if f.Len() <= cellRSRP {
		return Continue, errNoCell
	}
	// Short records keep the measurements they carry.
	var cell ServingCell
	cell.RSRP, _ = f.String(cellRSRP)
	cell.RSRQ, _ = f.String(cellRSRQ)
	cell.RSSI, _ = f.String(cellRSSI)
	info.ServingCell = cell
	return Continue, nil
}

// handlePowerDown waits past the OK for the vendor power off notice.
func handlePowerDown(line string, _ *Info) (Outcome, error) {
	switch {
	case line == at.PoweredDown:
		return Success, nil
	case line == at.OK:
		return Continue, nil
	case at.Classify(line) == at.TypeFinal:
		return Fail, nil
	default:
		return Continue, nil
	}
}

func handleConnect(line string, _ *Info) (Outcome, error) {
	if at.HasToken(line, at.Connect) {
		return Success, nil
	}
	if at.Classify(line) == at.TypeFinal {
		return Fail, nil
	}
	return Continue, nil
}

func handleEscape(line string, _ *Info) (Outcome, error) {
	switch {
	case line == at.OK, line == at.NoCarrier:
		return Success, nil
	case at.Classify(line) == at.TypeFinal:
		return Fail, nil
	default:
		return Continue, nil
	}
}
