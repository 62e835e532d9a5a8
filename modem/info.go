package modem

import "i4.energy/across/ltemodem/at"

// Info is the state accumulated from successful queries. Each field is
// overwritten in place by the command that reports it.
type Info struct {
	Name         string             `json:"name,omitempty"`
	IMEI         string             `json:"imei,omitempty"`
	IMSI         string             `json:"imsi,omitempty"`
	Operator     string             `json:"operator,omitempty"`
	ICCID        string             `json:"iccid,omitempty"`
	Firmware     string             `json:"firmware,omitempty"`
	Signal       SignalQuality      `json:"signal"`
	Battery      BatteryStatus      `json:"battery"`
	ServingCell  ServingCell        `json:"serving_cell"`
	SIMReady     bool               `json:"sim_ready"`
	SIMState     string             `json:"sim_state,omitempty"`
	Registration RegistrationStatus `json:"registration"`
}

// Identity returns the identity strings of the module and its SIM.
func (i Info) Identity() Identity {
	return Identity{
		Name:     i.Name,
		IMEI:     i.IMEI,
		IMSI:     i.IMSI,
		Operator: i.Operator,
		ICCID:    i.ICCID,
	}
}

// Identity groups the module name, IMEI, IMSI, operator and ICCID.
type Identity struct {
	Name     string `json:"name"`
	IMEI     string `json:"imei"`
	IMSI     string `json:"imsi"`
	Operator string `json:"operator"`
	ICCID    string `json:"iccid"`
}

// SignalQuality is the +CSQ report. RSSI 99 means not known.
type SignalQuality struct {
	RSSI int `json:"rssi"`
	BER  int `json:"ber"`
}

// Quality buckets the RSSI the way the field diagnostics page shows it.
func (s SignalQuality) Quality() string {
	switch {
	case s.RSSI == 99 || s.RSSI < 0:
		return "unknown"
	case s.RSSI < 10:
		return "poor"
	case s.RSSI < 15:
		return "ok"
	case s.RSSI < 20:
		return "good"
	default:
		return "excellent"
	}
}

// DBM converts the RSSI index into dBm. ok is false when the index is not
// known.
func (s SignalQuality) DBM() (dbm int, ok bool) {
	if s.RSSI < 0 || s.RSSI > 31 {
		return 0, false
	}
	return -113 + 2*s.RSSI, true
}

// BatteryStatus is the +CBC report. Voltage is in millivolts.
type BatteryStatus struct {
	ChargeStatus    int `json:"charge_status"`
	ConnectionLevel int `json:"connection_level"`
	Voltage         int `json:"voltage_mv"`
}

// ServingCell holds the LTE measurements of the serving cell as reported,
// without unit conversion.
type ServingCell struct {
	RSRP string `json:"rsrp"`
	RSRQ string `json:"rsrq"`
	RSSI string `json:"rssi"`
}

// RegistrationStatus is the <stat> character of +CGREG. Zero means no
// report has been received yet.
type RegistrationStatus byte

// Registered reports a home or roaming registration.
func (r RegistrationStatus) Registered() bool {
	return r == at.RegisteredHome || r == at.RegisteredRoaming
}

func (r RegistrationStatus) String() string {
	switch r {
	case 0:
		return ""
	case '0':
		return "not registered"
	case '1':
		return "registered, home"
	case '2':
		return "searching"
	case '3':
		return "denied"
	case '4':
		return "unknown"
	case '5':
		return "registered, roaming"
	default:
		return string(rune(r))
	}
}

// MarshalText renders the status as its single character.
func (r RegistrationStatus) MarshalText() ([]byte, error) {
	if r == 0 {
		return []byte{}, nil
	}
	return []byte{byte(r)}, nil
}
