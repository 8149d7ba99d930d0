package api

import "encoding/json"

// Wire types of the OT-2 robot-server HTTP API. Only the fields this tool
// reads are modelled; everything else is ignored on decode.

type Health struct {
	Name            string `json:"name"`
	ApiVersion      string `json:"api_version"`
	FwVersion       string `json:"fw_version"`
	SystemVersion   string `json:"system_version"`
	RobotModel      string `json:"robot_model"`
	RobotSerial     string `json:"robot_serial"`
	MinimumProtocol string `json:"minimum_protocol_api_version,omitempty"`
}

const (
	InstrumentTypePipette = "pipette"

	MountLeft  = "left"
	MountRight = "right"
)

type Instrument struct {
	Mount           string `json:"mount"`
	InstrumentType  string `json:"instrumentType"`
	InstrumentName  string `json:"instrumentName"`
	InstrumentModel string `json:"instrumentModel"`
	SerialNumber    string `json:"serialNumber"`
	Ok              bool   `json:"ok"`
}

type InstrumentsResponse struct {
	Data []Instrument `json:"data"`
}

// Listing is the generic `{"data": [...]}` envelope used by the calibration
// endpoints. Entries are kept raw so snapshots can be stored byte-for-byte.
type Listing struct {
	Data []json.RawMessage `json:"data"`
}
