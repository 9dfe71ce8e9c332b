package station

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// CurrentOutType is the station's physical current type.
type CurrentOutType string

const (
	CurrentAC CurrentOutType = "AC"
	CurrentDC CurrentOutType = "DC"
)

// AmperageUnit is the unit used by amperage-limitation feature flags.
type AmperageUnit string

const (
	AmperageA  AmperageUnit = "A"
	AmperageDA AmperageUnit = "dA"
	AmperageCA AmperageUnit = "cA"
	AmperageMA AmperageUnit = "mA"
)

// FeatureFlags are the station-template toggles from spec §3.
type FeatureFlags struct {
	OCPPStrictCompliance      bool
	BeginEndMeterValues       bool
	MeteringPerTransaction    bool
	AutoRegister              bool
	RemoteAuthorization       bool
	StopTransactionsOnStopped bool
	EnableStatistics          bool
}

// Auth carries HTTP Basic-Auth credentials for the supervision connection,
// if the template specifies them.
type Auth struct {
	Username string
	Password string
}

// Info is the immutable-after-boot identity and capability record for a
// simulated station (spec §3 "Station info").
type Info struct {
	Model                   string
	Vendor                  string
	SerialNumber            string
	BoxSerialNumber         string
	MeterType               string
	MeterSerialNumber       string
	OCPPVersion             string
	SupervisionURLs         []string
	Auth                    Auth
	CurrentOutType          CurrentOutType
	VoltageOut              int
	NumberOfPhases          int
	MaxPowerWatts           int
	AmperageLimitationUnit  AmperageUnit
	Features                FeatureFlags

	StationID string
	HashID    string
}

// ComputeHashID derives the stable addressing token from (model, vendor,
// optional serial prefixes, meter type) concatenated with the station id, as
// a hex digest (spec §3 "Identifier fingerprint"). The result is immutable
// for the lifetime of the station: callers compute it once at construction
// and never recompute it afterward.
func ComputeHashID(model, vendor, serialNumber, boxSerialNumber, meterType, stationID string) string {
	canonical := fmt.Sprintf("%s|%s|%s|%s|%s|%s", model, vendor, serialNumber, boxSerialNumber, meterType, stationID)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// NewInfo finalizes an Info from template fields plus a derived station id,
// computing and pinning its HashID.
func NewInfo(template Info, stationID string) Info {
	info := template
	info.StationID = stationID
	info.HashID = ComputeHashID(info.Model, info.Vendor, info.SerialNumber, info.BoxSerialNumber, info.MeterType, stationID)
	return info
}
