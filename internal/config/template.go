package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/evfleet/ocppsim/internal/ocpp"
	"github.com/evfleet/ocppsim/internal/station"
)

// StationTemplate is the file-driven shape of one station template (spec
// §6 "Station template"), decoded from YAML or JSON (both use struct tags
// from the yaml.v2 decoder, which accepts plain JSON for these field
// shapes).
type StationTemplate struct {
	BaseName          string                  `yaml:"baseName"`
	FixedName         string                  `yaml:"fixedName"`
	Model             string                  `yaml:"model"`
	Vendor            string                  `yaml:"vendor"`
	SerialNumber      string                  `yaml:"serialNumber"`
	BoxSerialNumber   string                  `yaml:"boxSerialNumber"`
	MeterType         string                  `yaml:"meterType"`
	MeterSerialNumber string                  `yaml:"meterSerialNumber"`
	OCPPVersion       string                  `yaml:"ocppVersion"`
	CurrentOutType    string                  `yaml:"currentOutType"`
	VoltageOut        int                     `yaml:"voltageOut"`
	NumberOfPhases    int                     `yaml:"numberOfPhases"`
	MaxPowerWatts     int                     `yaml:"maxPowerWatts"`
	AmperageLimitUnit string                  `yaml:"amperageLimitationUnit"`
	Features          TemplateFeatures        `yaml:"features"`
	Configuration     *TemplateConfiguration  `yaml:"configuration"`
	Connectors        map[string]ConnectorTpl `yaml:"connectors"`
	AutomaticTransactionGenerator *TemplateATG `yaml:"automaticTransactionGenerator"`
	IdTagsFile        string                  `yaml:"idTagsFile"`
	LocalAuthList     []string                `yaml:"localAuthList"`
}

type TemplateFeatures struct {
	OCPPStrictCompliance      bool `yaml:"ocppStrictCompliance"`
	BeginEndMeterValues       bool `yaml:"beginEndMeterValues"`
	MeteringPerTransaction    bool `yaml:"meteringPerTransaction"`
	AutoRegister              bool `yaml:"autoRegister"`
	RemoteAuthorization       bool `yaml:"remoteAuthorization"`
	StopTransactionsOnStopped bool `yaml:"stopTransactionsOnStopped"`
	EnableStatistics          bool `yaml:"enableStatistics"`
}

type TemplateConfiguration struct {
	ConfigurationKey []TemplateConfigKey `yaml:"configurationKey"`
}

type TemplateConfigKey struct {
	Key      string `yaml:"key"`
	Value    string `yaml:"value"`
	Readonly bool   `yaml:"readonly"`
}

// ConnectorTpl is a per-connector template entry, keyed by connector id in
// the station template's Connectors map.
type ConnectorTpl struct {
	InitialStatus string `yaml:"initialStatus"`
}

type TemplateATG struct {
	Enable                      bool    `yaml:"enable"`
	MinDuration                 int     `yaml:"minDuration"`
	MaxDuration                 int     `yaml:"maxDuration"`
	MinDelayBetweenTwoTransactions int  `yaml:"minDelayBetweenTwoTransactions"`
	MaxDelayBetweenTwoTransactions int  `yaml:"maxDelayBetweenTwoTransactions"`
	ProbabilityOfStart          float64 `yaml:"probabilityOfStart"`
	StopAfterHours              float64 `yaml:"stopAfterHours"`
	StopOnConnectionFailure     bool    `yaml:"stopOnConnectionFailure"`
	RequireAuthorize            bool    `yaml:"requireAuthorize"`
	IdTagDistribution           string  `yaml:"idTagDistribution"`
}

// LoadStationTemplate reads and parses one station template file.
func LoadStationTemplate(path string) (*StationTemplate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open template %s: %w", path, err)
	}
	defer f.Close()

	var tpl StationTemplate
	if err := yaml.NewDecoder(f).Decode(&tpl); err != nil {
		return nil, fmt.Errorf("config: parse template %s: %w", path, err)
	}
	return &tpl, nil
}

// StationID derives the station-id for the index'th station spawned from
// this template: fixedName verbatim if set, else baseName with a
// zero-padded 4-digit suffix (spec §4.9).
func (t *StationTemplate) StationID(index int) string {
	if t.FixedName != "" {
		return t.FixedName
	}
	return fmt.Sprintf("%s%04d", t.BaseName, index)
}

// ConnectorIDs returns the template's connector ids, sorted, excluding the
// virtual connector 0 (station.New adds it automatically).
func (t *StationTemplate) ConnectorIDs() []int {
	ids := make([]int, 0, len(t.Connectors))
	for idStr := range t.Connectors {
		var id int
		if _, err := fmt.Sscanf(idStr, "%d", &id); err != nil || id == 0 {
			continue
		}
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

// Info builds a station.Info from the template, for a given station id.
func (t *StationTemplate) Info(stationID string, supervisionURLs []string) station.Info {
	base := station.Info{
		Model:             t.Model,
		Vendor:            t.Vendor,
		SerialNumber:      t.SerialNumber,
		BoxSerialNumber:   t.BoxSerialNumber,
		MeterType:         t.MeterType,
		MeterSerialNumber: t.MeterSerialNumber,
		OCPPVersion:       t.OCPPVersion,
		SupervisionURLs:   supervisionURLs,
		CurrentOutType:    station.CurrentOutType(orDefault(t.CurrentOutType, string(station.CurrentAC))),
		VoltageOut:        t.VoltageOut,
		NumberOfPhases:    orDefaultInt(t.NumberOfPhases, 1),
		MaxPowerWatts:     t.MaxPowerWatts,
		AmperageLimitationUnit: station.AmperageUnit(orDefault(t.AmperageLimitUnit, string(station.AmperageA))),
		Features: station.FeatureFlags{
			OCPPStrictCompliance:      t.Features.OCPPStrictCompliance,
			BeginEndMeterValues:       t.Features.BeginEndMeterValues,
			MeteringPerTransaction:    t.Features.MeteringPerTransaction,
			AutoRegister:              t.Features.AutoRegister,
			RemoteAuthorization:       t.Features.RemoteAuthorization,
			StopTransactionsOnStopped: t.Features.StopTransactionsOnStopped,
			EnableStatistics:          t.Features.EnableStatistics,
		},
	}
	return station.NewInfo(base, stationID)
}

// ConfigurationKeys builds the initial configuration-key table and its
// readonly set from the template's Configuration block.
func (t *StationTemplate) ConfigurationKeys() (map[string]ocpp.ConfigurationKeyValue, map[string]bool) {
	keys := make(map[string]ocpp.ConfigurationKeyValue)
	readOnly := make(map[string]bool)
	if t.Configuration == nil {
		return keys, readOnly
	}
	for _, k := range t.Configuration.ConfigurationKey {
		keys[k.Key] = ocpp.ConfigurationKeyValue{Key: k.Key, Value: k.Value, Readonly: k.Readonly}
		if k.Readonly {
			readOnly[k.Key] = true
		}
	}
	return keys, readOnly
}

// ATGTemplate converts the template's ATG block into station.ATGTemplate,
// treating seconds-denominated durations (minDuration/maxDuration are in
// seconds per spec §6) consistently with station.ATGTemplate's own units.
func (t *StationTemplate) ATGTemplate() station.ATGTemplate {
	if t.AutomaticTransactionGenerator == nil {
		return station.ATGTemplate{}
	}
	a := t.AutomaticTransactionGenerator
	return station.ATGTemplate{
		Enable:                      a.Enable,
		MinDurationSeconds:          a.MinDuration,
		MaxDurationSeconds:          a.MaxDuration,
		MinDelayBetweenTransactions: a.MinDelayBetweenTwoTransactions,
		MaxDelayBetweenTransactions: a.MaxDelayBetweenTwoTransactions,
		ProbabilityOfStart:          a.ProbabilityOfStart,
		StopAfterHours:              a.StopAfterHours,
		RequireAuthorize:            a.RequireAuthorize,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
