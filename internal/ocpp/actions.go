package ocpp

// Action names for OCPP 1.6-J, both directions named in the spec's handler
// tables (§4.4).
const (
	ActionBootNotification            = "BootNotification"
	ActionHeartbeat                   = "Heartbeat"
	ActionStatusNotification          = "StatusNotification"
	ActionAuthorize                   = "Authorize"
	ActionStartTransaction            = "StartTransaction"
	ActionStopTransaction             = "StopTransaction"
	ActionMeterValues                 = "MeterValues"
	ActionDataTransfer                = "DataTransfer"
	ActionDiagnosticsStatusNotif      = "DiagnosticsStatusNotification"
	ActionFirmwareStatusNotif         = "FirmwareStatusNotification"
	ActionGetConfiguration            = "GetConfiguration"
	ActionChangeConfiguration         = "ChangeConfiguration"
	ActionReset                       = "Reset"
	ActionClearCache                  = "ClearCache"
	ActionChangeAvailability          = "ChangeAvailability"
	ActionUnlockConnector             = "UnlockConnector"
	ActionSetChargingProfile          = "SetChargingProfile"
	ActionClearChargingProfile        = "ClearChargingProfile"
	ActionRemoteStartTransaction      = "RemoteStartTransaction"
	ActionRemoteStopTransaction       = "RemoteStopTransaction"
	ActionGetDiagnostics              = "GetDiagnostics"
	ActionTriggerMessage              = "TriggerMessage"
)

// RegistrationStatus is the BootNotification/generic accept/pending/reject
// tri-state used by several responses.
type RegistrationStatus string

const (
	RegistrationAccepted RegistrationStatus = "Accepted"
	RegistrationPending  RegistrationStatus = "Pending"
	RegistrationRejected RegistrationStatus = "Rejected"
)

// IdTagStatus is the status embedded in every IdTagInfo.
type IdTagStatus string

const (
	IdTagAccepted      IdTagStatus = "Accepted"
	IdTagBlocked       IdTagStatus = "Blocked"
	IdTagExpired       IdTagStatus = "Expired"
	IdTagInvalid       IdTagStatus = "Invalid"
	IdTagConcurrentTx  IdTagStatus = "ConcurrentTx"
)

// IdTagInfo wraps an authorization decision, shared by Authorize,
// StartTransaction and StopTransaction responses.
type IdTagInfo struct {
	Status      IdTagStatus `json:"status"`
	ExpiryDate  string      `json:"expiryDate,omitempty"`
	ParentIdTag string      `json:"parentIdTag,omitempty"`
}

// --- Outgoing request/response payloads -----------------------------------

type BootNotificationRequest struct {
	ChargePointVendor       string `json:"chargePointVendor"`
	ChargePointModel        string `json:"chargePointModel"`
	ChargePointSerialNumber string `json:"chargePointSerialNumber,omitempty"`
	ChargeBoxSerialNumber   string `json:"chargeBoxSerialNumber,omitempty"`
	FirmwareVersion         string `json:"firmwareVersion,omitempty"`
	Iccid                   string `json:"iccid,omitempty"`
	Imsi                    string `json:"imsi,omitempty"`
	MeterType               string `json:"meterType,omitempty"`
	MeterSerialNumber       string `json:"meterSerialNumber,omitempty"`
}

type BootNotificationResponse struct {
	Status      RegistrationStatus `json:"status"`
	CurrentTime string             `json:"currentTime"`
	Interval    int                `json:"interval"`
}

type HeartbeatRequest struct{}

type HeartbeatResponse struct {
	CurrentTime string `json:"currentTime"`
}

type StatusNotificationRequest struct {
	ConnectorId     int    `json:"connectorId"`
	ErrorCode       string `json:"errorCode"`
	Status          string `json:"status"`
	Info            string `json:"info,omitempty"`
	Timestamp       string `json:"timestamp,omitempty"`
	VendorId        string `json:"vendorId,omitempty"`
	VendorErrorCode string `json:"vendorErrorCode,omitempty"`
}

type StatusNotificationResponse struct{}

type AuthorizeRequest struct {
	IdTag string `json:"idTag"`
}

type AuthorizeResponse struct {
	IdTagInfo IdTagInfo `json:"idTagInfo"`
}

type StartTransactionRequest struct {
	ConnectorId   int    `json:"connectorId"`
	IdTag         string `json:"idTag"`
	MeterStart    int    `json:"meterStart"`
	ReservationId *int   `json:"reservationId,omitempty"`
	Timestamp     string `json:"timestamp"`
}

type StartTransactionResponse struct {
	TransactionId int       `json:"transactionId"`
	IdTagInfo     IdTagInfo `json:"idTagInfo"`
}

type StopTransactionRequest struct {
	IdTag           string       `json:"idTag,omitempty"`
	MeterStop       int          `json:"meterStop"`
	Timestamp       string       `json:"timestamp"`
	TransactionId   int          `json:"transactionId"`
	Reason          string       `json:"reason,omitempty"`
	TransactionData []MeterValue `json:"transactionData,omitempty"`
}

type StopTransactionResponse struct {
	IdTagInfo *IdTagInfo `json:"idTagInfo,omitempty"`
}

type SampledValue struct {
	Value     string `json:"value"`
	Context   string `json:"context,omitempty"`
	Format    string `json:"format,omitempty"`
	Measurand string `json:"measurand,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Location  string `json:"location,omitempty"`
	Unit      string `json:"unit,omitempty"`
}

type MeterValue struct {
	Timestamp    string         `json:"timestamp"`
	SampledValue []SampledValue `json:"sampledValue"`
}

type MeterValuesRequest struct {
	ConnectorId   int          `json:"connectorId"`
	TransactionId *int         `json:"transactionId,omitempty"`
	MeterValue    []MeterValue `json:"meterValue"`
}

type MeterValuesResponse struct{}

type DataTransferRequest struct {
	VendorId  string `json:"vendorId"`
	MessageId string `json:"messageId,omitempty"`
	Data      string `json:"data,omitempty"`
}

type DataTransferStatus string

const (
	DataTransferAccepted         DataTransferStatus = "Accepted"
	DataTransferRejected         DataTransferStatus = "Rejected"
	DataTransferUnknownMessageId DataTransferStatus = "UnknownMessageId"
	DataTransferUnknownVendorId  DataTransferStatus = "UnknownVendorId"
)

type DataTransferResponse struct {
	Status DataTransferStatus `json:"status"`
	Data   string             `json:"data,omitempty"`
}

type DiagnosticsStatusNotificationRequest struct {
	Status string `json:"status"`
}

type FirmwareStatusNotificationRequest struct {
	Status string `json:"status"`
}

// --- Incoming request/response payloads ------------------------------------

type GetConfigurationRequest struct {
	Key []string `json:"key,omitempty"`
}

type ConfigurationKeyValue struct {
	Key      string `json:"key"`
	Readonly bool   `json:"readonly"`
	Value    string `json:"value,omitempty"`
}

type GetConfigurationResponse struct {
	ConfigurationKey []ConfigurationKeyValue `json:"configurationKey,omitempty"`
	UnknownKey       []string                `json:"unknownKey,omitempty"`
}

type ChangeConfigurationRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type ConfigurationStatus string

const (
	ConfigurationAccepted       ConfigurationStatus = "Accepted"
	ConfigurationRejected       ConfigurationStatus = "Rejected"
	ConfigurationRebootRequired ConfigurationStatus = "RebootRequired"
	ConfigurationNotSupported   ConfigurationStatus = "NotSupported"
)

type ChangeConfigurationResponse struct {
	Status ConfigurationStatus `json:"status"`
}

type ResetType string

const (
	ResetHard ResetType = "Hard"
	ResetSoft ResetType = "Soft"
)

type ResetRequest struct {
	Type ResetType `json:"type"`
}

type ResetResponse struct {
	Status string `json:"status"`
}

type ClearCacheRequest struct{}

type ClearCacheResponse struct {
	Status string `json:"status"`
}

type AvailabilityType string

const (
	AvailabilityOperative   AvailabilityType = "Operative"
	AvailabilityInoperative AvailabilityType = "Inoperative"
)

type ChangeAvailabilityRequest struct {
	ConnectorId int              `json:"connectorId"`
	Type        AvailabilityType `json:"type"`
}

type ChangeAvailabilityStatus string

const (
	AvailabilityChangeAccepted  ChangeAvailabilityStatus = "Accepted"
	AvailabilityChangeRejected  ChangeAvailabilityStatus = "Rejected"
	AvailabilityChangeScheduled ChangeAvailabilityStatus = "Scheduled"
)

type ChangeAvailabilityResponse struct {
	Status ChangeAvailabilityStatus `json:"status"`
}

type UnlockConnectorRequest struct {
	ConnectorId int `json:"connectorId"`
}

type UnlockConnectorResponse struct {
	Status string `json:"status"`
}

type ChargingSchedulePeriod struct {
	StartPeriod int     `json:"startPeriod"`
	Limit       float64 `json:"limit"`
	NumberPhases int    `json:"numberPhases,omitempty"`
}

type ChargingSchedule struct {
	Duration              int                      `json:"duration,omitempty"`
	StartSchedule         string                   `json:"startSchedule,omitempty"`
	ChargingRateUnit      string                   `json:"chargingRateUnit"`
	ChargingSchedulePeriod []ChargingSchedulePeriod `json:"chargingSchedulePeriod"`
	MinChargingRate       float64                  `json:"minChargingRate,omitempty"`
}

type ChargingProfile struct {
	ChargingProfileId      int              `json:"chargingProfileId"`
	TransactionId          int              `json:"transactionId,omitempty"`
	StackLevel             int              `json:"stackLevel"`
	ChargingProfilePurpose string           `json:"chargingProfilePurpose"`
	ChargingProfileKind    string           `json:"chargingProfileKind"`
	RecurrencyKind         string           `json:"recurrencyKind,omitempty"`
	ValidFrom              string           `json:"validFrom,omitempty"`
	ValidTo                string           `json:"validTo,omitempty"`
	ChargingSchedule       ChargingSchedule `json:"chargingSchedule"`
}

type SetChargingProfileRequest struct {
	ConnectorId     int             `json:"connectorId"`
	CsChargingProfiles ChargingProfile `json:"csChargingProfiles"`
}

type SetChargingProfileResponse struct {
	Status string `json:"status"`
}

type ClearChargingProfileRequest struct {
	Id                     *int   `json:"id,omitempty"`
	ConnectorId            *int   `json:"connectorId,omitempty"`
	ChargingProfilePurpose string `json:"chargingProfilePurpose,omitempty"`
	StackLevel             *int   `json:"stackLevel,omitempty"`
}

type ClearChargingProfileResponse struct {
	Status string `json:"status"`
}

type RemoteStartTransactionRequest struct {
	ConnectorId     *int             `json:"connectorId,omitempty"`
	IdTag           string           `json:"idTag"`
	ChargingProfile *ChargingProfile `json:"chargingProfile,omitempty"`
}

type RemoteStartStopStatus string

const (
	RemoteStartStopAccepted RemoteStartStopStatus = "Accepted"
	RemoteStartStopRejected RemoteStartStopStatus = "Rejected"
)

type RemoteStartTransactionResponse struct {
	Status RemoteStartStopStatus `json:"status"`
}

type RemoteStopTransactionRequest struct {
	TransactionId int `json:"transactionId"`
}

type RemoteStopTransactionResponse struct {
	Status RemoteStartStopStatus `json:"status"`
}

type GetDiagnosticsRequest struct {
	Location      string `json:"location"`
	Retries       *int   `json:"retries,omitempty"`
	RetryInterval *int   `json:"retryInterval,omitempty"`
	StartTime     string `json:"startTime,omitempty"`
	StopTime      string `json:"stopTime,omitempty"`
}

type GetDiagnosticsResponse struct {
	FileName string `json:"fileName,omitempty"`
}

type TriggerMessageRequest struct {
	RequestedMessage string `json:"requestedMessage"`
	ConnectorId      *int   `json:"connectorId,omitempty"`
}

type TriggerMessageStatus string

const (
	TriggerAccepted       TriggerMessageStatus = "Accepted"
	TriggerRejected       TriggerMessageStatus = "Rejected"
	TriggerNotImplemented TriggerMessageStatus = "NotImplemented"
)

type TriggerMessageResponse struct {
	Status TriggerMessageStatus `json:"status"`
}
