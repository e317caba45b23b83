package kumo

// Mode is a device operating mode as the API spells it.
type Mode string

const (
	ModeOff  Mode = "off"
	ModeCool Mode = "cool"
	ModeHeat Mode = "heat"
	ModeDry  Mode = "dry"
	ModeVent Mode = "vent"
	ModeAuto Mode = "auto"
)

// FanSpeeds and AirDirections accepted by the API.
var (
	FanSpeeds     = []string{"superQuiet", "quiet", "low", "powerful", "superPowerful", "auto"}
	AirDirections = []string{"auto", "horizontal", "midhorizontal", "midpoint", "midvertical", "vertical", "swing"}
)

// Provenance records how a DeviceStatus was produced.
type Provenance string

const (
	// ProvenanceCache: built from REST responses only. The server may
	// serve device state that lags the physical unit.
	ProvenanceCache Provenance = "cache"
	// ProvenanceFresh: every requested realtime facet was reconciled.
	ProvenanceFresh Provenance = "fresh"
	// ProvenancePartial: some facets arrived before the deadline, the
	// rest of the record is baseline data.
	ProvenancePartial Provenance = "partial"
)

// DeviceStatus is the canonical snapshot of one indoor unit. It is
// immutable once built; temperatures are Celsius. Optional readings
// are nil when the source payload did not carry them, never zero.
type DeviceStatus struct {
	Serial string `json:"serial"`
	Name   string `json:"name"`

	RoomTemperatureC *float64 `json:"roomTemperatureC"`
	CoolSetpointC    *float64 `json:"coolSetpointC"`
	HeatSetpointC    *float64 `json:"heatSetpointC"`
	AutoSetpointC    *float64 `json:"autoSetpointC"`

	OperationMode Mode   `json:"operationMode"`
	FanSpeed      string `json:"fanSpeed,omitempty"`     // full/fresh reads only
	AirDirection  string `json:"airDirection,omitempty"` // full/fresh reads only

	Power     bool `json:"power"`
	Connected bool `json:"connected"`
	Humidity  *int `json:"humidity"`
	RSSI      *int `json:"rssi,omitempty"` // full/fresh reads only

	HasSensor     bool   `json:"hasSensor"`
	HasMhk2       bool   `json:"hasMhk2"`
	ScheduleOwner string `json:"scheduleOwner,omitempty"` // "adapter" or "cloud", informational

	FilterDirty bool `json:"filterDirty"`
	Defrost     bool `json:"defrost"`
	Standby     bool `json:"standby"`
	HotAdjust   bool `json:"hotAdjust"`

	LastStatusChange string `json:"lastStatusChange,omitempty"`

	Provenance Provenance `json:"provenance"`

	// RefreshErr carries the non-fatal condition that left Provenance
	// at cache on a refresh-requested read: ErrRefreshTimeout or
	// ErrRefreshUnsupported. Nil on plain baseline reads.
	RefreshErr error `json:"-"`
}

// Setpoint returns the setpoint the current mode targets, or nil when
// the mode has none (off, dry, vent).
func (d DeviceStatus) Setpoint() *float64 {
	switch d.OperationMode {
	case ModeCool:
		return d.CoolSetpointC
	case ModeHeat:
		return d.HeatSetpointC
	case ModeAuto:
		return d.AutoSetpointC
	}
	return nil
}

// Site is one location on the account.
type Site struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Zone is one zone in a site; the adapter object nests the device
// state the zone listing knows about.
type Zone struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Adapter *statusPayload `json:"adapter"`
}

// statusPayload is the superset of status fields across every raw
// shape the API produces: zone-listing adapter objects, device detail,
// device status and realtime push events. The normalizer is the only
// code that reads it, so nothing else branches on payload shape.
type statusPayload struct {
	DeviceSerial string `json:"deviceSerial"`
	Serial       string `json:"serial"`

	RoomTemp *float64 `json:"roomTemp"`
	SpCool   *float64 `json:"spCool"`
	SpHeat   *float64 `json:"spHeat"`
	SpAuto   *float64 `json:"spAuto"`

	OperationMode *string `json:"operationMode"`
	Mode          *string `json:"mode"` // older shape of operationMode

	FanSpeed     *string `json:"fanSpeed"`
	AirDirection *string `json:"airDirection"`

	Power     *int  `json:"power"` // 0 or 1
	Humidity  *int  `json:"humidity"`
	Connected *bool `json:"connected"`
	RSSI      *int  `json:"rssi"`

	HasSensor     *bool   `json:"hasSensor"`
	HasMhk2       *bool   `json:"hasMhk2"`
	ScheduleOwner *string `json:"scheduleOwner"`

	DisplayConfig *displayConfig `json:"displayConfig"`

	LastStatusChangeAt *string `json:"lastStatusChangeAt"`

	// Device-detail and push shapes nest the adapter object the same
	// way the zone listing does.
	Adapter *statusPayload `json:"adapter"`

	// Push events echo which forced-refresh facet produced them.
	RequestType *string `json:"requestType"`
}

type displayConfig struct {
	Filter    bool `json:"filter"`
	Defrost   bool `json:"defrost"`
	Standby   bool `json:"standby"`
	HotAdjust bool `json:"hotAdjust"`
}

// CommandResult is the send-command response: the serials that
// accepted the command, nothing about resulting state.
type CommandResult struct {
	Devices []string `json:"devices"`
}
