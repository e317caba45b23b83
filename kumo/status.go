package kumo

import "encoding/json"

// normalize maps one raw payload, whatever its shape, into the
// canonical DeviceStatus. Absent optional fields stay nil/zero; the
// only hard requirement is an identifying serial somewhere in the
// payload (or supplied by the caller from surrounding context).
//
// No unit conversion happens here: the API speaks Celsius and so does
// DeviceStatus.
func normalize(serialHint, name string, p *statusPayload) (DeviceStatus, error) {
	flat := flatten(p)

	serial := firstNonEmpty(flat.DeviceSerial, flat.Serial, serialHint)
	if serial == "" {
		return DeviceStatus{}, MalformedPayloadError{Field: "deviceSerial"}
	}

	d := DeviceStatus{
		Serial:           serial,
		Name:             name,
		RoomTemperatureC: flat.RoomTemp,
		CoolSetpointC:    flat.SpCool,
		HeatSetpointC:    flat.SpHeat,
		AutoSetpointC:    flat.SpAuto,
		Humidity:         flat.Humidity,
		RSSI:             flat.RSSI,
		Connected:        true,
		Provenance:       ProvenanceCache,
	}

	if mode := firstNonNil(flat.OperationMode, flat.Mode); mode != nil {
		d.OperationMode = Mode(*mode)
	}
	if flat.FanSpeed != nil {
		d.FanSpeed = *flat.FanSpeed
	}
	if flat.AirDirection != nil {
		d.AirDirection = *flat.AirDirection
	}
	if flat.Power != nil {
		d.Power = *flat.Power == 1
	}
	if flat.Connected != nil {
		d.Connected = *flat.Connected
	}
	if flat.HasSensor != nil {
		d.HasSensor = *flat.HasSensor
	}
	if flat.HasMhk2 != nil {
		d.HasMhk2 = *flat.HasMhk2
	}
	if flat.ScheduleOwner != nil {
		d.ScheduleOwner = *flat.ScheduleOwner
	}
	if flat.LastStatusChangeAt != nil {
		d.LastStatusChange = *flat.LastStatusChangeAt
	}
	if dc := flat.DisplayConfig; dc != nil {
		d.FilterDirty = dc.Filter
		d.Defrost = dc.Defrost
		d.Standby = dc.Standby
		d.HotAdjust = dc.HotAdjust
	}

	return d, nil
}

// flatten collapses the nested adapter shape: outer fields win, the
// adapter object fills the gaps. Device-detail payloads put fan/vane
// at the top level while the zone listing nests everything under
// adapter, so after this the rest of the package sees one shape.
func flatten(p *statusPayload) statusPayload {
	if p == nil {
		return statusPayload{}
	}
	out := *p
	a := p.Adapter
	if a == nil {
		return out
	}

	if out.DeviceSerial == "" {
		out.DeviceSerial = a.DeviceSerial
	}
	if out.Serial == "" {
		out.Serial = a.Serial
	}
	if out.RoomTemp == nil {
		out.RoomTemp = a.RoomTemp
	}
	if out.SpCool == nil {
		out.SpCool = a.SpCool
	}
	if out.SpHeat == nil {
		out.SpHeat = a.SpHeat
	}
	if out.SpAuto == nil {
		out.SpAuto = a.SpAuto
	}
	if out.OperationMode == nil {
		out.OperationMode = a.OperationMode
	}
	if out.Mode == nil {
		out.Mode = a.Mode
	}
	if out.FanSpeed == nil {
		out.FanSpeed = a.FanSpeed
	}
	if out.AirDirection == nil {
		out.AirDirection = a.AirDirection
	}
	if out.Power == nil {
		out.Power = a.Power
	}
	if out.Humidity == nil {
		out.Humidity = a.Humidity
	}
	if out.Connected == nil {
		out.Connected = a.Connected
	}
	if out.RSSI == nil {
		out.RSSI = a.RSSI
	}
	if out.HasSensor == nil {
		out.HasSensor = a.HasSensor
	}
	if out.HasMhk2 == nil {
		out.HasMhk2 = a.HasMhk2
	}
	if out.ScheduleOwner == nil {
		out.ScheduleOwner = a.ScheduleOwner
	}
	if out.DisplayConfig == nil {
		out.DisplayConfig = a.DisplayConfig
	}
	if out.LastStatusChangeAt == nil {
		out.LastStatusChangeAt = a.LastStatusChangeAt
	}
	return out
}

func decodeStatusPayload(raw []byte) (*statusPayload, error) {
	var p statusPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// withFacet merges the fields a facet is authoritative for into a copy
// of the baseline record. Only fields actually present in the payload
// overwrite; everything else keeps its baseline value, which is what
// makes partial reconciliation safe.
func (d DeviceStatus) withFacet(f Facet, p *statusPayload) DeviceStatus {
	flat := flatten(p)
	out := d

	switch f {
	case FacetIUStatus:
		if flat.Power != nil {
			out.Power = *flat.Power == 1
		}
		if mode := firstNonNil(flat.OperationMode, flat.Mode); mode != nil {
			out.OperationMode = Mode(*mode)
		}
		if flat.RoomTemp != nil {
			out.RoomTemperatureC = flat.RoomTemp
		}
		if flat.SpCool != nil {
			out.CoolSetpointC = flat.SpCool
		}
		if flat.SpHeat != nil {
			out.HeatSetpointC = flat.SpHeat
		}
		if flat.SpAuto != nil {
			out.AutoSetpointC = flat.SpAuto
		}
		if flat.Humidity != nil {
			out.Humidity = flat.Humidity
		}
	case FacetAdapterStatus:
		if flat.FanSpeed != nil {
			out.FanSpeed = *flat.FanSpeed
		}
		if flat.AirDirection != nil {
			out.AirDirection = *flat.AirDirection
		}
		if flat.RSSI != nil {
			out.RSSI = flat.RSSI
		}
		if flat.Connected != nil {
			out.Connected = *flat.Connected
		}
	case FacetProfile:
		if flat.HasSensor != nil {
			out.HasSensor = *flat.HasSensor
		}
	case FacetMhk2:
		if flat.HasMhk2 != nil {
			out.HasMhk2 = *flat.HasMhk2
		}
		if flat.ScheduleOwner != nil {
			out.ScheduleOwner = *flat.ScheduleOwner
		}
	}
	return out
}

// classifyFacet decides which facet a push event belongs to. The
// server echoes the forced-refresh requestType; when it does not, the
// payload is matched against the facets' field sets in a fixed order.
func classifyFacet(p *statusPayload) (Facet, bool) {
	flat := flatten(p)
	if flat.RequestType != nil {
		f := Facet(*flat.RequestType)
		switch f {
		case FacetIUStatus, FacetProfile, FacetAdapterStatus, FacetMhk2:
			return f, true
		}
	}
	switch {
	case flat.Power != nil || flat.OperationMode != nil || flat.Mode != nil ||
		flat.RoomTemp != nil || flat.SpCool != nil || flat.SpHeat != nil ||
		flat.SpAuto != nil || flat.Humidity != nil:
		return FacetIUStatus, true
	case flat.FanSpeed != nil || flat.AirDirection != nil || flat.RSSI != nil || flat.Connected != nil:
		return FacetAdapterStatus, true
	case flat.HasSensor != nil:
		return FacetProfile, true
	case flat.HasMhk2 != nil || flat.ScheduleOwner != nil:
		return FacetMhk2, true
	}
	return "", false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonNil(values ...*string) *string {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
