package kumo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// StatusOptions controls how much work a status read does.
type StatusOptions struct {
	// Full also fetches the device-detail record, which carries fan
	// speed, vane position and RSSI that the zone listing omits.
	Full bool
	// Refresh forces a live read from the device over the realtime
	// channel before returning. Best effort: on timeout the baseline
	// is returned unmodified, flagged in Provenance/RefreshErr.
	Refresh bool
}

func (o StatusOptions) facets() []Facet {
	if o.Full {
		return AllFacets
	}
	return []Facet{FacetIUStatus}
}

// AllDevices returns the status of every device, across all sites or
// just the configured one.
func (c *Client) AllDevices(ctx context.Context, opts StatusOptions) ([]DeviceStatus, error) {
	sites, err := c.targetSites(ctx)
	if err != nil {
		return nil, err
	}

	var devices []DeviceStatus
	for _, site := range sites {
		zones, err := c.Zones(ctx, site.ID)
		if err != nil {
			return nil, err
		}
		for _, zone := range zones {
			if flatten(zone.Adapter).DeviceSerial == "" {
				continue
			}
			baseline, err := c.baselineFromZone(ctx, zone, opts.Full)
			if err != nil {
				return nil, err
			}
			devices = append(devices, baseline)
		}
	}

	if opts.Refresh && len(devices) > 0 {
		token, err := c.accessToken(ctx)
		if err != nil {
			return nil, err
		}
		devices = c.session.refreshBatch(ctx, c.socketURL, token, devices, opts.facets())
	}

	return devices, nil
}

// StatusBySerial returns the status of one device.
func (c *Client) StatusBySerial(ctx context.Context, serial string, opts StatusOptions) (DeviceStatus, error) {
	baseline, err := c.baselineBySerial(ctx, serial, opts.Full)
	if err != nil {
		return DeviceStatus{}, err
	}

	if opts.Refresh {
		token, err := c.accessToken(ctx)
		if err != nil {
			return DeviceStatus{}, err
		}
		refreshed := c.session.refreshBatch(ctx, c.socketURL, token, []DeviceStatus{baseline}, opts.facets())
		return refreshed[0], nil
	}

	return baseline, nil
}

// DeviceByName resolves a friendly name and returns that device's
// status.
func (c *Client) DeviceByName(ctx context.Context, name string, opts StatusOptions) (DeviceStatus, error) {
	serial, err := c.SerialByName(ctx, name)
	if err != nil {
		return DeviceStatus{}, err
	}
	return c.StatusBySerial(ctx, serial, opts)
}

// SerialByName maps a friendly device name to its serial. Configured
// names (KUMO_SERIAL_*) win; zone names are the fallback. Matching is
// case-insensitive with spaces/dashes collapsed to underscores.
func (c *Client) SerialByName(ctx context.Context, name string) (string, error) {
	needle := normalizeName(name)

	for label, serial := range c.serials {
		if normalizeName(label) == needle {
			return serial, nil
		}
	}

	sites, err := c.targetSites(ctx)
	if err != nil {
		return "", err
	}

	var available []string
	for _, site := range sites {
		zones, err := c.Zones(ctx, site.ID)
		if err != nil {
			return "", err
		}
		for _, zone := range zones {
			serial := flatten(zone.Adapter).DeviceSerial
			if serial == "" {
				continue
			}
			if normalizeName(zone.Name) == needle {
				return serial, nil
			}
			available = append(available, zone.Name)
		}
	}

	for label := range c.serials {
		available = append(available, label)
	}
	sort.Strings(available)
	return "", fmt.Errorf("%w: %q (available: %s)", ErrDeviceNotFound, name, strings.Join(available, ", "))
}

// ResolveDevice accepts either a friendly name or a bare serial.
func (c *Client) ResolveDevice(ctx context.Context, nameOrSerial string) string {
	serial, err := c.SerialByName(ctx, nameOrSerial)
	if err != nil {
		return nameOrSerial
	}
	return serial
}

// targetSites is the configured site if one is set, otherwise every
// site on the account.
func (c *Client) targetSites(ctx context.Context) ([]Site, error) {
	if c.siteID != "" {
		return []Site{{ID: c.siteID, Name: "Configured Site"}}, nil
	}
	return c.Sites(ctx)
}

func (c *Client) baselineFromZone(ctx context.Context, zone Zone, full bool) (DeviceStatus, error) {
	payload := zone.Adapter
	if payload == nil {
		return DeviceStatus{}, MalformedPayloadError{Field: "adapter"}
	}

	if full {
		serial := flatten(payload).DeviceSerial
		detail, err := c.Device(ctx, serial)
		if err != nil {
			return DeviceStatus{}, err
		}
		merged, err := overlayPayload(payload, detail)
		if err != nil {
			return DeviceStatus{}, err
		}
		payload = merged
	}

	return normalize("", zone.Name, payload)
}

func (c *Client) baselineBySerial(ctx context.Context, serial string, full bool) (DeviceStatus, error) {
	sites, err := c.targetSites(ctx)
	if err != nil {
		return DeviceStatus{}, err
	}
	for _, site := range sites {
		zones, err := c.Zones(ctx, site.ID)
		if err != nil {
			return DeviceStatus{}, err
		}
		for _, zone := range zones {
			if flatten(zone.Adapter).DeviceSerial == serial {
				return c.baselineFromZone(ctx, zone, full)
			}
		}
	}

	// Not in any zone listing; try the device endpoint directly.
	detail, err := c.Device(ctx, serial)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return DeviceStatus{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, serial)
		}
		return DeviceStatus{}, err
	}
	payload, err := decodeStatusPayload(detail)
	if err != nil {
		return DeviceStatus{}, fmt.Errorf("decode device payload: %w", err)
	}
	return normalize(serial, serial, payload)
}

// overlayPayload layers the device-detail record over the zone
// adapter baseline: detail fields win, adapter fills the gaps.
func overlayPayload(base *statusPayload, detail []byte) (*statusPayload, error) {
	overlay, err := decodeStatusPayload(detail)
	if err != nil {
		return nil, fmt.Errorf("decode device payload: %w", err)
	}
	flatBase := flatten(base)
	combined := flatten(overlay)
	combined.Adapter = &flatBase
	merged := flatten(&combined)
	return &merged, nil
}

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	replacer := strings.NewReplacer(" ", "_", "-", "_")
	name = replacer.Replace(name)
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return name
}
