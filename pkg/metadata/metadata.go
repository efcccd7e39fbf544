// Package metadata holds device identity and capability information
// accumulated from status records, plus the device-kind classification
// derived from a device's part number.
package metadata

import (
	"fmt"
	"strings"
	"sync"
)

// Kind classifies a device by its part-number prefix.
type Kind int

const (
	KindUnknown Kind = iota
	KindNyquist1
	KindNyquist2
	KindNyquist3
)

func (k Kind) String() string {
	switch k {
	case KindNyquist1:
		return "Nyquist1"
	case KindNyquist2:
		return "Nyquist2"
	case KindNyquist3:
		return "Nyquist3"
	default:
		return "Unknown"
	}
}

// kindPrefixes maps a case-insensitive part-number prefix to a Kind. Order
// doesn't matter: prefixes are disjoint.
var kindPrefixes = map[string]Kind{
	"nq1":      KindNyquist1,
	"nq2":      KindNyquist2,
	"nq3":      KindNyquist3,
	"dqf-1000": KindNyquist1,
	"dqf-2000": KindNyquist2,
	"dqf-3000": KindNyquist3,
}

// KindFromPartNumber derives a device Kind from its part number by
// case-insensitive prefix match across the closed set above. Unrecognized
// prefixes map to KindUnknown.
func KindFromPartNumber(partNumber string) Kind {
	lower := strings.ToLower(partNumber)
	for prefix, kind := range kindPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return kind
		}
	}
	return KindUnknown
}

// Metadata is a mutable record of device identity/capabilities, populated
// incrementally from status payloads. Every exported accessor takes the
// internal lock; callers never see a torn update.
type Metadata struct {
	mu sync.Mutex

	partNumber   string
	kind         Kind
	serialNumber string
	firmwareRev  string
	hardwareRev  string
	hostName     string
	ssid         string
	devicePort   uint16

	wifiSecurityMode       string
	wifiInfrastructureMode string

	ip  string
	mac string
}

// New returns an empty Metadata record.
func New() *Metadata {
	return &Metadata{}
}

// Fields is the set of incoming values a status payload may supply. Any
// zero-value/empty field in Fields leaves the corresponding stored value
// untouched: non-empty fields win, empty ones never erase.
type Fields struct {
	PartNumber             string
	SerialNumber           string
	FirmwareRev            string
	HardwareRev            string
	HostName               string
	SSID                   string
	DevicePort             uint16
	WifiSecurityMode       string
	WifiInfrastructureMode string
	// IPBytes and MACBytes are the raw wire fields; they are reformatted
	// to dotted-quad / hyphenated-hex, or dropped (left at "") when their
	// length doesn't match the expected 4 or 6 bytes.
	IPBytes  []byte
	MACBytes []byte
}

// Merge applies f to the stored record using the non-empty-wins rule.
func (m *Metadata) Merge(f Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f.PartNumber != "" {
		m.partNumber = f.PartNumber
		m.kind = KindFromPartNumber(f.PartNumber)
	}
	if f.SerialNumber != "" {
		m.serialNumber = f.SerialNumber
	}
	if f.FirmwareRev != "" {
		m.firmwareRev = f.FirmwareRev
	}
	if f.HardwareRev != "" {
		m.hardwareRev = f.HardwareRev
	}
	if f.HostName != "" {
		m.hostName = f.HostName
	}
	if f.SSID != "" {
		m.ssid = f.SSID
	}
	if f.DevicePort != 0 {
		m.devicePort = f.DevicePort
	}
	if f.WifiSecurityMode != "" {
		m.wifiSecurityMode = f.WifiSecurityMode
	}
	if f.WifiInfrastructureMode != "" {
		m.wifiInfrastructureMode = f.WifiInfrastructureMode
	}
	if ip := formatIP(f.IPBytes); ip != "" {
		m.ip = ip
	}
	if mac := formatMAC(f.MACBytes); mac != "" {
		m.mac = mac
	}
}

// formatIP renders a 4-byte field as a dotted quad, or "" if b isn't
// exactly 4 bytes.
func formatIP(b []byte) string {
	if len(b) != 4 {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
}

// formatMAC renders a 6-byte field as hyphen-separated hex, or "" if b
// isn't exactly 6 bytes.
func formatMAC(b []byte) string {
	if len(b) != 6 {
		return ""
	}
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02X", v)
	}
	return strings.Join(parts, "-")
}

// Snapshot is an immutable copy of a Metadata record for safe hand-off to
// callers outside the owning goroutine.
type Snapshot struct {
	PartNumber             string
	Kind                   Kind
	SerialNumber           string
	FirmwareRev            string
	HardwareRev            string
	HostName               string
	SSID                   string
	DevicePort             uint16
	WifiSecurityMode       string
	WifiInfrastructureMode string
	IP                     string
	MAC                    string
}

// Snapshot returns a copy of the current record.
func (m *Metadata) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		PartNumber:             m.partNumber,
		Kind:                   m.kind,
		SerialNumber:           m.serialNumber,
		FirmwareRev:            m.firmwareRev,
		HardwareRev:            m.hardwareRev,
		HostName:               m.hostName,
		SSID:                   m.ssid,
		DevicePort:             m.devicePort,
		WifiSecurityMode:       m.wifiSecurityMode,
		WifiInfrastructureMode: m.wifiInfrastructureMode,
		IP:                     m.ip,
		MAC:                    m.mac,
	}
}
