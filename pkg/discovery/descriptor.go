// Package discovery implements the UDP broadcast probe that finds devices
// on the local network(s) and decodes their responses into
// DeviceDescriptors.
package discovery

import (
	"fmt"
	"strings"

	"github.com/daqifi/daqifi-client-go/pkg/metadata"
)

// DeviceDescriptor is the compact result of discovery: enough information
// to open a DeviceSession.
type DeviceDescriptor struct {
	Name                  string
	SerialNumber          string
	FirmwareVersion       string
	PartNumber            string
	IPAddress             string
	MACAddress            string
	TCPPort               uint16
	LocalInterfaceAddress string
	PowerOn               bool
	DeviceKind            metadata.Kind
}

// identity returns the deduplication key for a descriptor: the
// case-insensitive MAC address when this descriptor has one, otherwise its
// serial number. The key is computed per descriptor, so a descriptor with a
// MAC and one without are never treated as the same device, even when
// their serial numbers match.
func (d DeviceDescriptor) identity() string {
	if d.MACAddress != "" {
		return "mac:" + strings.ToLower(d.MACAddress)
	}
	return "sn:" + d.SerialNumber
}

func descriptorFromResponse(r response, localInterfaceAddr string) DeviceDescriptor {
	var mac string
	if len(r.macAddr) == 6 {
		mac = formatMAC(r.macAddr)
	}
	var ip string
	if len(r.ipAddr) == 4 {
		ip = fmt.Sprintf("%d.%d.%d.%d", r.ipAddr[0], r.ipAddr[1], r.ipAddr[2], r.ipAddr[3])
	}

	return DeviceDescriptor{
		Name:                  r.hostName,
		SerialNumber:          r.deviceSN,
		FirmwareVersion:       r.deviceFWRev,
		PartNumber:            r.devicePN,
		IPAddress:             ip,
		MACAddress:            mac,
		TCPPort:               uint16(r.devicePort),
		LocalInterfaceAddress: localInterfaceAddr,
		PowerOn:               r.powerOn,
		DeviceKind:            metadata.KindFromPartNumber(r.devicePN),
	}
}

func formatMAC(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02X", v)
	}
	return strings.Join(parts, "-")
}
