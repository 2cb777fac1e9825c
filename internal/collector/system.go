package collector

import (
	"strings"

	"github.com/siderolabs/go-smbios/smbios"
)

// readSMBIOS is replaced in tests.
var readSMBIOS = smbios.New

// placeholders firmware vendors leave in unset SMBIOS strings.
var placeholders = []string{
	"to be filled by o.e.m.",
	"default string",
	"system serial number",
	"not specified",
	"none",
	"0",
}

// collectSystemInfo reads the SMBIOS system information structure.
func collectSystemInfo() (SystemInfo, error) {
	s, err := readSMBIOS()
	if err != nil {
		return SystemInfo{}, err
	}
	return systemInfoFrom(s), nil
}

func systemInfoFrom(s *smbios.SMBIOS) SystemInfo {
	si := s.SystemInformation
	return SystemInfo{
		Manufacturer: clean(si.Manufacturer),
		Model:        clean(si.ProductName),
		SerialNumber: clean(si.SerialNumber),
		UUID:         clean(si.UUID),
		SKU:          clean(si.SKUNumber),
		Family:       clean(si.Family),
	}
}

func clean(s string) string {
	s = strings.TrimSpace(s)
	for _, p := range placeholders {
		if strings.EqualFold(s, p) {
			return ""
		}
	}
	return s
}
