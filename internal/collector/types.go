package collector

import "time"

// Inventory is what can be learned about the local machine without asking
// the user.
type Inventory struct {
	CollectedAt time.Time    `json:"collected_at"`
	Hostname    string       `json:"hostname"`
	System      SystemInfo   `json:"system"`
	Network     []NetworkNIC `json:"network,omitempty"`
}

// SystemInfo holds the SMBIOS system identification.
type SystemInfo struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	SerialNumber string `json:"serial_number"`
	UUID         string `json:"uuid,omitempty"`
	SKU          string `json:"sku,omitempty"`
	Family       string `json:"family,omitempty"`
}

// NetworkNIC is an active, non-loopback interface with an IPv4 address.
type NetworkNIC struct {
	Name     string `json:"name"`
	MAC      string `json:"mac"`
	IPv4     string `json:"ipv4"`
	Wireless bool   `json:"wireless"`
}
