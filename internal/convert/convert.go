package convert

import (
	"strings"

	"github.com/go-tangra/go-tangra-assets/internal/collector"
	"github.com/go-tangra/go-tangra-assets/internal/store"
)

// InventoryToRecord turns a local machine inventory into a draft asset. Only
// facts the machine can report are filled in; site, room and user are left
// for the operator.
func InventoryToRecord(inv *collector.Inventory) *store.Record {
	rec := &store.Record{
		Hostname:     strings.TrimSpace(inv.Hostname),
		SerialNumber: inv.System.SerialNumber,
		Model:        ModelName(inv.System),
		Status:       store.StatusOk,
	}

	for _, nic := range inv.Network {
		if nic.Wireless {
			if rec.IPv4WiFi == "" {
				rec.IPv4WiFi, rec.MACWiFi = nic.IPv4, nic.MAC
			}
			continue
		}
		if rec.IPv4Wired == "" {
			rec.IPv4Wired, rec.MACWired = nic.IPv4, nic.MAC
		}
	}

	if inv.System.UUID != "" {
		rec.Note = "SMBIOS UUID " + inv.System.UUID
	}
	return rec
}

// ModelName is the product name, prefixed with the manufacturer unless the
// product name already carries it.
func ModelName(si collector.SystemInfo) string {
	model := strings.TrimSpace(si.Model)
	maker := strings.TrimSpace(si.Manufacturer)
	if maker == "" || model == "" || strings.HasPrefix(strings.ToLower(model), strings.ToLower(maker)) {
		return model
	}
	// Vendors like "Dell Inc." and "LENOVO" read better without suffixes.
	maker = strings.TrimSuffix(strings.TrimSuffix(maker, " Inc."), ",")
	return maker + " " + model
}
