package influxdb

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/nerrad567/fleetlink-core/internal/device"
)

// MeasurementHardware is the measurement hardware snapshots are written to.
const MeasurementHardware = "hardware"

// TagMACAddress tags every point with the reporting device.
const TagMACAddress = "mac_address"

// WriteHardware records the usage figures present in hw. Snapshots with no
// usage figures are skipped. The write is buffered and never blocks.
func (c *Client) WriteHardware(mac string, hw *device.Hardware, at time.Time) {
	fields := HardwareFields(hw)
	if len(fields) == 0 {
		return
	}
	c.WritePointWithTime(MeasurementHardware, map[string]string{TagMACAddress: mac}, fields, at)
}

// WritePointWithTime writes an arbitrary point. Dropped when disconnected.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(influxdb2.NewPoint(measurement, tags, fields, at))
}

// HardwareFields extracts the numeric usage fields from a hardware snapshot.
// Static facts such as model names are left to the device record.
func HardwareFields(hw *device.Hardware) map[string]any {
	fields := make(map[string]any)
	if hw == nil {
		return fields
	}
	if hw.CPU != nil && hw.CPU.Usage != nil {
		fields["cpu_usage"] = *hw.CPU.Usage
	}
	if hw.Memory != nil {
		fields["memory_used"] = hw.Memory.Used
		if hw.Memory.Usage != nil {
			fields["memory_usage"] = *hw.Memory.Usage
		}
	}
	if hw.Storage != nil {
		fields["storage_used"] = hw.Storage.Used
		if hw.Storage.Usage != nil {
			fields["storage_usage"] = *hw.Storage.Usage
		}
	}
	if hw.GPU != nil && hw.GPU.Usage != nil {
		fields["gpu_usage"] = *hw.GPU.Usage
	}
	if hw.OS != nil && hw.OS.Uptime != nil {
		fields["os_uptime"] = *hw.OS.Uptime
	}
	return fields
}
