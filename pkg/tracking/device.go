// ABOUTME: Tracked device identifiers
// ABOUTME: Maps devices to stable names used on the wire and in logs
package tracking

import "fmt"

// Device identifies a tracked pose source
type Device int

const (
	Head Device = iota
	LeftGrip
	RightGrip
	LeftAim
	RightAim

	deviceCount
)

var deviceNames = [deviceCount]string{
	Head:      "head",
	LeftGrip:  "left_grip",
	RightGrip: "right_grip",
	LeftAim:   "left_aim",
	RightAim:  "right_aim",
}

func (d Device) String() string {
	if d < 0 || d >= deviceCount {
		return fmt.Sprintf("device(%d)", int(d))
	}
	return deviceNames[d]
}

// Devices returns every known device
func Devices() []Device {
	devices := make([]Device, 0, deviceCount)
	for d := Device(0); d < deviceCount; d++ {
		devices = append(devices, d)
	}
	return devices
}

// ParseDevice returns the device with the given name
func ParseDevice(name string) (Device, error) {
	for d, n := range deviceNames {
		if n == name {
			return Device(d), nil
		}
	}
	return 0, fmt.Errorf("unknown device %q", name)
}
