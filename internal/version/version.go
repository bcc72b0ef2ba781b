// ABOUTME: Build version and device identification constants
// ABOUTME: Reported in headset/hello and by the command-line tools
package version

const (
	// Version is the software version
	Version = "0.1.0"

	// Product is the emulated device name
	Product = "XRSync Headset Emulator"

	// Manufacturer identifies the software vendor
	Manufacturer = "xrstream"
)
