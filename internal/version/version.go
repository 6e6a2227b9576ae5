// ABOUTME: Version and product identity constants
// ABOUTME: Reported in logs and the mDNS advertisement
package version

const (
	Version      = "0.1.0"
	Product      = "Splitcast Player"
	Manufacturer = "Splitcast"
)
