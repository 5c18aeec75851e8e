package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// FallbackDeviceID is used when a heartbeat, alert, status or response
// payload carries no identifier. The firmware behaves the same way. Two
// devices that both omit their id collide onto this one record.
const FallbackDeviceID = "001"

// deviceIDWidth is the zero-padded width of canonical device ids.
const deviceIDWidth = 3

// maxDeviceNumber is the largest id that fits the canonical width.
const maxDeviceNumber = 999

// NormalizeDeviceID converts a numeric id in any accepted spelling
// ("7", "007", 7) to its canonical zero-padded form ("007").
func NormalizeDeviceID(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	n, err := strconv.Atoi(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not numeric", ErrInvalidDeviceID, raw)
	}
	return FormatDeviceID(n)
}

// FormatDeviceID formats a device number as a canonical id.
func FormatDeviceID(n int) (string, error) {
	if n < 1 || n > maxDeviceNumber {
		return "", fmt.Errorf("%w: %d out of range 1..%d", ErrInvalidDeviceID, n, maxDeviceNumber)
	}
	return fmt.Sprintf("%0*d", deviceIDWidth, n), nil
}

// DeviceNumber returns the numeric form of a device id, as carried in
// compact payloads ("r", "i", "remota_id").
func DeviceNumber(id string) (int, error) {
	canonical, err := NormalizeDeviceID(id)
	if err != nil {
		return 0, err
	}
	n, _ := strconv.Atoi(canonical) //nolint:errcheck // canonical ids are numeric
	return n, nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
