package hypervisor

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// GenerateMAC derives a stable, locally administered guest MAC from an
// instance ID: AA:FC followed by the low 32 bits of xxhash64(id).
func GenerateMAC(id string) string {
	h := xxhash.Sum64String(id)
	return fmt.Sprintf("AA:FC:%02X:%02X:%02X:%02X",
		byte(h>>24), byte(h>>16), byte(h>>8), byte(h)) //nolint:gosec,mnd
}
