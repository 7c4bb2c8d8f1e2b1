package hypervisor

import (
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var macRe = regexp.MustCompile(`^AA:FC(:[0-9A-F]{2}){4}$`)

func TestGenerateMACStable(t *testing.T) {
	id := "6f1c1f5e-0b5a-4e8b-9a57-1f5c2c0d9e11"
	mac := GenerateMAC(id)
	assert.Regexp(t, macRe, mac)
	assert.Equal(t, mac, GenerateMAC(id))
	assert.NotEqual(t, mac, GenerateMAC(id+"x"))
}

func TestGenerateMACFewCollisions(t *testing.T) {
	const n = 10000
	seen := make(map[string]struct{}, n)
	collisions := 0
	for i := range n {
		mac := GenerateMAC(fmt.Sprintf("%08x-0000-4000-8000-%012x", i, i*7919))
		if _, ok := seen[mac]; ok {
			collisions++
		}
		seen[mac] = struct{}{}
	}
	// Birthday bound over 32 bits puts the expectation near 0.01.
	assert.LessOrEqual(t, collisions, 2)
}
