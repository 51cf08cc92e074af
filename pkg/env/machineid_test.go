package env

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientID(t *testing.T) {
	id := ClientID("supercapd")
	assert.True(t, strings.HasPrefix(id, "supercapd-"))
	assert.LessOrEqual(t, len(id), len("supercapd-")+idLength)
	assert.Equal(t, id, ClientID("supercapd"))
	assert.NotContains(t, ClientID(""), "-")
}
