// Package env provides host identity used to name clients.
package env

import (
	"os"
	"strings"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

// appID salts the protected machine id so it is not the raw host id.
const appID = "supercap"

// idLength keeps client ids under the 23 characters MQTT 3.1 allows.
const idLength = 12

// MachineID retrieves an id unique to this host and application.
// It falls back to the hostname when the machine id is not readable.
func MachineID() string {
	id, err := machineid.ProtectedID(appID)
	if err == nil && id != "" {
		return id
	}
	glog.V(1).Infof("machine id unavailable: %v", err)
	if host, herr := os.Hostname(); herr == nil && host != "" {
		return host
	}
	return "unknown"
}

// ClientID builds a client id as "<prefix>-<short machine id>".
func ClientID(prefix string) string {
	id := strings.ToLower(strings.ReplaceAll(MachineID(), "-", ""))
	if len(id) > idLength {
		id = id[:idLength]
	}
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}
