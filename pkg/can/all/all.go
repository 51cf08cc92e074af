// Package all registers every bus driver.
package all

import (
	_ "github.com/robotalks/supercap.go/pkg/can/mqtt"
	_ "github.com/robotalks/supercap.go/pkg/can/slcan"
	_ "github.com/robotalks/supercap.go/pkg/can/socketcan"
	_ "github.com/robotalks/supercap.go/pkg/sim"
)
