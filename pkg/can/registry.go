package can

import (
	"context"
	"net/url"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// OpenFunc opens a Bus from a parsed URL.
type OpenFunc func(ctx context.Context, u *url.URL) (Bus, error)

// Driver binds a URL scheme to an OpenFunc.
type Driver struct {
	Scheme string
	Open   OpenFunc
}

var (
	driversLock sync.RWMutex
	drivers     = make(map[string]Driver)
)

// Register makes a driver available to Open. Registering a scheme twice
// replaces the previous driver.
func Register(d Driver) {
	driversLock.Lock()
	defer driversLock.Unlock()
	drivers[d.Scheme] = d
}

// Schemes lists the registered schemes.
func Schemes() []string {
	driversLock.RLock()
	defer driversLock.RUnlock()
	schemes := make([]string, 0, len(drivers))
	for s := range drivers {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Open opens a Bus, e.g. "socketcan://can0" or "slcan:///dev/ttyUSB0".
func Open(ctx context.Context, busURL string) (Bus, error) {
	u, err := url.Parse(busURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse bus url %q", busURL)
	}
	driversLock.RLock()
	d, ok := drivers[u.Scheme]
	driversLock.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownScheme, "%q", u.Scheme)
	}
	bus, err := d.Open(ctx, u)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", busURL)
	}
	return bus, nil
}
