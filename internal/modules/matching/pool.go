// README: Driver pool sources. The engine only ever reads from a pool.
package matching

import (
	"context"
)

type Pool interface {
	Available(ctx context.Context) ([]Driver, error)
}

// StaticPool serves a fixed list of drivers.
type StaticPool struct {
	drivers []Driver
}

func NewStaticPool(drivers []Driver) *StaticPool {
	cp := make([]Driver, len(drivers))
	copy(cp, drivers)
	return &StaticPool{drivers: cp}
}

func (p *StaticPool) Available(_ context.Context) ([]Driver, error) {
	cp := make([]Driver, len(p.drivers))
	copy(cp, p.drivers)
	return cp, nil
}
