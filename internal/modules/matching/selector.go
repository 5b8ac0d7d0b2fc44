// README: Assignment selector strategies (pure, no side effects).
package matching

import (
	"errors"
	"math/rand"
)

var ErrNoDriverAvailable = errors.New("no driver available")

// Selector picks one driver from a pool snapshot.
type Selector interface {
	Select(pool []Driver) (Driver, error)
}

// RandomSelector chooses uniformly at random. It intentionally ignores
// rating, proximity and load.
type RandomSelector struct{}

func (RandomSelector) Select(pool []Driver) (Driver, error) {
	if len(pool) == 0 {
		return Driver{}, ErrNoDriverAvailable
	}
	return pool[rand.Intn(len(pool))], nil
}

// FirstSelector always returns the first driver; used where a deterministic pick is required.
type FirstSelector struct{}

func (FirstSelector) Select(pool []Driver) (Driver, error) {
	if len(pool) == 0 {
		return Driver{}, ErrNoDriverAvailable
	}
	return pool[0], nil
}

// PickRandomDrivers returns up to n distinct drivers from pool without mutating it.
func PickRandomDrivers(pool []Driver, n int) []Driver {
	if n <= 0 || len(pool) == 0 {
		return nil
	}
	if n > len(pool) {
		n = len(pool)
	}
	cp := make([]Driver, len(pool))
	copy(cp, pool)
	// partial Fisher-Yates
	for i := 0; i < n; i++ {
		j := i + rand.Intn(len(cp)-i)
		cp[i], cp[j] = cp[j], cp[i]
	}
	return cp[:n]
}
