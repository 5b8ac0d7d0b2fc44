// README: Driver value objects held by the pool and copied into bookings.
package matching

import "ridebook/internal/types"

type Vehicle struct {
	Make  string `json:"make"`
	Model string `json:"model"`
	Color string `json:"color"`
	Plate string `json:"plate"`
}

type Driver struct {
	ID      types.ID `json:"id"`
	Name    string   `json:"name"`
	Phone   string   `json:"phone"`
	Rating  float64  `json:"rating"`
	Vehicle Vehicle  `json:"vehicle"`
}

// DefaultDrivers is the demo pool served when no external source is configured.
var DefaultDrivers = []Driver{
	{
		ID:     "drv-michael-smith",
		Name:   "Michael Smith",
		Phone:  "+1 (555) 123-4567",
		Rating: 4.8,
		Vehicle: Vehicle{
			Make:  "Toyota",
			Model: "Camry",
			Color: "Silver",
			Plate: "ABC 1234",
		},
	},
	{
		ID:     "drv-sarah-johnson",
		Name:   "Sarah Johnson",
		Phone:  "+1 (555) 987-6543",
		Rating: 4.9,
		Vehicle: Vehicle{
			Make:  "Honda",
			Model: "Accord",
			Color: "Black",
			Plate: "XYZ 7890",
		},
	},
}
