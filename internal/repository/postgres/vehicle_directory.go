package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/acme/vehicle-contact-relay/internal/repository"
)

// VehicleDirectory resolves vehicle owners from the registration tables.
type VehicleDirectory struct {
	db *sqlx.DB
}

// NewVehicleDirectory creates a new directory backed by Postgres.
func NewVehicleDirectory(db *sqlx.DB) *VehicleDirectory {
	return &VehicleDirectory{db: db}
}

// ResolveOwner looks up the owner phone and vehicle descriptor for a
// registered vehicle. Returns repository.ErrNotFound when the vehicle is
// unknown or has no owner phone on file.
func (r *VehicleDirectory) ResolveOwner(ctx context.Context, vehicleID string) (*repository.VehicleOwner, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT v.id, o.phone_number, COALESCE(NULLIF(TRIM(CONCAT_WS(' ', v.color, v.make, v.model)), ''), v.plate_number) AS descriptor
		FROM vehicles v
		JOIN owners o ON o.id = v.owner_id
		WHERE v.id = $1 AND o.phone_number IS NOT NULL`, vehicleID)

	var rec struct {
		ID         string `db:"id"`
		Phone      string `db:"phone_number"`
		Descriptor string `db:"descriptor"`
	}
	if err := row.StructScan(&rec); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("vehicle directory: vehicle %s: %w", vehicleID, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("vehicle directory: resolve owner: %w", err)
	}

	return &repository.VehicleOwner{
		VehicleID:  rec.ID,
		OwnerPhone: rec.Phone,
		Descriptor: rec.Descriptor,
	}, nil
}
