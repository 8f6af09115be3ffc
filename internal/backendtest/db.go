package backendtest

import (
	"database/sql"
	"fmt"

	"github.com/tphummel/smartmine/internal/models"
	_ "modernc.org/sqlite"
)

// db wraps an in-memory SQLite connection holding the fake backend's tables.
type db struct {
	conn *sql.DB
}

func openDB() (*db, error) {
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Every pooled connection to :memory: is a separate database.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &db{conn: conn}, nil
}

func migrate(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS equipment (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			code              TEXT NOT NULL UNIQUE,
			name              TEXT NOT NULL,
			type              TEXT NOT NULL,
			usage_hours       INTEGER NOT NULL DEFAULT 0,
			maintenance_limit INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS maintenance (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			equipment_id     INTEGER NOT NULL REFERENCES equipment(id) ON DELETE CASCADE,
			service_date     TEXT NOT NULL,
			maintenance_type TEXT NOT NULL,
			technician       TEXT NOT NULL,
			description      TEXT NOT NULL,
			usage_at_service INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_maintenance_equipment ON maintenance(equipment_id);
	`)
	return err
}

func (d *db) close() error {
	return d.conn.Close()
}

func (d *db) createEquipment(e *models.Equipment) error {
	res, err := d.conn.Exec(`
		INSERT INTO equipment (code, name, type, usage_hours, maintenance_limit)
		VALUES (?, ?, ?, ?, ?)`,
		e.Code, e.Name, e.Type, e.UsageHours, e.MaintenanceLimit,
	)
	if err != nil {
		return err
	}
	e.ID, err = res.LastInsertId()
	return err
}

// getEquipment returns sql.ErrNoRows if no such unit exists.
func (d *db) getEquipment(id int64) (*models.Equipment, error) {
	var e models.Equipment
	err := d.conn.QueryRow(`
		SELECT id, code, name, type, usage_hours, maintenance_limit
		FROM equipment WHERE id = ?`, id).
		Scan(&e.ID, &e.Code, &e.Name, &e.Type, &e.UsageHours, &e.MaintenanceLimit)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (d *db) listEquipment() ([]models.Equipment, error) {
	rows, err := d.conn.Query(`
		SELECT id, code, name, type, usage_hours, maintenance_limit
		FROM equipment ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Equipment{}
	for rows.Next() {
		var e models.Equipment
		if err := rows.Scan(&e.ID, &e.Code, &e.Name, &e.Type, &e.UsageHours, &e.MaintenanceLimit); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// updateEquipment returns sql.ErrNoRows if no such unit exists.
func (d *db) updateEquipment(e *models.Equipment) error {
	res, err := d.conn.Exec(`
		UPDATE equipment
		SET code=?, name=?, type=?, usage_hours=?, maintenance_limit=?
		WHERE id=?`,
		e.Code, e.Name, e.Type, e.UsageHours, e.MaintenanceLimit, e.ID,
	)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// deleteEquipment returns sql.ErrNoRows if no such unit exists.
func (d *db) deleteEquipment(id int64) error {
	res, err := d.conn.Exec(`DELETE FROM equipment WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (d *db) createMaintenance(m *models.MaintenanceRecord) error {
	res, err := d.conn.Exec(`
		INSERT INTO maintenance (equipment_id, service_date, maintenance_type, technician, description, usage_at_service)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.EquipmentID, m.ServiceDate, m.MaintenanceType, m.Technician, m.Description, m.UsageAtService,
	)
	if err != nil {
		return err
	}
	m.ID, err = res.LastInsertId()
	return err
}

// listMaintenance joins in the equipment name, "Unknown" when the unit is
// gone.
func (d *db) listMaintenance() ([]models.MaintenanceRecord, error) {
	rows, err := d.conn.Query(`
		SELECT m.id, m.equipment_id, COALESCE(e.name, 'Unknown'), m.service_date,
		       m.maintenance_type, m.technician, m.description, m.usage_at_service
		FROM maintenance m LEFT JOIN equipment e ON e.id = m.equipment_id
		ORDER BY m.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.MaintenanceRecord{}
	for rows.Next() {
		var m models.MaintenanceRecord
		if err := rows.Scan(&m.ID, &m.EquipmentID, &m.EquipmentName, &m.ServiceDate,
			&m.MaintenanceType, &m.Technician, &m.Description, &m.UsageAtService); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
