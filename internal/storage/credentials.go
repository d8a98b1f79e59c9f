package storage

import (
	"context"
	"database/sql"

	"github.com/micro-ha/hive-bridge/internal/model"
)

// LoadCredentials returns stored credentials or ErrNotFound.
func (r *Repository) LoadCredentials(ctx context.Context) (model.Credentials, error) {
	var (
		creds                                    model.Credentials
		groupKey, deviceKey, devicePW, deviceNme sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT username, password, device_group_key, device_key, device_password, device_name
		FROM credentials WHERE id = 1`).
		Scan(&creds.Username, &creds.Password, &groupKey, &deviceKey, &devicePW, &deviceNme)
	if err != nil {
		return model.Credentials{}, notFound(err)
	}
	device := &model.DeviceMetadata{
		GroupKey: nullString(groupKey),
		Key:      nullString(deviceKey),
		Password: nullString(devicePW),
		Name:     nullString(deviceNme),
	}
	if device.Valid() {
		creds.Device = device
	}
	return creds, nil
}

// SaveCredentials replaces the stored credentials. Changing the username
// forgets the remembered device.
func (r *Repository) SaveCredentials(ctx context.Context, creds model.Credentials) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var previous string
	err = tx.QueryRowContext(ctx, `SELECT username FROM credentials WHERE id = 1`).Scan(&previous)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	device := creds.Device
	if device == nil && previous == creds.Username {
		var groupKey, deviceKey, devicePW, deviceName sql.NullString
		err = tx.QueryRowContext(ctx, `
			SELECT device_group_key, device_key, device_password, device_name
			FROM credentials WHERE id = 1`).Scan(&groupKey, &deviceKey, &devicePW, &deviceName)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		device = &model.DeviceMetadata{GroupKey: nullString(groupKey), Key: nullString(deviceKey), Password: nullString(devicePW), Name: nullString(deviceName)}
	}
	if device == nil {
		device = &model.DeviceMetadata{}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credentials (id, username, password, device_group_key, device_key, device_password, device_name, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username=excluded.username,
			password=excluded.password,
			device_group_key=excluded.device_group_key,
			device_key=excluded.device_key,
			device_password=excluded.device_password,
			device_name=excluded.device_name,
			updated_at=excluded.updated_at`,
		creds.Username,
		creds.Password,
		fromString(device.GroupKey),
		fromString(device.Key),
		fromString(device.Password),
		fromString(device.Name),
		nowText(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveDevice stores remembered-device metadata next to the credentials.
func (r *Repository) SaveDevice(ctx context.Context, device model.DeviceMetadata) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE credentials SET device_group_key = ?, device_key = ?, device_password = ?, device_name = ?, updated_at = ?
		WHERE id = 1`,
		device.GroupKey, device.Key, device.Password, device.Name, nowText())
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}
