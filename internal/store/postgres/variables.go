package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/oklog/ulid/v2"

	atcrypto "github.com/rakunlabs/at/internal/crypto"
	"github.com/rakunlabs/at/internal/service"
)

// ─── Variable CRUD ───
//
// Secret variables are encrypted at rest with atcrypto.Encrypt/Decrypt
// (AES-256-GCM, "enc:" prefix); non-secret variables are stored plaintext.

type variableRow struct {
	ID          string    `db:"id"`
	Key         string    `db:"key"`
	Value       string    `db:"value"`
	Description string    `db:"description"`
	Secret      bool      `db:"secret"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
	CreatedBy   string    `db:"created_by"`
	UpdatedBy   string    `db:"updated_by"`
}

func (p *Postgres) ListVariables(ctx context.Context) ([]service.Variable, error) {
	query, _, err := p.goqu.From(p.tableVariables).
		Select("id", "key", "value", "description", "secret", "created_at", "updated_at", "created_by", "updated_by").
		Order(goqu.I("key").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list variables query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list variables: %w", err)
	}
	defer rows.Close()

	p.encKeyMu.RLock()
	encKey := p.encKey
	p.encKeyMu.RUnlock()

	var result []service.Variable
	for rows.Next() {
		var row variableRow
		if err := rows.Scan(&row.ID, &row.Key, &row.Value, &row.Description, &row.Secret, &row.CreatedAt, &row.UpdatedAt, &row.CreatedBy, &row.UpdatedBy); err != nil {
			return nil, fmt.Errorf("scan variable row: %w", err)
		}

		v, err := variableRowToRecord(row, encKey)
		if err != nil {
			return nil, err
		}
		if v.Secret {
			v.Value = "" // redact secret values in list responses
		}
		result = append(result, *v)
	}

	return result, rows.Err()
}

func (p *Postgres) GetVariable(ctx context.Context, id string) (*service.Variable, error) {
	return p.getVariableBy(ctx, goqu.I("id").Eq(id))
}

func (p *Postgres) GetVariableByKey(ctx context.Context, key string) (*service.Variable, error) {
	return p.getVariableBy(ctx, goqu.I("key").Eq(key))
}

func (p *Postgres) getVariableBy(ctx context.Context, cond exp.Expression) (*service.Variable, error) {
	query, _, err := p.goqu.From(p.tableVariables).
		Select("id", "key", "value", "description", "secret", "created_at", "updated_at", "created_by", "updated_by").
		Where(cond).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get variable query: %w", err)
	}

	var row variableRow
	err = p.db.QueryRowContext(ctx, query).Scan(&row.ID, &row.Key, &row.Value, &row.Description, &row.Secret, &row.CreatedAt, &row.UpdatedAt, &row.CreatedBy, &row.UpdatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get variable: %w", err)
	}

	p.encKeyMu.RLock()
	encKey := p.encKey
	p.encKeyMu.RUnlock()

	return variableRowToRecord(row, encKey)
}

func (p *Postgres) CreateVariable(ctx context.Context, v service.Variable) (*service.Variable, error) {
	p.encKeyMu.RLock()
	encKey := p.encKey
	p.encKeyMu.RUnlock()

	storedValue, err := encryptIfSecret(v.Value, v.Secret, encKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt variable value: %w", err)
	}

	id := ulid.Make().String()
	now := time.Now().UTC()

	query, _, err := p.goqu.Insert(p.tableVariables).Rows(
		goqu.Record{
			"id":          id,
			"key":         v.Key,
			"value":       storedValue,
			"description": v.Description,
			"secret":      v.Secret,
			"created_at":  now,
			"updated_at":  now,
			"created_by":  v.CreatedBy,
			"updated_by":  v.UpdatedBy,
		},
	).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build insert variable query: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create variable %q: %w", v.Key, err)
	}

	return &service.Variable{
		ID: id, Key: v.Key, Value: v.Value, Description: v.Description, Secret: v.Secret,
		CreatedAt: now.Format(time.RFC3339), UpdatedAt: now.Format(time.RFC3339),
		CreatedBy: v.CreatedBy, UpdatedBy: v.UpdatedBy,
	}, nil
}

func (p *Postgres) UpdateVariable(ctx context.Context, id string, v service.Variable) (*service.Variable, error) {
	p.encKeyMu.RLock()
	encKey := p.encKey
	p.encKeyMu.RUnlock()

	storedValue, err := encryptIfSecret(v.Value, v.Secret, encKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt variable value: %w", err)
	}

	now := time.Now().UTC()

	query, _, err := p.goqu.Update(p.tableVariables).Set(
		goqu.Record{
			"key":         v.Key,
			"value":       storedValue,
			"description": v.Description,
			"secret":      v.Secret,
			"updated_at":  now,
			"updated_by":  v.UpdatedBy,
		},
	).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build update variable query: %w", err)
	}

	res, err := p.db.ExecContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("update variable %q: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}

	return p.GetVariable(ctx, id)
}

func (p *Postgres) DeleteVariable(ctx context.Context, id string) error {
	query, _, err := p.goqu.Delete(p.tableVariables).
		Where(goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build delete variable query: %w", err)
	}

	_, err = p.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("delete variable %q: %w", id, err)
	}

	return nil
}

func encryptIfSecret(value string, secret bool, key []byte) (string, error) {
	if !secret || key == nil {
		return value, nil
	}
	return atcrypto.Encrypt(value, key)
}

func variableRowToRecord(row variableRow, encKey []byte) (*service.Variable, error) {
	value := row.Value
	if row.Secret && encKey != nil {
		decrypted, err := atcrypto.Decrypt(value, encKey)
		if err != nil {
			return nil, fmt.Errorf("decrypt variable %q: %w", row.Key, err)
		}
		value = decrypted
	}

	return &service.Variable{
		ID:          row.ID,
		Key:         row.Key,
		Value:       value,
		Description: row.Description,
		Secret:      row.Secret,
		CreatedAt:   row.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   row.UpdatedAt.Format(time.RFC3339),
		CreatedBy:   row.CreatedBy,
		UpdatedBy:   row.UpdatedBy,
	}, nil
}

// ─── Encryption Key Rotation ───
//
// RotateEncryptionKey decrypts every secret variable with the current key,
// re-encrypts with newKey, and updates the rows atomically. Passing nil as
// newKey disables encryption (stores plaintext). This replaces the
// teacher's provider-config key rotation — Variable.Value is this engine's
// only at-rest-encrypted field, so it's the sole rotation target.
func (p *Postgres) RotateEncryptionKey(ctx context.Context, newKey []byte) error {
	p.encKeyMu.Lock()
	defer p.encKeyMu.Unlock()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	selectQuery, _, err := p.goqu.From(p.tableVariables).
		Select("id", "key", "value").
		Where(goqu.I("secret").Eq(true)).
		ForUpdate(exp.Wait).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build select query: %w", err)
	}

	rows, err := tx.QueryContext(ctx, selectQuery)
	if err != nil {
		return fmt.Errorf("list secret variables for rotation: %w", err)
	}

	type rowData struct {
		id    string
		key   string
		value string
	}

	var allRows []rowData
	for rows.Next() {
		var r rowData
		if err := rows.Scan(&r.id, &r.key, &r.value); err != nil {
			rows.Close()
			return fmt.Errorf("scan variable row: %w", err)
		}
		allRows = append(allRows, r)
	}
	rows.Close()

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate variable rows: %w", err)
	}

	for _, r := range allRows {
		plaintext, err := atcrypto.Decrypt(r.value, p.encKey)
		if err != nil {
			return fmt.Errorf("decrypt variable %q: %w", r.key, err)
		}

		reencrypted, err := encryptIfSecret(plaintext, true, newKey)
		if err != nil {
			return fmt.Errorf("re-encrypt variable %q: %w", r.key, err)
		}

		updateQuery, _, err := p.goqu.Update(p.tableVariables).Set(
			goqu.Record{"value": reencrypted},
		).Where(goqu.I("id").Eq(r.id)).ToSQL()
		if err != nil {
			return fmt.Errorf("build update query for %q: %w", r.key, err)
		}

		if _, err := tx.ExecContext(ctx, updateQuery); err != nil {
			return fmt.Errorf("update variable %q: %w", r.key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	p.encKey = newKey

	return nil
}

// SetEncryptionKey updates the in-memory encryption key without re-encrypting
// database rows. Used by peer instances when they receive a key rotation
// broadcast from the instance that performed the actual rotation.
func (p *Postgres) SetEncryptionKey(newKey []byte) {
	p.encKeyMu.Lock()
	p.encKey = newKey
	p.encKeyMu.Unlock()
}
