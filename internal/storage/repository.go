package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"agile-solo-strategy/internal/band"
	"agile-solo-strategy/internal/strategy"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrVersionConflict indicates the strategy state changed underneath
	// the running cycle.
	ErrVersionConflict = errors.New("storage: strategy state version conflict")
	// ErrCorruptState indicates the persisted strategy state cannot be
	// decoded. The controller refuses to run on it rather than guessing.
	ErrCorruptState = errors.New("storage: corrupt strategy state")
	// ErrBandNotFound indicates an unknown band id.
	ErrBandNotFound = errors.New("storage: band not found")
)

const (
	listBandsSQL = `SELECT
        id, sort_order, min_price, max_price, kind, target_pool_id, class_modes, created_at, updated_at
    FROM price_bands
    ORDER BY sort_order;`

	insertBandSQL = `INSERT INTO price_bands (
        sort_order, min_price, max_price, kind, target_pool_id, class_modes
    ) VALUES ($1,$2,$3,$4,$5,$6)
    RETURNING id;`

	updateBandSQL = `UPDATE price_bands
    SET sort_order = $2,
        min_price = $3,
        max_price = $4,
        kind = $5,
        target_pool_id = $6,
        class_modes = $7,
        updated_at = NOW()
    WHERE id = $1;`

	deleteBandSQL = `DELETE FROM price_bands WHERE id = $1;`

	deleteAllBandsSQL = `DELETE FROM price_bands;`

	loadStateSQL = `SELECT
        version, enabled, enrolled_device_ids, current_band_id, pending_band_id,
        pending_since, confirmations, last_price, last_action_at, champion_device_id, updated_at
    FROM strategy_state
    WHERE id = 1;`

	insertStateSQL = `INSERT INTO strategy_state (
        id, version, enabled, enrolled_device_ids, current_band_id, pending_band_id,
        pending_since, confirmations, last_price, last_action_at, champion_device_id, updated_at
    ) VALUES (1,1,$1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
    ON CONFLICT (id) DO NOTHING;`

	updateStateSQL = `UPDATE strategy_state
    SET version = version + 1,
        enabled = $2,
        enrolled_device_ids = $3,
        current_band_id = $4,
        pending_band_id = $5,
        pending_since = $6,
        confirmations = $7,
        last_price = $8,
        last_action_at = $9,
        champion_device_id = $10,
        updated_at = NOW()
    WHERE id = 1 AND version = $1;`

	latestEfficienciesSQL = `SELECT DISTINCT ON (device_id)
        device_id, watts_per_terahash, measured_at
    FROM efficiency_samples
    WHERE device_id = ANY($1)
    ORDER BY device_id, measured_at DESC;`

	listDevicesSQL = `SELECT id, class, label, healthy, last_seen_at
    FROM devices
    WHERE id = ANY($1);`

	insertCycleSQL = `INSERT INTO strategy_cycles (
        evaluated_at, trigger, price, price_unit, matched_band_id, committed_band_id,
        committed, reason, champion_device_id, planned_devices, dispatch_status, coin_price
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12);`

	listRecentCyclesSQL = `SELECT
        evaluated_at, trigger, price, price_unit, matched_band_id, committed_band_id,
        committed, reason, champion_device_id, planned_devices, dispatch_status, coin_price
    FROM strategy_cycles
    ORDER BY evaluated_at DESC
    LIMIT $1;`

	listCyclesBetweenSQL = `SELECT
        evaluated_at, trigger, price, price_unit, matched_band_id, committed_band_id,
        committed, reason, champion_device_id, planned_devices, dispatch_status, coin_price
    FROM strategy_cycles
    WHERE evaluated_at >= $1
      AND evaluated_at < $2
    ORDER BY evaluated_at;`

	countCyclesSQL = `SELECT COUNT(*) FROM strategy_cycles;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// BandAdmin defines operator band management.
type BandAdmin interface {
	ListBands(ctx context.Context) ([]band.PriceBand, error)
	InsertBand(ctx context.Context, b band.PriceBand) (int64, error)
	UpdateBand(ctx context.Context, b band.PriceBand) error
	DeleteBand(ctx context.Context, id int64) error
	ReplaceBands(ctx context.Context, bands []band.PriceBand) error
}

// CycleLog defines read access to the evaluation audit trail.
type CycleLog interface {
	ListRecentCycles(ctx context.Context, limit int) ([]strategy.CycleRecord, error)
	ListCyclesBetween(ctx context.Context, from, to time.Time) ([]strategy.CycleRecord, error)
	CountCycles(ctx context.Context) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates Postgres access for bands, strategy state, telemetry
// reads, and the cycle log.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort
		}
		conn.Release()
	}
	return unlock, true, nil
}

// ListBands returns all configured bands in evaluation order.
func (s *Store) ListBands(ctx context.Context) ([]band.PriceBand, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listBandsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list bands: %w", queryErr)
	}
	defer rows.Close()

	bands := make([]band.PriceBand, 0)
	for rows.Next() {
		b, scanErr := scanBand(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		bands = append(bands, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return bands, nil
}

// InsertBand persists a new band and returns its id.
func (s *Store) InsertBand(ctx context.Context, b band.PriceBand) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	modes, err := marshalClassModes(b.ClassModes)
	if err != nil {
		return 0, err
	}

	var id int64
	if scanErr := pool.QueryRow(ctx, insertBandSQL,
		b.SortOrder,
		decimalArg(b.MinPrice),
		decimalArg(b.MaxPrice),
		string(b.Kind),
		b.TargetPoolID,
		modes,
	).Scan(&id); scanErr != nil {
		return 0, fmt.Errorf("insert band: %w", scanErr)
	}
	return id, nil
}

// UpdateBand rewrites an existing band.
func (s *Store) UpdateBand(ctx context.Context, b band.PriceBand) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	modes, err := marshalClassModes(b.ClassModes)
	if err != nil {
		return err
	}

	cmdTag, execErr := pool.Exec(ctx, updateBandSQL,
		b.ID,
		b.SortOrder,
		decimalArg(b.MinPrice),
		decimalArg(b.MaxPrice),
		string(b.Kind),
		b.TargetPoolID,
		modes,
	)
	if execErr != nil {
		return fmt.Errorf("update band: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrBandNotFound
	}
	return nil
}

// DeleteBand removes a band.
func (s *Store) DeleteBand(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteBandSQL, id)
	if execErr != nil {
		return fmt.Errorf("delete band: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrBandNotFound
	}
	return nil
}

// ReplaceBands swaps the whole band table in one transaction. Used by
// reset-to-defaults.
func (s *Store) ReplaceBands(ctx context.Context, bands []band.PriceBand) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace bands: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, deleteAllBandsSQL); err != nil {
		return fmt.Errorf("clear bands: %w", err)
	}
	for _, b := range bands {
		modes, err := marshalClassModes(b.ClassModes)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertBandSQL,
			b.SortOrder,
			decimalArg(b.MinPrice),
			decimalArg(b.MaxPrice),
			string(b.Kind),
			b.TargetPoolID,
			modes,
		); err != nil {
			return fmt.Errorf("insert band: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// LoadState reads the singleton strategy state. A missing row yields a
// fresh disabled state at version zero.
func (s *Store) LoadState(ctx context.Context) (*strategy.State, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx, loadStateSQL)

	var (
		st           strategy.State
		enrolledJSON []byte
		currentBand  sql.NullInt64
		pendingBand  sql.NullInt64
		pendingSince sql.NullTime
		lastPrice    sql.NullString
		lastAction   sql.NullTime
		champion     sql.NullString
	)

	err = row.Scan(
		&st.Version,
		&st.Enabled,
		&enrolledJSON,
		&currentBand,
		&pendingBand,
		&pendingSince,
		&st.Confirmations,
		&lastPrice,
		&lastAction,
		&champion,
		&st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return &strategy.State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load strategy state: %w", err)
	}

	if len(enrolledJSON) > 0 {
		if err := json.Unmarshal(enrolledJSON, &st.EnrolledDeviceIDs); err != nil {
			return nil, fmt.Errorf("%w: enrolled devices: %v", ErrCorruptState, err)
		}
	}
	if currentBand.Valid {
		v := currentBand.Int64
		st.CurrentBandID = &v
	}
	if pendingBand.Valid {
		v := pendingBand.Int64
		st.PendingBandID = &v
	}
	if pendingSince.Valid {
		v := pendingSince.Time
		st.PendingSince = &v
	}
	if lastPrice.Valid {
		price, convErr := decimal.NewFromString(lastPrice.String)
		if convErr != nil {
			return nil, fmt.Errorf("%w: last price: %v", ErrCorruptState, convErr)
		}
		st.LastPriceChecked = &price
	}
	if lastAction.Valid {
		v := lastAction.Time
		st.LastActionTime = &v
	}
	if champion.Valid {
		v := champion.String
		st.ChampionDeviceID = &v
	}

	return &st, nil
}

// SaveState persists the state with optimistic versioning: version zero
// inserts the singleton row, any other version updates it only if
// unchanged since load. The in-memory version advances on success.
func (s *Store) SaveState(ctx context.Context, st *strategy.State) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	enrolledJSON, err := json.Marshal(st.EnrolledDeviceIDs)
	if err != nil {
		return fmt.Errorf("marshal enrolled devices: %w", err)
	}

	var lastPrice interface{}
	if st.LastPriceChecked != nil {
		lastPrice = st.LastPriceChecked.String()
	}

	if st.Version == 0 {
		cmdTag, execErr := pool.Exec(ctx, insertStateSQL,
			st.Enabled,
			enrolledJSON,
			int64Arg(st.CurrentBandID),
			int64Arg(st.PendingBandID),
			timeArg(st.PendingSince),
			st.Confirmations,
			lastPrice,
			timeArg(st.LastActionTime),
			strArg(st.ChampionDeviceID),
		)
		if execErr != nil {
			return fmt.Errorf("insert strategy state: %w", execErr)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrVersionConflict
		}
		st.Version = 1
		return nil
	}

	cmdTag, execErr := pool.Exec(ctx, updateStateSQL,
		st.Version,
		st.Enabled,
		enrolledJSON,
		int64Arg(st.CurrentBandID),
		int64Arg(st.PendingBandID),
		timeArg(st.PendingSince),
		st.Confirmations,
		lastPrice,
		timeArg(st.LastActionTime),
		strArg(st.ChampionDeviceID),
	)
	if execErr != nil {
		return fmt.Errorf("update strategy state: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	st.Version++
	return nil
}

// LatestEfficiencies returns the newest sample per requested device.
func (s *Store) LatestEfficiencies(ctx context.Context, deviceIDs []string) ([]strategy.EfficiencySample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if len(deviceIDs) == 0 {
		return nil, nil
	}

	rows, queryErr := pool.Query(ctx, latestEfficienciesSQL, deviceIDs)
	if queryErr != nil {
		return nil, fmt.Errorf("latest efficiencies: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]strategy.EfficiencySample, 0, len(deviceIDs))
	for rows.Next() {
		var (
			sample   strategy.EfficiencySample
			wattsStr string
		)
		if err := rows.Scan(&sample.DeviceID, &wattsStr, &sample.MeasuredAt); err != nil {
			return nil, err
		}
		watts, convErr := decimal.NewFromString(wattsStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse watts per terahash: %w", convErr)
		}
		sample.WattsPerTerahash = watts
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// DeviceClasses maps each known device id to its device class.
func (s *Store) DeviceClasses(ctx context.Context, deviceIDs []string) (map[string]string, error) {
	devices, err := s.listDevices(ctx, deviceIDs)
	if err != nil {
		return nil, err
	}
	classes := make(map[string]string, len(devices))
	for _, d := range devices {
		classes[d.ID] = d.Class
	}
	return classes, nil
}

// HealthyDevices maps each known device id to its health flag. Devices
// without a row count as unhealthy.
func (s *Store) HealthyDevices(ctx context.Context, deviceIDs []string) (map[string]bool, error) {
	devices, err := s.listDevices(ctx, deviceIDs)
	if err != nil {
		return nil, err
	}
	health := make(map[string]bool, len(devices))
	for _, d := range devices {
		health[d.ID] = d.Healthy
	}
	return health, nil
}

func (s *Store) listDevices(ctx context.Context, deviceIDs []string) ([]Device, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if len(deviceIDs) == 0 {
		return nil, nil
	}

	rows, queryErr := pool.Query(ctx, listDevicesSQL, deviceIDs)
	if queryErr != nil {
		return nil, fmt.Errorf("list devices: %w", queryErr)
	}
	defer rows.Close()

	devices := make([]Device, 0, len(deviceIDs))
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.Class, &d.Label, &d.Healthy, &d.LastSeenAt); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return devices, nil
}

// RecordCycle appends one evaluation outcome to the audit trail.
func (s *Store) RecordCycle(ctx context.Context, rec strategy.CycleRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var coinPrice interface{}
	if rec.CoinPrice != nil {
		coinPrice = rec.CoinPrice.String()
	}

	if _, execErr := pool.Exec(ctx, insertCycleSQL,
		rec.EvaluatedAt,
		rec.Trigger,
		rec.Price.String(),
		rec.PriceUnit,
		rec.MatchedBandID,
		rec.CommittedBandID,
		rec.Committed,
		rec.Reason,
		strArg(rec.ChampionDeviceID),
		rec.PlannedDevices,
		rec.DispatchStatus,
		coinPrice,
	); execErr != nil {
		return fmt.Errorf("record cycle: %w", execErr)
	}
	return nil
}

// ListRecentCycles lists the newest cycle records first.
func (s *Store) ListRecentCycles(ctx context.Context, limit int) ([]strategy.CycleRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentCyclesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent cycles: %w", queryErr)
	}
	defer rows.Close()

	return collectCycles(rows, limit)
}

// ListCyclesBetween lists cycle records within a time window.
func (s *Store) ListCyclesBetween(ctx context.Context, from, to time.Time) ([]strategy.CycleRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listCyclesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list cycles between: %w", queryErr)
	}
	defer rows.Close()

	return collectCycles(rows, 0)
}

// CountCycles counts stored cycle records.
func (s *Store) CountCycles(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countCyclesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count cycles: %w", scanErr)
	}
	return count, nil
}

func collectCycles(rows pgx.Rows, sizeHint int) ([]strategy.CycleRecord, error) {
	records := make([]strategy.CycleRecord, 0, sizeHint)
	for rows.Next() {
		rec, scanErr := scanCycle(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanCycle(rows pgx.Rows) (strategy.CycleRecord, error) {
	var (
		rec       strategy.CycleRecord
		priceStr  string
		champion  sql.NullString
		coinPrice sql.NullString
	)

	if err := rows.Scan(
		&rec.EvaluatedAt,
		&rec.Trigger,
		&priceStr,
		&rec.PriceUnit,
		&rec.MatchedBandID,
		&rec.CommittedBandID,
		&rec.Committed,
		&rec.Reason,
		&champion,
		&rec.PlannedDevices,
		&rec.DispatchStatus,
		&coinPrice,
	); err != nil {
		return strategy.CycleRecord{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return strategy.CycleRecord{}, fmt.Errorf("parse cycle price: %w", err)
	}
	rec.Price = price

	if champion.Valid {
		v := champion.String
		rec.ChampionDeviceID = &v
	}
	if coinPrice.Valid {
		v, convErr := decimal.NewFromString(coinPrice.String)
		if convErr != nil {
			return strategy.CycleRecord{}, fmt.Errorf("parse coin price: %w", convErr)
		}
		rec.CoinPrice = &v
	}

	return rec, nil
}

func scanBand(rows pgx.Rows) (band.PriceBand, error) {
	var (
		b         band.PriceBand
		minPrice  sql.NullString
		maxPrice  sql.NullString
		kind      string
		modesJSON []byte
	)

	if err := rows.Scan(
		&b.ID,
		&b.SortOrder,
		&minPrice,
		&maxPrice,
		&kind,
		&b.TargetPoolID,
		&modesJSON,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		return band.PriceBand{}, err
	}

	b.Kind = band.Kind(kind)

	if minPrice.Valid {
		v, err := decimal.NewFromString(minPrice.String)
		if err != nil {
			return band.PriceBand{}, fmt.Errorf("parse min price: %w", err)
		}
		b.MinPrice = &v
	}
	if maxPrice.Valid {
		v, err := decimal.NewFromString(maxPrice.String)
		if err != nil {
			return band.PriceBand{}, fmt.Errorf("parse max price: %w", err)
		}
		b.MaxPrice = &v
	}
	if len(modesJSON) > 0 {
		if err := json.Unmarshal(modesJSON, &b.ClassModes); err != nil {
			return band.PriceBand{}, fmt.Errorf("parse class modes: %w", err)
		}
	}

	return b, nil
}

func marshalClassModes(modes map[string]string) ([]byte, error) {
	if modes == nil {
		modes = map[string]string{}
	}
	out, err := json.Marshal(modes)
	if err != nil {
		return nil, fmt.Errorf("marshal class modes: %w", err)
	}
	return out, nil
}

func decimalArg(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func int64Arg(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func strArg(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func timeArg(v *time.Time) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
