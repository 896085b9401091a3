package intent

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "LendFlow-Chain/internal/errors"
)

// MySQLStore 使用 MySQL 记录意图状态。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS intent_records (
        id VARCHAR(64) PRIMARY KEY,
        chain VARCHAR(64) DEFAULT '',
        kind VARCHAR(32) NOT NULL,
        symbol VARCHAR(32) DEFAULT '',
        amount VARCHAR(78) DEFAULT '',
        rate_mode INT NOT NULL DEFAULT 0,
        pool_id VARCHAR(128) DEFAULT '',
        claim_contract VARCHAR(66) DEFAULT '',
        claim_calldata TEXT,
        wallet VARCHAR(66) DEFAULT '',
        status VARCHAR(32) NOT NULL,
        attempts INT NOT NULL DEFAULT 0,
        max_retries INT NOT NULL DEFAULT 3,
        last_error TEXT,
        error_code VARCHAR(64) DEFAULT '',
        result_stage VARCHAR(32) DEFAULT '',
        result_tx_hash VARCHAR(66) DEFAULT '',
        result_confirmed TINYINT(1) NOT NULL DEFAULT 0,
        result_block_number VARCHAR(66) DEFAULT '',
        result_gas_used BIGINT UNSIGNED NOT NULL DEFAULT 0,
        result_skipped TINYINT(1) NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_intent_status (status),
        INDEX idx_intent_wallet (wallet),
        INDEX idx_intent_updated (updated_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 intent_records 表失败")
	}
	return nil
}

const intentColumns = `id, chain, kind, symbol, amount, rate_mode, pool_id, claim_contract, claim_calldata, wallet,
        status, attempts, max_retries, last_error, error_code,
        result_stage, result_tx_hash, result_confirmed, result_block_number, result_gas_used, result_skipped,
        created_at, updated_at`

// Create 插入新的意图记录。
func (s *MySQLStore) Create(ctx context.Context, record *Record) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "record 不能为空")
	}
	if strings.TrimSpace(record.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "意图 ID 不能为空")
	}

	now := time.Now().Unix()
	record.CreatedAt = now
	record.UpdatedAt = now

	const stmt = `INSERT INTO intent_records
        (id, chain, kind, symbol, amount, rate_mode, pool_id, claim_contract, claim_calldata, wallet,
         status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		record.ID,
		record.Chain,
		record.Kind,
		record.Symbol,
		record.Amount,
		record.RateMode,
		record.PoolID,
		record.ClaimContract,
		record.ClaimCalldata,
		record.Wallet,
		record.Status,
		record.Attempts,
		record.MaxRetries,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrIntentConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入意图失败")
	}
	return nil
}

// Get 查询指定意图。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM intent_records WHERE id = ?`, id)
	record, err := scanRecord(row.Scan)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrIntentNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询意图失败")
	}
	return record, nil
}

// Claim 将意图标记为运行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Record, error) {
	const updateStmt = `UPDATE intent_records SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, updateStmt,
		StatusRunning,
		now,
		id,
		StatusPending,
		StatusFailed,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新意图状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		record, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		switch record.Status {
		case StatusSucceeded:
			return record, ErrIntentCompleted
		case StatusRunning:
			return record, ErrIntentConflict
		default:
			if record.Attempts >= record.MaxRetries {
				return record, ErrIntentExhausted
			}
			return record, ErrIntentConflict
		}
	}
	return s.Get(ctx, id)
}

// MarkSucceeded 将意图标记为成功。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error {
	const stmt = `UPDATE intent_records SET status = ?, result_stage = ?, result_tx_hash = ?, result_confirmed = ?,
        result_block_number = ?, result_gas_used = ?, result_skipped = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		StatusSucceeded,
		result.Stage,
		result.TxHash,
		result.Confirmed,
		result.BlockNumber,
		result.GasUsed,
		result.Skipped,
		now,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记意图成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// MarkFailed 将意图标记为失败。result 非空时一并保存链上结果。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, _ bool, result *ExecutionResult) error {
	now := time.Now().Unix()
	var res sql.Result
	var err error
	if result != nil {
		const stmt = `UPDATE intent_records SET status = ?, last_error = ?, error_code = ?,
            result_stage = ?, result_tx_hash = ?, result_confirmed = ?, result_block_number = ?, result_gas_used = ?, result_skipped = ?,
            updated_at = ? WHERE id = ?`
		res, err = s.db.ExecContext(ctx, stmt,
			StatusFailed,
			lastError,
			string(code),
			result.Stage,
			result.TxHash,
			result.Confirmed,
			result.BlockNumber,
			result.GasUsed,
			result.Skipped,
			now,
			id,
		)
	} else {
		const stmt = `UPDATE intent_records SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`
		res, err = s.db.ExecContext(ctx, stmt,
			StatusFailed,
			lastError,
			string(code),
			now,
			id,
		)
	}
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记意图失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// List 返回符合过滤条件的意图。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Record, error) {
	opts.applyDefaults()

	query := `SELECT ` + intentColumns + ` FROM intent_records`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"

	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询意图列表失败")
	}
	defer rows.Close()

	records := make([]*Record, 0, opts.Limit)
	for rows.Next() {
		record, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析意图记录失败")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历意图失败")
	}
	return records, nil
}

// Stats 返回符合过滤条件的意图聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (IntentStats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS pending,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS running,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS succeeded,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM intent_records`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	args := []any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed)}
	args = append(args, filterArgs...)

	row := s.db.QueryRowContext(ctx, query, args...)

	var stats IntentStats
	if err := row.Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return IntentStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询意图统计失败")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanRecord(scan func(dest ...any) error) (*Record, error) {
	var record Record
	var result ExecutionResult
	if err := scan(
		&record.ID,
		&record.Chain,
		&record.Kind,
		&record.Symbol,
		&record.Amount,
		&record.RateMode,
		&record.PoolID,
		&record.ClaimContract,
		&record.ClaimCalldata,
		&record.Wallet,
		&record.Status,
		&record.Attempts,
		&record.MaxRetries,
		&record.LastError,
		&record.ErrorCode,
		&result.Stage,
		&result.TxHash,
		&result.Confirmed,
		&result.BlockNumber,
		&result.GasUsed,
		&result.Skipped,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if result.hasContent() {
		record.Result = &result
	}
	return &record, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for range opts.Statuses {
			placeholders = append(placeholders, "?")
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
		for _, status := range opts.Statuses {
			args = append(args, status)
		}
	}
	if len(opts.Kinds) > 0 {
		placeholders := make([]string, 0, len(opts.Kinds))
		for range opts.Kinds {
			placeholders = append(placeholders, "?")
		}
		conditions = append(conditions, fmt.Sprintf("kind IN (%s)", strings.Join(placeholders, ",")))
		for _, kind := range opts.Kinds {
			args = append(args, kind)
		}
	}
	if opts.Wallet != "" {
		conditions = append(conditions, "wallet = ?")
		args = append(args, opts.Wallet)
	}
	if opts.PoolID != "" {
		conditions = append(conditions, "pool_id = ?")
		args = append(args, opts.PoolID)
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
