package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"riptide/analysis"
	"riptide/pkg/logger"
	"riptide/risk"
	"riptide/signal"
	"riptide/trader"

	"go.uber.org/zap"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// Database 交易数据库，同时实现 trader / risk / analysis 的持久化契约
// DSN 含 "@tcp(" 视为 MySQL，否则按 SQLite 文件路径处理
type Database struct {
	db      *sql.DB
	isMySQL bool
	log     *zap.Logger
}

// NewDatabase 打开数据库并建表
func NewDatabase(dsn string) (*Database, error) {
	var (
		db      *sql.DB
		err     error
		isMySQL bool
	)

	log := logger.NewModuleLogger("database")

	if strings.Contains(dsn, "@tcp(") {
		isMySQL = true
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("打开MySQL数据库失败: %w", err)
		}
		// 连接生命周期短于 MySQL wait_timeout，避免复用已被服务端关闭的连接
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(3 * time.Minute)
		db.SetConnMaxIdleTime(1 * time.Minute)
		log.Info("✅ 使用MySQL数据库")
	} else {
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("打开SQLite数据库失败: %w", err)
		}
		// WAL: 读不阻塞写，断电/强杀也能保证完整性
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("启用WAL模式失败: %w", err)
		}
		if _, err := db.Exec("PRAGMA synchronous=FULL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("设置synchronous失败: %w", err)
		}
		log.Info("✅ 使用SQLite数据库，已启用 WAL 模式")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	d := &Database{db: db, isMySQL: isMySQL, log: log}
	if err := d.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("创建表失败: %w", err)
	}
	return d, nil
}

// Ping 深度健康检查
func (d *Database) Ping() error {
	return d.db.Ping()
}

// Close 关闭数据库
func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) createTables() error {
	autoInc := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d.isMySQL {
		autoInc = "BIGINT PRIMARY KEY AUTO_INCREMENT"
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			divergence_detected BOOLEAN NOT NULL DEFAULT 0,
			divergence_type TEXT DEFAULT '',
			indicator TEXT DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			direction TEXT DEFAULT '',
			entry_price REAL DEFAULT 0,
			stop_loss REAL DEFAULT 0,
			take_profit_1 REAL DEFAULT 0,
			take_profit_2 REAL DEFAULT 0,
			take_profit_3 REAL DEFAULT 0,
			swing_length_bars INTEGER DEFAULT 0,
			divergence_magnitude REAL DEFAULT 0,
			confirming_indicators TEXT DEFAULT '[]',
			reasoning TEXT DEFAULT '',
			broker_id TEXT DEFAULT '',
			validated BOOLEAN NOT NULL DEFAULT 0,
			validation_reason TEXT DEFAULT '',
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			signal_id TEXT NOT NULL,
			broker_order_id TEXT DEFAULT '',
			broker_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			state TEXT NOT NULL,
			entry_price REAL NOT NULL,
			original_stop_loss REAL NOT NULL,
			stop_loss REAL NOT NULL,
			take_profit_1 REAL DEFAULT 0,
			take_profit_2 REAL DEFAULT 0,
			take_profit_3 REAL DEFAULT 0,
			quantity REAL NOT NULL,
			remaining_quantity REAL NOT NULL,
			filled_price REAL DEFAULT 0,
			exit_price REAL DEFAULT 0,
			pnl REAL NOT NULL DEFAULT 0,
			fees REAL NOT NULL DEFAULT 0,
			tp_stage INTEGER NOT NULL DEFAULT 0,
			trail_stage INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			closed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_signal ON orders(signal_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_broker_state ON orders(broker_id, state)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS portfolio_snapshots (
			id %s,
			broker_id TEXT NOT NULL,
			equity REAL NOT NULL,
			available REAL NOT NULL,
			daily_pnl REAL NOT NULL,
			open_positions INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`, autoInc),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS circuit_breaker_events (
			id %s,
			reason TEXT NOT NULL,
			details TEXT DEFAULT '',
			tripped_at TEXT NOT NULL,
			resolved_at TEXT
		)`, autoInc),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS analysis_cycles (
			id %s,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			candle_ts TEXT NOT NULL,
			signal_id TEXT DEFAULT '',
			validated BOOLEAN NOT NULL DEFAULT 0,
			reason TEXT DEFAULT '',
			created_at TEXT NOT NULL,
			UNIQUE(symbol, timeframe, candle_ts)
		)`, autoInc),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS signal_outcomes (
			id %s,
			signal_id TEXT NOT NULL UNIQUE,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			direction TEXT NOT NULL,
			entry_price REAL NOT NULL,
			stop_loss REAL NOT NULL,
			tp1 REAL NOT NULL,
			tp2 REAL NOT NULL,
			price_1h REAL,
			price_4h REAL,
			price_12h REAL,
			price_24h REAL,
			mfe REAL NOT NULL DEFAULT 0,
			mae REAL NOT NULL DEFAULT 0,
			tp1_hit BOOLEAN NOT NULL DEFAULT 0,
			tp2_hit BOOLEAN NOT NULL DEFAULT 0,
			sl_hit BOOLEAN NOT NULL DEFAULT 0,
			verdict TEXT NOT NULL DEFAULT 'pending',
			resolved BOOLEAN NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			resolved_at TEXT
		)`, autoInc),
	}

	for _, q := range queries {
		if _, err := d.db.Exec(q); err != nil {
			return fmt.Errorf("执行建表语句失败: %w", err)
		}
	}
	return nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(s string) time.Time {
	// SQLite/MySQL 都按统一格式写入，容错 RFC3339
	if t, err := time.Parse(dbTimeLayout, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// --- trader.Store ---

// CreateSignal 信号落库
func (d *Database) CreateSignal(sig *signal.Signal) error {
	confirming, err := json.Marshal(sig.ConfirmingIndicators)
	if err != nil {
		confirming = []byte("[]")
	}
	_, err = d.db.Exec(`INSERT INTO signals (
		id, symbol, timeframe, divergence_detected, divergence_type, indicator,
		confidence, direction, entry_price, stop_loss,
		take_profit_1, take_profit_2, take_profit_3,
		swing_length_bars, divergence_magnitude, confirming_indicators,
		reasoning, broker_id, validated, validation_reason, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.Symbol, sig.Timeframe, sig.DivergenceDetected, string(sig.DivergenceType), sig.Indicator,
		sig.Confidence, string(sig.Direction), sig.EntryPrice, sig.StopLoss,
		sig.TakeProfit1, sig.TakeProfit2, sig.TakeProfit3,
		sig.SwingLengthBars, sig.DivergenceMagnitude, string(confirming),
		sig.Reasoning, sig.BrokerID, sig.Validated, sig.ValidationReason, fmtTime(sig.CreatedAt))
	return err
}

// CreateOrder 新订单落库
func (d *Database) CreateOrder(o *trader.Order) error {
	_, err := d.db.Exec(`INSERT INTO orders (
		id, signal_id, broker_order_id, broker_id, symbol, direction, state,
		entry_price, original_stop_loss, stop_loss,
		take_profit_1, take_profit_2, take_profit_3,
		quantity, remaining_quantity, filled_price, exit_price,
		pnl, fees, tp_stage, trail_stage, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.SignalID, o.BrokerOrderID, o.BrokerID, o.Symbol, string(o.Direction), string(o.State),
		o.EntryPrice, o.OriginalStopLoss, o.StopLoss,
		o.TakeProfit1, o.TakeProfit2, o.TakeProfit3,
		o.Quantity, o.RemainingQuantity, o.FilledPrice, o.ExitPrice,
		o.PnL, o.Fees, o.TPStage, o.TrailStage, fmtTime(o.CreatedAt), fmtTime(o.CreatedAt))
	return err
}

// RecordFill 成交只写 filled_price，且只接受 PENDING 状态的订单
func (d *Database) RecordFill(orderID string, fillPrice float64) error {
	res, err := d.db.Exec(`UPDATE orders
		SET filled_price = ?, state = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		fillPrice, string(trader.StateOpen), fmtTime(time.Now()), orderID, string(trader.StatePending))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("订单 %s 不在可成交状态", orderID)
	}
	return nil
}

// RecordPartialClose 部分平仓: 盈亏累加，剩余数量减少，止损上移
func (d *Database) RecordPartialClose(orderID string, closedQty, pnlDelta, newStop float64, tpStage int) error {
	_, err := d.db.Exec(`UPDATE orders
		SET pnl = pnl + ?, remaining_quantity = remaining_quantity - ?,
		    stop_loss = ?, tp_stage = ?, state = ?, updated_at = ?
		WHERE id = ?`,
		pnlDelta, closedQty, newStop, tpStage, string(trader.StatePartiallyClosed),
		fmtTime(time.Now()), orderID)
	return err
}

// RecordFinalClose 最终平仓: 只写 exit_price，绝不碰 filled_price
func (d *Database) RecordFinalClose(orderID string, exitPrice, pnlDelta float64, state trader.OrderState) error {
	now := fmtTime(time.Now())
	_, err := d.db.Exec(`UPDATE orders
		SET pnl = pnl + ?, exit_price = ?, remaining_quantity = 0,
		    state = ?, closed_at = ?, updated_at = ?
		WHERE id = ?`,
		pnlDelta, exitPrice, string(state), now, now, orderID)
	return err
}

// UpdateStopLoss 追踪止损
func (d *Database) UpdateStopLoss(orderID string, newStop float64, trailStage int) error {
	_, err := d.db.Exec(`UPDATE orders SET stop_loss = ?, trail_stage = ?, updated_at = ? WHERE id = ?`,
		newStop, trailStage, fmtTime(time.Now()), orderID)
	return err
}

// UpdateOrderState REJECTED/CANCELLED 等状态迁移
func (d *Database) UpdateOrderState(orderID string, state trader.OrderState) error {
	now := fmtTime(time.Now())
	if state.IsTerminal() {
		_, err := d.db.Exec(`UPDATE orders SET state = ?, closed_at = ?, updated_at = ? WHERE id = ?`,
			string(state), now, now, orderID)
		return err
	}
	_, err := d.db.Exec(`UPDATE orders SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), now, orderID)
	return err
}

const orderColumns = `id, signal_id, broker_order_id, broker_id, symbol, direction, state,
	entry_price, original_stop_loss, stop_loss,
	take_profit_1, take_profit_2, take_profit_3,
	quantity, remaining_quantity, filled_price, exit_price,
	pnl, fees, tp_stage, trail_stage, created_at, updated_at, closed_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (*trader.Order, error) {
	var o trader.Order
	var direction, state, createdAt, updatedAt string
	var closedAt sql.NullString
	err := row.Scan(&o.ID, &o.SignalID, &o.BrokerOrderID, &o.BrokerID, &o.Symbol, &direction, &state,
		&o.EntryPrice, &o.OriginalStopLoss, &o.StopLoss,
		&o.TakeProfit1, &o.TakeProfit2, &o.TakeProfit3,
		&o.Quantity, &o.RemainingQuantity, &o.FilledPrice, &o.ExitPrice,
		&o.PnL, &o.Fees, &o.TPStage, &o.TrailStage, &createdAt, &updatedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	o.Direction = signal.Direction(direction)
	o.State = trader.OrderState(state)
	o.CreatedAt = parseDBTime(createdAt)
	o.UpdatedAt = parseDBTime(updatedAt)
	if closedAt.Valid {
		t := parseDBTime(closedAt.String)
		o.ClosedAt = &t
	}
	return &o, nil
}

func (d *Database) queryOrders(where string, args ...interface{}) ([]*trader.Order, error) {
	rows, err := d.db.Query(`SELECT `+orderColumns+` FROM orders `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*trader.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// OpenOrders 活跃订单 (OPEN / PARTIALLY_CLOSED)
func (d *Database) OpenOrders(brokerID string) ([]*trader.Order, error) {
	return d.queryOrders(`WHERE broker_id = ? AND state IN (?, ?) ORDER BY created_at`,
		brokerID, string(trader.StateOpen), string(trader.StatePartiallyClosed))
}

// PendingOrders 等待成交的订单
func (d *Database) PendingOrders(brokerID string) ([]*trader.Order, error) {
	return d.queryOrders(`WHERE broker_id = ? AND state = ? ORDER BY created_at`,
		brokerID, string(trader.StatePending))
}

// OrderBySignalID 按信号查订单，无记录返回 nil, nil
func (d *Database) OrderBySignalID(signalID string) (*trader.Order, error) {
	o, err := scanOrder(d.db.QueryRow(
		`SELECT `+orderColumns+` FROM orders WHERE signal_id = ? ORDER BY created_at DESC LIMIT 1`, signalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

// OrderByID 按订单ID查询
func (d *Database) OrderByID(orderID string) (*trader.Order, error) {
	o, err := scanOrder(d.db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

// --- risk.Store ---

// CumulativePnL 累计已实现盈亏
func (d *Database) CumulativePnL(brokerID string) (float64, error) {
	var pnl float64
	err := d.db.QueryRow(`SELECT COALESCE(SUM(pnl), 0) FROM orders WHERE broker_id = ?`, brokerID).Scan(&pnl)
	return pnl, err
}

// DailyPnL 今日(UTC)已实现盈亏与平仓笔数
func (d *Database) DailyPnL(brokerID string) (float64, int, error) {
	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	var pnl float64
	var trades int
	err := d.db.QueryRow(`SELECT COALESCE(SUM(pnl), 0), COUNT(*) FROM orders
		WHERE broker_id = ? AND closed_at IS NOT NULL AND closed_at >= ?`,
		brokerID, fmtTime(dayStart)).Scan(&pnl, &trades)
	return pnl, trades, err
}

// PeakEquity 历史权益峰值（组合快照）
func (d *Database) PeakEquity(brokerID string) (float64, error) {
	var peak float64
	err := d.db.QueryRow(`SELECT COALESCE(MAX(equity), 0) FROM portfolio_snapshots WHERE broker_id = ?`,
		brokerID).Scan(&peak)
	return peak, err
}

// OpenPositions 某交易所的持仓视图
func (d *Database) OpenPositions(brokerID string) ([]risk.OpenPosition, error) {
	rows, err := d.db.Query(`SELECT id, signal_id, symbol, direction, remaining_quantity, entry_price, tp_stage, pnl
		FROM orders WHERE broker_id = ? AND state IN (?, ?)`,
		brokerID, string(trader.StateOpen), string(trader.StatePartiallyClosed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []risk.OpenPosition
	for rows.Next() {
		var p risk.OpenPosition
		var direction string
		if err := rows.Scan(&p.OrderID, &p.SignalID, &p.Symbol, &direction,
			&p.RemainingQuantity, &p.EntryPrice, &p.TPStage, &p.PnL); err != nil {
			return nil, err
		}
		p.Direction = signal.Direction(direction)
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertCircuitBreakerEvent 记录熔断事件
func (d *Database) InsertCircuitBreakerEvent(reason, details string) (int64, error) {
	res, err := d.db.Exec(`INSERT INTO circuit_breaker_events (reason, details, tripped_at) VALUES (?, ?, ?)`,
		reason, details, fmtTime(time.Now()))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ResolveCircuitBreakerEvent 标记熔断事件已解除
func (d *Database) ResolveCircuitBreakerEvent(id int64) error {
	_, err := d.db.Exec(`UPDATE circuit_breaker_events SET resolved_at = ? WHERE id = ?`,
		fmtTime(time.Now()), id)
	return err
}

// --- trader.CycleStore ---

// AnalyzedCandles 回填去重缓存
func (d *Database) AnalyzedCandles(since time.Time) ([]trader.AnalysisKey, error) {
	rows, err := d.db.Query(`SELECT symbol, timeframe, candle_ts FROM analysis_cycles WHERE candle_ts >= ?`,
		fmtTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trader.AnalysisKey
	for rows.Next() {
		var k trader.AnalysisKey
		var ts string
		if err := rows.Scan(&k.Symbol, &k.Timeframe, &ts); err != nil {
			return nil, err
		}
		k.CandleTS = parseDBTime(ts)
		out = append(out, k)
	}
	return out, rows.Err()
}

// RecordAnalysisCycle 记录一次K线分析，同一根K线重复记录被忽略
func (d *Database) RecordAnalysisCycle(symbol, timeframe string, candleTS time.Time, signalID string, validated bool, reason string) error {
	stmt := `INSERT OR IGNORE INTO analysis_cycles (symbol, timeframe, candle_ts, signal_id, validated, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	if d.isMySQL {
		stmt = `INSERT IGNORE INTO analysis_cycles (symbol, timeframe, candle_ts, signal_id, validated, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	}
	_, err := d.db.Exec(stmt, symbol, timeframe, fmtTime(candleTS), signalID, validated, reason, fmtTime(time.Now()))
	return err
}

// RecordPortfolioSnapshot 组合快照（权益曲线）
func (d *Database) RecordPortfolioSnapshot(brokerID string, equity, available, dailyPnL float64, openPositions int) error {
	_, err := d.db.Exec(`INSERT INTO portfolio_snapshots (broker_id, equity, available, daily_pnl, open_positions, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		brokerID, equity, available, dailyPnL, openPositions, fmtTime(time.Now()))
	return err
}

// --- analysis.Store ---

// SignalsWithoutOutcome 已验证但尚未建立跟踪记录的信号
func (d *Database) SignalsWithoutOutcome() ([]*signal.Signal, error) {
	rows, err := d.db.Query(`SELECT s.id, s.symbol, s.timeframe, s.direction,
		s.entry_price, s.stop_loss, s.take_profit_1, s.take_profit_2, s.created_at
		FROM signals s LEFT JOIN signal_outcomes o ON o.signal_id = s.id
		WHERE s.validated = 1 AND o.id IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*signal.Signal
	for rows.Next() {
		var s signal.Signal
		var direction, createdAt string
		if err := rows.Scan(&s.ID, &s.Symbol, &s.Timeframe, &direction,
			&s.EntryPrice, &s.StopLoss, &s.TakeProfit1, &s.TakeProfit2, &createdAt); err != nil {
			return nil, err
		}
		s.Direction = signal.Direction(direction)
		s.CreatedAt = parseDBTime(createdAt)
		s.Validated = true
		out = append(out, &s)
	}
	return out, rows.Err()
}

// CreateOutcome 新建跟踪记录
func (d *Database) CreateOutcome(o *analysis.Outcome) (int64, error) {
	res, err := d.db.Exec(`INSERT INTO signal_outcomes (
		signal_id, symbol, timeframe, direction, entry_price, stop_loss, tp1, tp2,
		mfe, mae, verdict, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.SignalID, o.Symbol, o.Timeframe, string(o.Direction),
		o.EntryPrice, o.StopLoss, o.TP1, o.TP2,
		o.MFE, o.MAE, o.Verdict, fmtTime(o.CreatedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UnresolvedOutcomes 尚未敲定判定的跟踪记录
func (d *Database) UnresolvedOutcomes() ([]*analysis.Outcome, error) {
	rows, err := d.db.Query(`SELECT id, signal_id, symbol, timeframe, direction,
		entry_price, stop_loss, tp1, tp2,
		price_1h, price_4h, price_12h, price_24h,
		mfe, mae, tp1_hit, tp2_hit, sl_hit, verdict, resolved, created_at, resolved_at
		FROM signal_outcomes WHERE resolved = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*analysis.Outcome
	for rows.Next() {
		var o analysis.Outcome
		var direction, createdAt string
		var resolvedAt sql.NullString
		var p1, p4, p12, p24 sql.NullFloat64
		if err := rows.Scan(&o.ID, &o.SignalID, &o.Symbol, &o.Timeframe, &direction,
			&o.EntryPrice, &o.StopLoss, &o.TP1, &o.TP2,
			&p1, &p4, &p12, &p24,
			&o.MFE, &o.MAE, &o.TP1Hit, &o.TP2Hit, &o.SLHit, &o.Verdict, &o.Resolved,
			&createdAt, &resolvedAt); err != nil {
			return nil, err
		}
		o.Direction = signal.Direction(direction)
		o.CreatedAt = parseDBTime(createdAt)
		if resolvedAt.Valid {
			t := parseDBTime(resolvedAt.String)
			o.ResolvedAt = &t
		}
		if p1.Valid {
			o.Price1h = &p1.Float64
		}
		if p4.Valid {
			o.Price4h = &p4.Float64
		}
		if p12.Valid {
			o.Price12h = &p12.Float64
		}
		if p24.Valid {
			o.Price24h = &p24.Float64
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

// UpdateOutcome 回写跟踪进度
func (d *Database) UpdateOutcome(o *analysis.Outcome) error {
	var resolvedAt interface{}
	if o.ResolvedAt != nil {
		resolvedAt = fmtTime(*o.ResolvedAt)
	}
	toNull := func(p *float64) interface{} {
		if p == nil {
			return nil
		}
		return *p
	}
	_, err := d.db.Exec(`UPDATE signal_outcomes SET
		price_1h = ?, price_4h = ?, price_12h = ?, price_24h = ?,
		mfe = ?, mae = ?, tp1_hit = ?, tp2_hit = ?, sl_hit = ?,
		verdict = ?, resolved = ?, resolved_at = ?
		WHERE id = ?`,
		toNull(o.Price1h), toNull(o.Price4h), toNull(o.Price12h), toNull(o.Price24h),
		o.MFE, o.MAE, o.TP1Hit, o.TP2Hit, o.SLHit,
		o.Verdict, o.Resolved, resolvedAt, o.ID)
	return err
}
