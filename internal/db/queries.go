package db

const (
	insertHistory = `
		INSERT INTO print_history (id, printer_id, kind, order_number, status, attempts, last_error, transport, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`

	incrementCounter = `
		INSERT INTO print_counters (printer_id, day, prints)
		VALUES (?, ?, 1)
		ON CONFLICT (printer_id, day) DO UPDATE SET prints = print_counters.prints + 1
	`

	recentHistory = `
		SELECT id, printer_id, kind, order_number, status, attempts, last_error, transport, created_at, completed_at
		FROM print_history WHERE printer_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?
	`

	sumCounters = `
		SELECT COALESCE(SUM(prints), 0) FROM print_counters
		WHERE printer_id = ? AND day >= ? AND day <= ?
	`

	dailyCounters = `
		SELECT day, prints FROM print_counters
		WHERE printer_id = ? AND day >= ? AND day <= ? ORDER BY day ASC
	`

	pruneHistory  = `DELETE FROM print_history WHERE completed_at < ?`
	pruneCounters = `DELETE FROM print_counters WHERE day < ?`
)
