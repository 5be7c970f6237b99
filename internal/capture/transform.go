package capture

// TransformConfig bundles what the INSERT/UPDATE/DELETE transforms
// need from the caller's table configuration.
type TransformConfig struct {
	Table      string
	PrimaryKey PrimaryKeySpec
	Filter     FilterSpec
	// Full selects updateValuesMode=full for UPDATE transforms.
	Full bool
}

// Log is the capture pipeline's output shape before ambient context
// (user/ip/metadata) is attached by the writer at persist time.
type Log struct {
	Action   string
	Table    string
	RecordID string
	Values   map[string]any
}

// Row pairs a captured row with its own column order, since
// map[string]any has none.
type Row struct {
	Values map[string]any
	Order  []string
}

// InsertLogs builds one audit log per non-nil row.
func InsertLogs(cfg TransformConfig, rows []Row) ([]Log, error) {
	logs := make([]Log, 0, len(rows))
	for _, r := range rows {
		if r.Values == nil {
			continue
		}
		id, err := ExtractPrimaryKey(r.Values, cfg.Table, cfg.PrimaryKey)
		if err != nil {
			return nil, err
		}
		filtered, _ := FilterFields(r.Values, r.Order, cfg.Filter)
		logs = append(logs, Log{Action: "INSERT", Table: cfg.Table, RecordID: id, Values: filtered})
	}
	return logs, nil
}

// DeleteLogs is symmetric to InsertLogs with Action = DELETE.
func DeleteLogs(cfg TransformConfig, rows []Row) ([]Log, error) {
	logs, err := InsertLogs(cfg, rows)
	if err != nil {
		return nil, err
	}
	for i := range logs {
		logs[i].Action = "DELETE"
	}
	return logs, nil
}

// UpdateLogs builds the UPDATE transform: full-row snapshot when
// cfg.Full or before is empty, otherwise a per-row diff against the
// paired before-row (by primary key), falling back to full mode for
// any after-row with no matching before-row, and emitting nothing for
// a row whose permitted fields did not change.
func UpdateLogs(cfg TransformConfig, before, after []Row) ([]Log, error) {
	if cfg.Full || len(before) == 0 {
		return fullUpdateLogs(cfg, after)
	}

	byID := make(map[string]Row, len(before))
	for _, b := range before {
		id, err := ExtractPrimaryKey(b.Values, cfg.Table, cfg.PrimaryKey)
		if err != nil {
			return nil, err
		}
		byID[id] = b
	}

	logs := make([]Log, 0, len(after))
	for _, a := range after {
		id, err := ExtractPrimaryKey(a.Values, cfg.Table, cfg.PrimaryKey)
		if err != nil {
			return nil, err
		}
		b, ok := byID[id]
		if !ok {
			filtered, _ := FilterFields(a.Values, a.Order, cfg.Filter)
			logs = append(logs, Log{Action: "UPDATE", Table: cfg.Table, RecordID: id, Values: filtered})
			continue
		}
		filteredBefore, _ := FilterFields(b.Values, b.Order, cfg.Filter)
		filteredAfter, _ := FilterFields(a.Values, a.Order, cfg.Filter)
		changed := ChangedValues(filteredBefore, filteredAfter)
		if len(changed) == 0 {
			continue
		}
		logs = append(logs, Log{Action: "UPDATE", Table: cfg.Table, RecordID: id, Values: changed})
	}
	return logs, nil
}

func fullUpdateLogs(cfg TransformConfig, rows []Row) ([]Log, error) {
	logs := make([]Log, 0, len(rows))
	for _, r := range rows {
		id, err := ExtractPrimaryKey(r.Values, cfg.Table, cfg.PrimaryKey)
		if err != nil {
			return nil, err
		}
		filtered, _ := FilterFields(r.Values, r.Order, cfg.Filter)
		logs = append(logs, Log{Action: "UPDATE", Table: cfg.Table, RecordID: id, Values: filtered})
	}
	return logs, nil
}
