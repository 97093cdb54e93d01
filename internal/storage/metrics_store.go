package storage

import (
	"context"
	"encoding/json"
	"time"
)

func (s *PostgresStore) AppendMetric(ctx context.Context, name string, value float64, labels map[string]string) error {
	b, err := marshalOrNil(labels)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO metrics (metric_type, value, labels, timestamp) VALUES ($1, $2, $3, now())`,
		name, value, b)
	return err
}

func (s *PostgresStore) QueryMetrics(ctx context.Context, name string, from, to time.Time) ([]MetricSample, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, metric_type, value, labels, timestamp FROM metrics
		WHERE metric_type = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC`, name, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MetricSample
	for rows.Next() {
		var m MetricSample
		var labels []byte
		if err := rows.Scan(&m.ID, &m.Name, &m.Value, &labels, &m.Timestamp); err != nil {
			return nil, err
		}
		if len(labels) > 0 {
			if err := json.Unmarshal(labels, &m.Labels); err != nil {
				return nil, err
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
