package operations

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/contextvault/vault/internal/entry"
)

// scanEntryRow decodes one vault row in the column order used by
// ListContext's query.
func scanEntryRow(rows *sql.Rows) (entry.Entry, error) {
	var (
		e                  entry.Entry
		tagsJSON, metaJSON string
		createdAtMS        int64
		expiresAtMS        sql.NullInt64
	)

	if err := rows.Scan(&e.ID, &e.Kind, &e.Category, &e.Title, &e.Body,
		&tagsJSON, &metaJSON, &e.Source, &e.IdentityKey, &expiresAtMS,
		&e.FilePath, &createdAtMS, &e.MTimeNS, &e.SizeBytes); err != nil {
		return entry.Entry{}, err
	}

	_ = json.Unmarshal([]byte(tagsJSON), &e.Tags)
	_ = json.Unmarshal([]byte(metaJSON), &e.Meta)

	e.CreatedAt = time.UnixMilli(createdAtMS).UTC()

	if expiresAtMS.Valid {
		t := time.UnixMilli(expiresAtMS.Int64).UTC()
		e.ExpiresAt = &t
	}

	return e, nil
}
