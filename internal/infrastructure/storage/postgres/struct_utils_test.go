package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pharmaledger/internal/core/id"
)

type Stamped struct {
	CreatedAt time.Time `db:"created_at"`
}

type sampleRow struct {
	ID       id.ID  `db:"id"`
	Name     string `db:"name"`
	Internal string `db:"-"`
	Note     string
	Stamped
}

func TestExtractDBColumns_FlattensEmbedded(t *testing.T) {
	cols := ExtractDBColumns[sampleRow]()

	assert.Equal(t, []string{"id", "name", "created_at"}, cols)
}

func TestStructValuesAndMap(t *testing.T) {
	now := time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC)
	row := sampleRow{ID: id.New(), Name: "x", Internal: "skip", Note: "skip", Stamped: Stamped{CreatedAt: now}}

	assert.Equal(t, []any{row.ID, "x", now}, StructValues(row))
	assert.Equal(t, []any{row.ID, "x", now}, StructValues(&row))

	m := StructToMap(row)
	assert.Len(t, m, 3)
	assert.Equal(t, now, m["created_at"])
	assert.Nil(t, StructToMap(42))
}
