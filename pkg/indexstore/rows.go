package indexstore

import (
	"time"

	"github.com/labrat-lab/labrat/pkg/resultindex"
	"github.com/labrat-lab/labrat/pkg/runpkg"
)

// ResultRow is one index record mirrored into the database. Column names
// match the record's JSON keys; absent attributes are stored as NULL.
type ResultRow struct {
	ID        uint    `gorm:"primaryKey"`
	Position  int     `gorm:"not null;index"`
	Name      string  `gorm:"column:name;index"`
	Result    string  `gorm:"column:result;index"`
	Notes     *string `gorm:"column:notes;type:text"`
	User      *string `gorm:"column:user"`
	Board     *string `gorm:"column:board"`
	HWID      *string `gorm:"column:hwid;index"`
	Variant   *string `gorm:"column:variant"`
	OS        *string `gorm:"column:os"`
	FW        *string `gorm:"column:fw"`
	Command   *string `gorm:"column:command;type:text"`
	Remote    *string `gorm:"column:remote"`
	StartTime *int64  `gorm:"column:starttime"`
	EndTime   *int64  `gorm:"column:endtime"`
	File      string  `gorm:"column:file;index"`
	SyncedAt  time.Time
}

// TableName overrides the gorm default.
func (ResultRow) TableName() string { return "results" }

// FileRow is one merged package name.
type FileRow struct {
	ID       uint   `gorm:"primaryKey"`
	Position int    `gorm:"not null;index"`
	Name     string `gorm:"not null"`
	SyncedAt time.Time
}

// TableName overrides the gorm default.
func (FileRow) TableName() string { return "files" }

func newResultRow(pos int, r *resultindex.Record, now time.Time) ResultRow {
	return ResultRow{
		Position:  pos,
		Name:      r.Name,
		Result:    string(r.Result),
		Notes:     r.Notes,
		User:      r.User,
		Board:     r.Board,
		HWID:      r.HWID,
		Variant:   r.Variant,
		OS:        r.OS,
		FW:        r.FW,
		Command:   r.Command,
		Remote:    r.Remote,
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
		File:      r.File,
		SyncedAt:  now,
	}
}

// Record converts the row back to an index record.
func (row *ResultRow) Record() resultindex.Record {
	return resultindex.Record{
		Name:      row.Name,
		Result:    runpkg.Result(row.Result),
		Notes:     row.Notes,
		User:      row.User,
		Board:     row.Board,
		HWID:      row.HWID,
		Variant:   row.Variant,
		OS:        row.OS,
		FW:        row.FW,
		Command:   row.Command,
		Remote:    row.Remote,
		StartTime: row.StartTime,
		EndTime:   row.EndTime,
		File:      row.File,
	}
}
