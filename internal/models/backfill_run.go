package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

type RunTrigger string

const (
	RunTriggerManual RunTrigger = "manual"
	RunTriggerCron   RunTrigger = "cron"
)

type RunState string

const (
	RunStateDone   RunState = "done"
	RunStateFailed RunState = "failed"
)

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *JSONB) Scan(value interface{}) error {
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	case nil:
		*j = nil
		return nil
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

type BackfillRun struct {
	ID         uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Trigger    RunTrigger `gorm:"size:16;not null" json:"trigger"`
	State      RunState   `gorm:"size:16;not null;index" json:"state"`
	Stats      JSONB      `gorm:"type:json" json:"stats"`
	Error      string     `gorm:"type:text" json:"error,omitempty"`
	StartedAt  time.Time  `gorm:"not null;index" json:"started_at"`
	FinishedAt time.Time  `gorm:"not null" json:"finished_at"`
}

func (BackfillRun) TableName() string {
	return "backfill_runs"
}

// AutoMigrate 创建或更新积分相关表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&LockPoints{}, &UserPoints{}, &BackfillRun{}, &ProcessedBlock{}, &CalculationBackup{})
}
