// Package domain contains models for per-organization usage aggregation.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Project is a usage-counted resource owned by an organization.
type Project struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index" json:"org_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Status    string       `gorm:"type:text;not null;default:'active'" json:"status"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Project) TableName() string { return "projects" }

// Contact is a usage-counted resource owned by an organization.
type Contact struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index" json:"org_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Email     string       `gorm:"type:text" json:"email"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Contact) TableName() string { return "contacts" }

// Document tracks stored file sizes counted against the storage limit.
type Document struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index" json:"org_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	FileSize  int64        `gorm:"not null;default:0" json:"file_size"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Document) TableName() string { return "documents" }
