// Package models defines core data structures for entities, embedding records, queries and results.
package models

import (
	"fmt"
	"time"
)

// Entity is a parent record that owns zero or more embedding records.
type Entity struct {
	ID             string                 `json:"id" db:"id"`
	Name           string                 `json:"name" db:"name"`
	Type           string                 `json:"type" db:"type"`
	Country        string                 `json:"country" db:"country"`
	InService      bool                   `json:"in_service" db:"in_service"`
	Description    string                 `json:"description" db:"description"`
	Year           int                    `json:"year" db:"year"`
	ImageURL       string                 `json:"image_url" db:"image_url"`
	TechnicalSpecs map[string]interface{} `json:"technical_specs,omitempty" db:"-"`
	CreatedAt      time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at" db:"updated_at"`
}

// Validate checks the fields required to persist an entity.
func (e *Entity) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("entity id is required")
	}
	if e.Name == "" {
		return fmt.Errorf("entity name is required")
	}
	return nil
}

// Snapshot returns the subset of the entity joined into search results.
func (e *Entity) Snapshot() EntitySnapshot {
	return EntitySnapshot{
		ID:       e.ID,
		Name:     e.Name,
		Type:     e.Type,
		Country:  e.Country,
		ImageURL: e.ImageURL,
	}
}

// EntitySnapshot is the parent view attached to each stored record when listing.
type EntitySnapshot struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Type     string `json:"type" db:"type"`
	Country  string `json:"country" db:"country"`
	ImageURL string `json:"image_url" db:"image_url"`
}
