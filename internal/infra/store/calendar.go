package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Event is one calendar entry. Date is YYYY-MM-DD; Time, when set, is
// HH:MM in the user's local zone.
type Event struct {
	ID        uint64    `json:"id"`
	Title     string    `json:"title"`
	Date      string    `json:"date"`
	Time      string    `json:"time,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// AddEvent appends a calendar entry after validating its date.
func (s *Store) AddEvent(title, date, timeOfDay string) (Event, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Event{}, fmt.Errorf("event title is required")
	}
	date = strings.TrimSpace(date)
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return Event{}, fmt.Errorf("event date must be YYYY-MM-DD: %w", err)
	}
	timeOfDay = strings.TrimSpace(timeOfDay)
	if timeOfDay != "" {
		if _, err := time.Parse("15:04", timeOfDay); err != nil {
			return Event{}, fmt.Errorf("event time must be HH:MM: %w", err)
		}
	}

	event := Event{Title: title, Date: date, Time: timeOfDay, CreatedAt: time.Now().UTC()}
	err := s.update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketEvents)
		id, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		event.ID = id
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		return bucket.Put(sequenceKey(id), data)
	})
	if err != nil {
		return Event{}, err
	}
	return event, nil
}

// Events returns entries in insertion order. A non-empty date filters
// to that day.
func (s *Store) Events(date string) ([]Event, error) {
	date = strings.TrimSpace(date)
	var events []Event
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEvents).ForEach(func(_, value []byte) error {
			var event Event
			if err := json.Unmarshal(value, &event); err != nil {
				return err
			}
			if date == "" || event.Date == date {
				events = append(events, event)
			}
			return nil
		})
	})
	return events, err
}
