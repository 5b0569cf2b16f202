package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Memory is one saved note.
type Memory struct {
	ID        uint64    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// SaveMemory appends a note and returns it with its assigned id.
func (s *Store) SaveMemory(text string) (Memory, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Memory{}, fmt.Errorf("memory text is required")
	}

	memory := Memory{Text: trimmed, CreatedAt: time.Now().UTC()}
	err := s.update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMemories)
		id, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		memory.ID = id
		data, err := json.Marshal(memory)
		if err != nil {
			return err
		}
		return bucket.Put(sequenceKey(id), data)
	})
	if err != nil {
		return Memory{}, err
	}
	return memory, nil
}

// SearchMemories returns memories whose text contains the query,
// case-insensitively, in insertion order.
func (s *Store) SearchMemories(query string) ([]Memory, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	var matches []Memory
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMemories).ForEach(func(_, value []byte) error {
			var memory Memory
			if err := json.Unmarshal(value, &memory); err != nil {
				return err
			}
			if needle == "" || strings.Contains(strings.ToLower(memory.Text), needle) {
				matches = append(matches, memory)
			}
			return nil
		})
	})
	return matches, err
}

// AllMemories returns every saved memory in insertion order.
func (s *Store) AllMemories() ([]Memory, error) {
	return s.SearchMemories("")
}
