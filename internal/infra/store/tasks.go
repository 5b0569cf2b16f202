package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Task is one todo item.
type Task struct {
	ID          uint64     `json:"id"`
	Description string     `json:"description"`
	Done        bool       `json:"done"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// AddTask appends a pending task.
func (s *Store) AddTask(description string) (Task, error) {
	trimmed := strings.TrimSpace(description)
	if trimmed == "" {
		return Task{}, fmt.Errorf("task description is required")
	}

	task := Task{Description: trimmed, CreatedAt: time.Now().UTC()}
	err := s.update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketTasks)
		id, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		task.ID = id
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return bucket.Put(sequenceKey(id), data)
	})
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

// Tasks returns tasks in insertion order. When pendingOnly is set,
// completed tasks are filtered out.
func (s *Store) Tasks(pendingOnly bool) ([]Task, error) {
	var tasks []Task
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(_, value []byte) error {
			var task Task
			if err := json.Unmarshal(value, &task); err != nil {
				return err
			}
			if pendingOnly && task.Done {
				return nil
			}
			tasks = append(tasks, task)
			return nil
		})
	})
	return tasks, err
}

// CompleteTask marks a task done. Completing an already done task is a
// no-op that still returns the task.
func (s *Store) CompleteTask(id uint64) (Task, error) {
	var task Task
	err := s.update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketTasks)
		value := bucket.Get(sequenceKey(id))
		if value == nil {
			return fmt.Errorf("task %d: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(value, &task); err != nil {
			return err
		}
		if task.Done {
			return nil
		}
		now := time.Now().UTC()
		task.Done = true
		task.CompletedAt = &now
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return bucket.Put(sequenceKey(id), data)
	})
	if err != nil {
		return Task{}, err
	}
	return task, nil
}
