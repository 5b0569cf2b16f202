package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "agentd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndSearchMemories(t *testing.T) {
	s := openTestStore(t)

	first, err := s.SaveMemory("standup moved to 10am")
	require.NoError(t, err)
	require.Equal(t, uint64(1), first.ID)

	_, err = s.SaveMemory("wifi password is hunter2")
	require.NoError(t, err)

	matches, err := s.SearchMemories("STANDUP")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "standup moved to 10am", matches[0].Text)

	all, err := s.AllMemories()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, uint64(1), all[0].ID)
	require.Equal(t, uint64(2), all[1].ID)

	none, err := s.SearchMemories("nonexistent")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestSaveMemoryRejectsEmptyText(t *testing.T) {
	s := openTestStore(t)
	_, err := s.SaveMemory("   ")
	require.Error(t, err)
}

func TestTaskLifecycle(t *testing.T) {
	s := openTestStore(t)

	task, err := s.AddTask("buy milk")
	require.NoError(t, err)
	require.False(t, task.Done)

	_, err = s.AddTask("water plants")
	require.NoError(t, err)

	pending, err := s.Tasks(true)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	done, err := s.CompleteTask(task.ID)
	require.NoError(t, err)
	require.True(t, done.Done)
	require.NotNil(t, done.CompletedAt)

	pending, err = s.Tasks(true)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "water plants", pending[0].Description)

	all, err := s.Tasks(false)
	require.NoError(t, err)
	require.Len(t, all, 2)

	// Completing again keeps the original completion.
	again, err := s.CompleteTask(task.ID)
	require.NoError(t, err)
	require.True(t, again.Done)

	_, err = s.CompleteTask(999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCalendarEvents(t *testing.T) {
	s := openTestStore(t)

	_, err := s.AddEvent("dentist", "2026-09-01", "14:30")
	require.NoError(t, err)
	_, err = s.AddEvent("team offsite", "2026-09-02", "")
	require.NoError(t, err)

	day, err := s.Events("2026-09-01")
	require.NoError(t, err)
	require.Len(t, day, 1)
	require.Equal(t, "dentist", day[0].Title)
	require.Equal(t, "14:30", day[0].Time)

	all, err := s.Events("")
	require.NoError(t, err)
	require.Len(t, all, 2)

	_, err = s.AddEvent("bad", "tomorrow", "")
	require.Error(t, err)
	_, err = s.AddEvent("bad", "2026-09-01", "2pm")
	require.Error(t, err)
	_, err = s.AddEvent("", "2026-09-01", "")
	require.Error(t, err)
}

func TestStoreClosed(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.SaveMemory("late")
	require.ErrorIs(t, err, ErrStoreClosed)
	_, err = s.Tasks(false)
	require.ErrorIs(t, err, ErrStoreClosed)
	require.NoError(t, s.Close())
}

func TestStoreReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentd.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.SaveMemory("persisted")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	all, err := s.AllMemories()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "persisted", all[0].Text)
}
