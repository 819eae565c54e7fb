// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"testing"

	"github.com/desertthunder/roundsync/internal/models"
)

// MockService is a test double for [services.Service]. It keeps playlists in memory
// and records every call.
//
// Search answers from SearchFunc when set, then ByQuery, then the whole Catalog.
type MockService struct {
	PlatformName models.Platform

	SearchFunc func(ctx context.Context, query string, limit int) ([]models.Candidate, error)
	ByQuery    map[string][]models.Candidate
	Catalog    []models.Candidate

	CreateErr error
	AddErr    error
	RenameErr error

	// Gate, when set, holds Search and CreatePlaylist until released.
	Gate *Gate

	mu          sync.Mutex
	searches    []string
	playlists   map[string][]string
	names       map[string]string
	addCalls    int
	createCalls int
}

// NewMockService creates an empty mock for platform p.
func NewMockService(p models.Platform) *MockService {
	return &MockService{PlatformName: p}
}

func (m *MockService) Platform() models.Platform { return m.PlatformName }

func (m *MockService) Search(ctx context.Context, query string, limit int) ([]models.Candidate, error) {
	m.mu.Lock()
	m.searches = append(m.searches, query)
	m.mu.Unlock()

	if err := m.Gate.wait(ctx); err != nil {
		return nil, err
	}

	var out []models.Candidate
	switch {
	case m.SearchFunc != nil:
		var err error
		if out, err = m.SearchFunc(ctx, query, limit); err != nil {
			return nil, err
		}
	case m.ByQuery != nil:
		out = m.ByQuery[query]
	default:
		out = m.Catalog
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return slices.Clone(out), nil
}

func (m *MockService) CreatePlaylist(ctx context.Context, name string) (string, error) {
	if err := m.Gate.wait(ctx); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	if m.playlists == nil {
		m.playlists = make(map[string][]string)
		m.names = make(map[string]string)
	}
	id := fmt.Sprintf("%s-pl-%d", m.PlatformName, m.createCalls)
	m.playlists[id] = nil
	m.names[id] = name
	return id, nil
}

func (m *MockService) AddTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addCalls++
	if m.AddErr != nil {
		return m.AddErr
	}
	if _, ok := m.playlists[playlistID]; !ok {
		return fmt.Errorf("mock: unknown playlist %s", playlistID)
	}
	m.playlists[playlistID] = append(m.playlists[playlistID], trackIDs...)
	return nil
}

func (m *MockService) RenamePlaylist(ctx context.Context, playlistID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RenameErr != nil {
		return m.RenameErr
	}
	if _, ok := m.names[playlistID]; !ok {
		return fmt.Errorf("mock: unknown playlist %s", playlistID)
	}
	m.names[playlistID] = name
	return nil
}

// Searches returns the queries seen so far.
func (m *MockService) Searches() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.searches)
}

// Tracks returns the tracks added to a playlist, in order.
func (m *MockService) Tracks(playlistID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.playlists[playlistID])
}

// PlaylistName returns the current native name of a playlist.
func (m *MockService) PlaylistName(playlistID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.names[playlistID]
}

// Calls reports how many playlists were created and how many add calls were made.
func (m *MockService) Calls() (creates, adds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls, m.addCalls
}

// Gate blocks callers until released. Entered receives once per blocked call
// when a receiver is ready or the buffer has room.
type Gate struct {
	Entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func NewGate() *Gate {
	return &Gate{Entered: make(chan struct{}, 1), release: make(chan struct{})}
}

// Release unblocks every current and future caller.
func (g *Gate) Release() {
	g.once.Do(func() { close(g.release) })
}

func (g *Gate) wait(ctx context.Context) error {
	if g == nil {
		return nil
	}
	select {
	case g.Entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MockSubmissionStore is an in-memory catalog of accepted submissions.
type MockSubmissionStore struct {
	mu        sync.Mutex
	groups    map[string][]models.CanonicalSong
	LoadErr   error
	RecordErr error
	Recorded  int
}

func NewMockSubmissionStore() *MockSubmissionStore {
	return &MockSubmissionStore{groups: make(map[string][]models.CanonicalSong)}
}

// Add appends accepted songs to a group.
func (s *MockSubmissionStore) Add(groupID string, songs ...models.CanonicalSong) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[groupID] = append(s.groups[groupID], songs...)
}

func (s *MockSubmissionStore) AcceptedSubmissions(ctx context.Context, groupID string) ([]models.CanonicalSong, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	out := make([]models.CanonicalSong, len(s.groups[groupID]))
	for i, song := range s.groups[groupID] {
		song.PlatformIDs = cloneIDs(song.PlatformIDs)
		out[i] = song
	}
	return out, nil
}

func (s *MockSubmissionStore) RecordResolvedPlatformID(ctx context.Context, songID string, p models.Platform, trackID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecordErr != nil {
		return s.RecordErr
	}
	for _, songs := range s.groups {
		for i := range songs {
			if songs[i].ID != songID {
				continue
			}
			if songs[i].PlatformIDs == nil {
				songs[i].PlatformIDs = make(map[models.Platform]string)
			}
			songs[i].PlatformIDs[p] = trackID
			s.Recorded++
			return nil
		}
	}
	return errors.New("mock: unknown song " + songID)
}

func cloneIDs(ids map[models.Platform]string) map[models.Platform]string {
	if ids == nil {
		return nil
	}
	out := make(map[models.Platform]string, len(ids))
	for k, v := range ids {
		out[k] = v
	}
	return out
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
