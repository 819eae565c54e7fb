package tasks

import (
	"fmt"

	"github.com/desertthunder/roundsync/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or server layer for display.
type ProgressUpdate struct {
	Phase    Phase           // Operation phase
	Platform models.Platform // Platform the update concerns, empty when none
	Step     int             // Current step number within phase
	Total    int             // Total steps in this phase
	Message  string          // Human-readable message for display
	Data     any             // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	AcquireLease Phase = iota
	LoadSubmissions
	MatchSongs
	RecordMatches
	CreatePlaylist
	AddTracks
	SavePlaylist
	RenamePlaylist
)

func (p Phase) String() string {
	switch p {
	case AcquireLease:
		return "acquire_lease"
	case LoadSubmissions:
		return "load_submissions"
	case MatchSongs:
		return "match_songs"
	case RecordMatches:
		return "record_matches"
	case CreatePlaylist:
		return "create_playlist"
	case AddTracks:
		return "add_tracks"
	case SavePlaylist:
		return "save_playlist"
	case RenamePlaylist:
		return "rename_playlist"
	default:
		return ""
	}
}

func acquireLeaseUpdate(groupID string, p models.Platform) ProgressUpdate {
	return ProgressUpdate{
		Phase:    AcquireLease,
		Platform: p,
		Step:     1,
		Total:    1,
		Message:  fmt.Sprintf("Acquired sync lease for %s on %s", groupID, p),
	}
}

func loadSubmissionsUpdate(p models.Platform, total, unresolved int) ProgressUpdate {
	return ProgressUpdate{
		Phase:    LoadSubmissions,
		Platform: p,
		Step:     total,
		Total:    total,
		Message:  fmt.Sprintf("Loaded %d accepted songs (%d to match)", total, unresolved),
	}
}

func matchSongUpdate(step, total int, r *models.MatchResult) ProgressUpdate {
	msg := fmt.Sprintf("[%d/%d] %s - %s: ", step, total, r.Song.Artist, r.Song.Title)
	switch {
	case r.PreResolved:
		msg += "already resolved"
	case r.Resolved():
		msg += fmt.Sprintf("matched %s (%.2f)", r.BestMatch.NativeTrackID, r.Confidence)
	default:
		msg += string(r.Unresolved)
	}
	return ProgressUpdate{
		Phase:    MatchSongs,
		Platform: r.Platform,
		Step:     step,
		Total:    total,
		Message:  msg,
		Data:     r,
	}
}

func recordMatchesUpdate(p models.Platform, recorded int) ProgressUpdate {
	return ProgressUpdate{
		Phase:    RecordMatches,
		Platform: p,
		Step:     recorded,
		Total:    recorded,
		Message:  fmt.Sprintf("Recorded %d new track IDs", recorded),
	}
}

func createPlaylistUpdate(pl *models.GroupPlaylist) ProgressUpdate {
	return ProgressUpdate{
		Phase:    CreatePlaylist,
		Platform: pl.Platform,
		Step:     1,
		Total:    1,
		Message:  fmt.Sprintf("Playlist created: %s (ID: %s)", pl.Name, pl.NativePlaylistID),
		Data:     pl,
	}
}

func addTracksUpdate(p models.Platform, step, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:    AddTracks,
		Platform: p,
		Step:     step,
		Total:    total,
		Message:  fmt.Sprintf("Added %d/%d tracks", step, total),
	}
}

func savePlaylistUpdate(pl *models.GroupPlaylist) ProgressUpdate {
	return ProgressUpdate{
		Phase:    SavePlaylist,
		Platform: pl.Platform,
		Step:     1,
		Total:    1,
		Message:  fmt.Sprintf("Saved %s with %d tracks", pl.Name, len(pl.TrackIDs)),
		Data:     pl,
	}
}

func renamePlaylistUpdate(pl *models.GroupPlaylist) ProgressUpdate {
	return ProgressUpdate{
		Phase:    RenamePlaylist,
		Platform: pl.Platform,
		Step:     1,
		Total:    1,
		Message:  fmt.Sprintf("Playlist renamed to %s", pl.Name),
		Data:     pl,
	}
}
