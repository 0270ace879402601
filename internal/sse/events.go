// Package sse implements Server-Sent Events for live caption and transcription updates.
package sse

import (
	"time"

	"github.com/listenupapp/listenup-captions/internal/domain"
)

// EventType represents the type of SSE Event.
type EventType string

const (
	// EventHeartbeat represents a connection keepalive event.
	EventHeartbeat EventType = "heartbeat"

	// EventBookRegistered represents a book being added to the catalog.
	EventBookRegistered EventType = "book.registered"
	// EventBookDeleted represents a book being removed from the catalog.
	EventBookDeleted EventType = "book.deleted"

	// EventChunkStored represents a transcript chunk being persisted.
	EventChunkStored EventType = "transcript.chunk_stored"
	// EventTranscriptDeleted represents a book's transcript being dropped.
	EventTranscriptDeleted EventType = "transcript.deleted"

	EventTranscriptionQueued    EventType = "transcription.queued"
	EventTranscriptionProgress  EventType = "transcription.progress"
	EventTranscriptionCompleted EventType = "transcription.completed"
	EventTranscriptionFailed    EventType = "transcription.failed"

	// EventCaptionChanged represents a playback session's active sentence changing.
	// Delivered only to clients subscribed to that session.
	EventCaptionChanged EventType = "caption.changed"
)

// Event represents an SSE event to be sent to clients.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Type      EventType `json:"type"`

	// Filtering fields. Empty string means "broadcast to all".
	BookID    string `json:"-"`
	SessionID string `json:"-"`
}

// BookEventData is the data payload for book events.
type BookEventData struct {
	BookID string `json:"book_id"`
	Title  string `json:"title,omitempty"`
}

// ChunkStoredEventData is the data payload for transcript.chunk_stored.
type ChunkStoredEventData struct {
	BookID    string  `json:"book_id"`
	ChunkID   string  `json:"chunk_id"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Sentences int     `json:"sentences"`
}

// TranscriptionEventData is the data payload for transcription job events.
type TranscriptionEventData struct {
	JobID     string  `json:"job_id"`
	BookID    string  `json:"book_id"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Progress  int     `json:"progress,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// CaptionEventData is the data payload for caption.changed.
// Sentence is nil when the session has no caption at its position.
type CaptionEventData struct {
	SessionID string                      `json:"session_id"`
	BookID    string                      `json:"book_id"`
	Sentence  *domain.TranscribedSentence `json:"sentence"`
}

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent() Event {
	return Event{
		Type:      EventHeartbeat,
		Data:      map[string]any{},
		Timestamp: time.Now(),
	}
}

// NewBookRegisteredEvent creates a book.registered event.
func NewBookRegisteredEvent(book *domain.Book) Event {
	return Event{
		Type:      EventBookRegistered,
		Data:      BookEventData{BookID: book.ID, Title: book.Title},
		Timestamp: time.Now(),
	}
}

// NewBookDeletedEvent creates a book.deleted event.
func NewBookDeletedEvent(bookID string) Event {
	return Event{
		Type:      EventBookDeleted,
		Data:      BookEventData{BookID: bookID},
		Timestamp: time.Now(),
		BookID:    bookID,
	}
}

// NewChunkStoredEvent creates a transcript.chunk_stored event.
func NewChunkStoredEvent(chunk *domain.TranscriptionChunk) Event {
	return Event{
		Type: EventChunkStored,
		Data: ChunkStoredEventData{
			BookID:    chunk.BookID,
			ChunkID:   chunk.ID,
			StartTime: chunk.StartTime,
			EndTime:   chunk.EndTime,
			Sentences: len(chunk.Sentences),
		},
		Timestamp: time.Now(),
		BookID:    chunk.BookID,
	}
}

// NewTranscriptDeletedEvent creates a transcript.deleted event.
func NewTranscriptDeletedEvent(bookID string) Event {
	return Event{
		Type:      EventTranscriptDeleted,
		Data:      BookEventData{BookID: bookID},
		Timestamp: time.Now(),
		BookID:    bookID,
	}
}

func newTranscriptionEvent(t EventType, job *domain.TranscriptionJob) Event {
	return Event{
		Type: t,
		Data: TranscriptionEventData{
			JobID:     job.ID,
			BookID:    job.BookID,
			StartTime: job.StartTime,
			EndTime:   job.EndTime,
			Progress:  job.Progress,
			Error:     job.Error,
		},
		Timestamp: time.Now(),
		BookID:    job.BookID,
	}
}

// NewTranscriptionQueuedEvent creates a transcription.queued event.
func NewTranscriptionQueuedEvent(job *domain.TranscriptionJob) Event {
	return newTranscriptionEvent(EventTranscriptionQueued, job)
}

// NewTranscriptionProgressEvent creates a transcription.progress event.
func NewTranscriptionProgressEvent(job *domain.TranscriptionJob) Event {
	return newTranscriptionEvent(EventTranscriptionProgress, job)
}

// NewTranscriptionCompletedEvent creates a transcription.completed event.
func NewTranscriptionCompletedEvent(job *domain.TranscriptionJob) Event {
	return newTranscriptionEvent(EventTranscriptionCompleted, job)
}

// NewTranscriptionFailedEvent creates a transcription.failed event.
func NewTranscriptionFailedEvent(job *domain.TranscriptionJob) Event {
	return newTranscriptionEvent(EventTranscriptionFailed, job)
}

// NewCaptionChangedEvent creates a caption.changed event scoped to one session.
func NewCaptionChangedEvent(sessionID, bookID string, sentence *domain.TranscribedSentence) Event {
	return Event{
		Type: EventCaptionChanged,
		Data: CaptionEventData{
			SessionID: sessionID,
			BookID:    bookID,
			Sentence:  sentence,
		},
		Timestamp: time.Now(),
		BookID:    bookID,
		SessionID: sessionID,
	}
}
