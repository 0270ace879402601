package api

import "github.com/listenupapp/listenup-captions/internal/service"

// Services groups the business logic services used by the API server.
type Services struct {
	Book          *service.BookService
	Transcript    *service.TranscriptService
	Transcription *service.TranscriptionService
	Playback      *service.PlaybackService
}
