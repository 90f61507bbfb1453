package db

import (
	"time"
)

const (
	KindAudio = "audio"
	KindVideo = "video"
)

// Artifact is a generated media file in the output directory.
type Artifact struct {
	ID              string    `json:"id"`
	JobID           string    `json:"jobId"`
	Filename        string    `json:"filename"`
	Kind            string    `json:"kind"`
	Book            string    `json:"book"`
	Chapter         int       `json:"chapter"`
	Version         string    `json:"version"`
	DurationSeconds int       `json:"durationSeconds"`
	SizeBytes       int64     `json:"sizeBytes"`
	CreatedAt       time.Time `json:"createdAt"`
}

type ArtifactStats struct {
	TotalFiles           int        `json:"totalFiles"`
	AudioFiles           int        `json:"audioFiles"`
	VideoFiles           int        `json:"videoFiles"`
	TotalSize            int64      `json:"totalSize"`
	TotalDurationSeconds int64      `json:"totalDurationSeconds"`
	OldestFile           *time.Time `json:"oldestFile"`
	NewestFile           *time.Time `json:"newestFile"`
}
