package db

const (
	InsertArtifact = `
		INSERT INTO artifacts (id, job_id, filename, kind, book, chapter, version, duration_seconds, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET
			job_id = excluded.job_id, kind = excluded.kind, book = excluded.book,
			chapter = excluded.chapter, version = excluded.version,
			duration_seconds = excluded.duration_seconds, size_bytes = excluded.size_bytes,
			created_at = excluded.created_at
	`

	GetArtifactByFilename = `
		SELECT id, job_id, filename, kind, book, chapter, version, duration_seconds, size_bytes, created_at
		FROM artifacts WHERE filename = ?
	`

	ListArtifacts = `
		SELECT id, job_id, filename, kind, book, chapter, version, duration_seconds, size_bytes, created_at
		FROM artifacts ORDER BY created_at DESC
	`

	ListArtifactsByJob = `
		SELECT id, job_id, filename, kind, book, chapter, version, duration_seconds, size_bytes, created_at
		FROM artifacts WHERE job_id = ? ORDER BY created_at ASC
	`

	ListArtifactsOlderThan = `
		SELECT id, job_id, filename, kind, book, chapter, version, duration_seconds, size_bytes, created_at
		FROM artifacts WHERE created_at < ? ORDER BY created_at ASC
	`

	DeleteArtifactByFilename = `DELETE FROM artifacts WHERE filename = ?`

	ArtifactStatsQuery = `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN kind = 'audio' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'video' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(size_bytes), 0),
			COALESCE(SUM(duration_seconds), 0)
		FROM artifacts
	`

	ArtifactOldestQuery = `
		SELECT created_at FROM artifacts ORDER BY created_at ASC LIMIT 1
	`

	ArtifactNewestQuery = `
		SELECT created_at FROM artifacts ORDER BY created_at DESC LIMIT 1
	`
)
