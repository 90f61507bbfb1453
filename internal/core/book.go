package core

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/audibible/narrator/internal/bible"
	"github.com/audibible/narrator/internal/logx"
	"github.com/audibible/narrator/internal/progress"
)

// runBook narrates every chapter of the book under one job id. Chapter
// failures are reported and skipped; only an unknown book fails the job.
func (p *Pipeline) runBook(ctx context.Context, job Job) (any, error) {
	book := job.Params.Book
	logger := logx.FromCtx(ctx).With().Str("book", book).Logger()

	total, ok := bible.ChapterCount(book)
	if !ok {
		err := fmt.Errorf("Book %s not found", book)
		em := newEmitter(p.publisher, job.ID, nil)
		em.fail("validation", 0, "Invalid book: "+book, err)
		return nil, &StageError{Step: "validation", Message: err.Error(), Err: bible.ErrUnknownBook}
	}

	root := filepath.Join(p.cfg.TempDir, job.ID)
	defer p.removeAll(root)

	res := &BookResult{
		Success:        true,
		Book:           book,
		TotalChapters:  total,
		FailedChapters: []int{},
		Artifacts:      []ArtifactRef{},
	}

	for c := 1; c <= total; c++ {
		if err := ctx.Err(); err != nil {
			err = fmt.Errorf("book interrupted before chapter %d: %w", c, err)
			newEmitter(p.publisher, job.ID, nil).fail("book_progress", bookProgress(c, total, 0),
				fmt.Sprintf("Full book interrupted: %s (%d of %d chapters processed)", book, res.CompletedChapters, total), err)
			return nil, err
		}

		p.publisher.Publish(job.ID, bookEvent(book, c, total))

		em := newEmitter(p.publisher, job.ID, &BookContext{Index: c, Total: total})
		dir := filepath.Join(root, fmt.Sprintf("chapter_%d", c))
		chapter, err := p.runChapter(ctx, job, c, dir, em)
		if err != nil {
			logger.Warn().Err(err).Int("chapter", c).Msg("chapter failed, continuing with book")
			res.FailedChapters = append(res.FailedChapters, c)
			continue
		}
		res.CompletedChapters++
		res.Artifacts = append(res.Artifacts, chapter.Artifacts...)
	}

	if job.Params.CreateVideo && res.CompletedChapters > 0 {
		p.removeImage(ctx, job.Params.BackgroundImagePath)
	}

	p.publisher.Publish(job.ID, bookCompleted(res))
	return res, nil
}

func bookEvent(book string, c, total int) progress.Event {
	return progress.Event{
		Type:     progress.TypeProgress,
		Step:     "book_progress",
		Progress: bookProgress(c, total, 0),
		Message:  fmt.Sprintf("Processing %s chapter %d of %d", book, c, total),
		Details:  "Full book transcription in progress",
	}
}

func bookCompleted(res *BookResult) progress.Event {
	return progress.Event{
		Type:     progress.TypeCompleted,
		Step:     "book_complete",
		Progress: 100,
		Message:  fmt.Sprintf("Full book completed: %s (%d chapters)", res.Book, res.TotalChapters),
		Details:  fmt.Sprintf("%d of %d chapters processed successfully", res.CompletedChapters, res.TotalChapters),
		Result:   res,
	}
}
