package detection

import (
	"context"
	"fmt"

	"kepler-multicam-go/internal/models"
)

// Detector runs object detection over a whole batch. It returns one result
// row per batch frame, in batch order.
type Detector interface {
	Infer(ctx context.Context, batch models.Batch) ([]models.FrameResult, error)
	Close() error
}

// MatchResults pairs detector rows with batch frames by position. A row whose
// slot or sequence differs from its frame, a row past the end of the batch
// and a frame left without a row are each reported as a fault and left out.
// The returned batch and rows have equal length and line up.
func MatchResults(batch models.Batch, results []models.FrameResult) (models.Batch, []models.FrameResult, []*models.PipelineFault) {
	matched := models.Batch{ID: batch.ID, CreatedAt: batch.CreatedAt, Frames: make([]*models.RawFrame, 0, len(batch.Frames))}
	rows := make([]models.FrameResult, 0, len(results))
	var faults []*models.PipelineFault

	for i, r := range results {
		if i >= len(batch.Frames) {
			faults = append(faults, &models.PipelineFault{
				Stage: "inference",
				Err:   fmt.Errorf("batch %d row %d for source %d has no matching frame", batch.ID, i, r.SourceIndex),
			})
			continue
		}
		f := batch.Frames[i]
		if r.SourceIndex != f.SourceIndex || r.Seq != f.Seq {
			faults = append(faults, &models.PipelineFault{
				Stage: "inference",
				Err: fmt.Errorf("batch %d row %d is for source %d seq %d, expected source %d seq %d",
					batch.ID, i, r.SourceIndex, r.Seq, f.SourceIndex, f.Seq),
			})
			continue
		}
		matched.Frames = append(matched.Frames, f)
		rows = append(rows, r)
	}
	for i := len(results); i < len(batch.Frames); i++ {
		f := batch.Frames[i]
		faults = append(faults, &models.PipelineFault{
			Stage: "inference",
			Err:   fmt.Errorf("batch %d frame of source %d seq %d got no result row", batch.ID, f.SourceIndex, f.Seq),
		})
	}
	return matched, rows, faults
}
