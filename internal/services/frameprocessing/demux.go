package frameprocessing

import (
	"github.com/rs/zerolog"

	"kepler-multicam-go/internal/config"
	"kepler-multicam-go/internal/logging"
	"kepler-multicam-go/internal/models"
	"kepler-multicam-go/internal/services/camera"
)

// Demultiplexer routes each row of a batch result to the buffers of the
// source that produced the frame
type Demultiplexer struct {
	registry  *camera.Registry
	annotator *Annotator
	logger    zerolog.Logger
}

func NewDemultiplexer(cfg *config.Config, registry *camera.Registry, annotator *Annotator) *Demultiplexer {
	return &Demultiplexer{
		registry:  registry,
		annotator: annotator,
		logger:    logging.NewServiceLogger(cfg, "demux"),
	}
}

// Process annotates every frame of the batch and publishes the
// (frame, count, positions) triple to its source. Rows are paired with batch
// frames by position; a row whose slot is unknown or differs from its frame's
// slot is dropped without affecting the others. It returns a summary per published frame.
func (d *Demultiplexer) Process(batch models.Batch, results []models.FrameResult) []models.FrameSummary {
	summaries := make([]models.FrameSummary, 0, len(results))

	for i, res := range results {
		if i >= len(batch.Frames) {
			d.logger.Warn().Int64("batch_id", batch.ID).Int("row", i).Msg("Result row has no matching frame")
			break
		}
		raw := batch.Frames[i]
		if res.SourceIndex != raw.SourceIndex {
			d.logger.Warn().
				Int64("batch_id", batch.ID).
				Int("row", i).
				Int("row_source_index", res.SourceIndex).
				Int("frame_source_index", raw.SourceIndex).
				Msg("Dropping result row tagged for another source")
			continue
		}

		src, ok := d.registry.Get(res.SourceIndex)
		if !ok {
			d.logger.Warn().
				Int64("batch_id", batch.ID).
				Int("source_index", res.SourceIndex).
				Msg("Dropping result for unknown source slot")
			continue
		}

		ann := d.annotator.Annotate(raw, res.Detections)
		for _, fault := range ann.Faults {
			d.logger.Warn().Err(fault).Int("source_index", src.Index).Msg("Skipped detection")
		}

		src.Buffers().Push(ann.Frame, ann.Count, ann.Positions)

		d.logger.Debug().
			Int("source_index", src.Index).
			Int64("seq", raw.Seq).
			Int("count", ann.Count).
			Msg("Frame published")

		summaries = append(summaries, models.FrameSummary{
			SourceIndex: src.Index,
			Seq:         raw.Seq,
			Count:       ann.Count,
			Positions:   ann.Positions,
			Timestamp:   raw.Timestamp,
		})
	}
	return summaries
}
