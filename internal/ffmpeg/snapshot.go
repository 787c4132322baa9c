package ffmpeg

import (
	"context"
	"fmt"
)

// SnapshotArgs returns the arguments that grab one frame of input into
// the image file out; the format follows out's extension.
func (e *Executor) SnapshotArgs(input, out string) []string {
	args := e.inputArgs(input)
	return append(args, "-i", input, "-an", "-frames:v", "1", "-update", "1", out)
}

// Snapshot writes the first decodable frame of input to out
func (e *Executor) Snapshot(ctx context.Context, input, out string) error {
	err := e.Run(ctx, RunOptions{
		Args: e.SnapshotArgs(input, out),
		LogHandler: func(line string) {
			e.logger.Debug().Str("source", input).Msg(line)
		},
	})
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", input, err)
	}

	e.logger.Info().Str("source", input).Str("path", out).Msg("snapshot written")
	return nil
}
