// Package transfer implements the chunked file transfer between two
// execution channels.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bnema/dockship/internal/boundaries/out"
	"github.com/bnema/dockship/internal/domain"
	"github.com/bnema/dockship/internal/logging"
	"github.com/bnema/dockship/pkg/bytesize"
)

// Progress is reported after every chunk.
type Progress struct {
	Transferred    int64
	Total          int64
	Elapsed        time.Duration
	BytesPerSecond float64
}

// Fraction returns the completed share in [0, 1].
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 1
	}
	f := float64(p.Transferred) / float64(p.Total)
	if f > 1 {
		return 1
	}
	return f
}

// ProgressFunc receives progress updates. It runs on the copy goroutine.
type ProgressFunc func(Progress)

// Request describes one transfer.
type Request struct {
	Source     out.Channel
	SourcePath string
	Dest       out.Channel
	DestPath   string
	ChunkSize  int64
	Progress   ProgressFunc
}

// Result is the accounting of a finished transfer.
type Result struct {
	Total          int64         `yaml:"total_bytes"`
	Transferred    int64         `yaml:"transferred_bytes"`
	Elapsed        time.Duration `yaml:"elapsed"`
	BytesPerSecond float64       `yaml:"bytes_per_second"`
}

// Verify reports ErrTransferSizeMismatch when the copied byte count
// differs from the size the source announced.
func (r Result) Verify() error {
	if r.Transferred != r.Total {
		return fmt.Errorf("%w: expected %d bytes, transferred %d", domain.ErrTransferSizeMismatch, r.Total, r.Transferred)
	}
	return nil
}

// Service streams files between channels.
type Service struct {
	now func() time.Time
}

// NewService creates a new transfer service.
func NewService() *Service {
	return &Service{now: time.Now}
}

// Copy streams req.SourcePath to req.DestPath in ChunkSize pieces. Only
// one chunk is held in memory. A size mismatch is logged and left to
// Result.Verify; stream errors are returned.
func (s *Service) Copy(ctx context.Context, req Request) (Result, error) {
	ctx, log := logging.WithUseCase(ctx, "Transfer")

	if req.ChunkSize <= 0 || req.ChunkSize > domain.MaxChunkSize {
		return Result{}, fmt.Errorf("%w: chunk size must be in (0, %d], got %d", domain.ErrInvalidConfig, domain.MaxChunkSize, req.ChunkSize)
	}

	info, err := req.Source.Stat(ctx, req.SourcePath)
	if err != nil {
		return Result{}, fmt.Errorf("stat source: %w", err)
	}

	reader, err := req.Source.OpenRead(ctx, req.SourcePath)
	if err != nil {
		return Result{}, fmt.Errorf("open source: %w", err)
	}
	defer reader.Close()

	writer, err := req.Dest.OpenWrite(ctx, req.DestPath)
	if err != nil {
		return Result{}, fmt.Errorf("open destination: %w", err)
	}

	log.Info().
		Str("from", req.Source.Describe()).
		Str("to", req.Dest.Describe()).
		Str("size", bytesize.Format(info.Size)).
		Msg("transfer started")

	res := Result{Total: info.Size}
	start := s.now()
	buf := make([]byte, req.ChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			_ = writer.Close()
			return res, err
		}

		n, readErr := io.ReadFull(reader, buf)
		if n > 0 {
			if _, err := writer.Write(buf[:n]); err != nil {
				_ = writer.Close()
				return res, fmt.Errorf("%w: write %s: %w", domain.ErrIO, req.DestPath, err)
			}
			res.Transferred += int64(n)
			res.Elapsed = s.now().Sub(start)
			res.BytesPerSecond = throughput(res.Transferred, res.Elapsed)
			if req.Progress != nil {
				req.Progress(Progress{
					Transferred:    res.Transferred,
					Total:          res.Total,
					Elapsed:        res.Elapsed,
					BytesPerSecond: res.BytesPerSecond,
				})
			}
		}

		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil {
			_ = writer.Close()
			return res, fmt.Errorf("%w: read %s: %w", domain.ErrIO, req.SourcePath, readErr)
		}
	}

	if err := writer.Close(); err != nil {
		return res, fmt.Errorf("%w: close %s: %w", domain.ErrIO, req.DestPath, err)
	}

	res.Elapsed = s.now().Sub(start)
	res.BytesPerSecond = throughput(res.Transferred, res.Elapsed)

	if err := res.Verify(); err != nil {
		log.Warn().Err(err).Msg("transferred size differs from source size")
	} else {
		log.Info().
			Str("size", bytesize.Format(res.Transferred)).
			Str("elapsed", res.Elapsed.Round(time.Millisecond).String()).
			Str("rate", bytesize.Format(int64(res.BytesPerSecond))+"/s").
			Msg("transfer complete")
	}

	return res, nil
}

func throughput(n int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(n) / elapsed.Seconds()
}
