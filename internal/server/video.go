package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/kikiluvv/overlaycast/internal/source"
	"github.com/kikiluvv/overlaycast/internal/stream"
)

// allowedSchemes are the source URL schemes ffmpeg is asked to open
var allowedSchemes = map[string]bool{
	"rtsp":  true,
	"rtsps": true,
	"rtmp":  true,
	"http":  true,
	"https": true,
}

// ParseSourceURL validates the url query parameter of a feed request
func ParseSourceURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: no source url provided", ErrInvalidRequest)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: malformed source url: %w", ErrInvalidRequest, err)
	}
	if !allowedSchemes[strings.ToLower(u.Scheme)] {
		return "", fmt.Errorf("%w: unsupported source scheme %q", ErrInvalidRequest, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: source url has no host", ErrInvalidRequest)
	}
	return u.String(), nil
}

func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	address, err := ParseSourceURL(r.URL.Query().Get("url"))
	if err != nil {
		http.Error(w, "Error: "+err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	logger := s.logger.With().
		Str("source", address).
		Str("request_id", middleware.GetReqID(ctx)).
		Logger()

	sess, err := s.streamer.Open(ctx, address)
	if err != nil {
		if errors.Is(err, source.ErrSourceUnavailable) {
			http.Error(w, "Error: could not open video source", http.StatusBadGateway)
			return
		}
		logger.Error().Err(err).Msg("failed to start stream")
		http.Error(w, "Error: stream could not be started", http.StatusInternalServerError)
		return
	}
	defer sess.Close()

	stream.SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)

	logger.Info().Str("session", sess.ID()).Msg("viewer connected")

	n, err := stream.New(sess).WriteTo(ctx, w)
	switch {
	case err == nil:
		logger.Info().Int64("bytes", n).Msg("stream ended")
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		logger.Info().Int64("bytes", n).Msg("viewer disconnected")
	default:
		logger.Warn().Err(err).Int64("bytes", n).Msg("stream aborted")
	}
}
