package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ReadFrameFile decodes a JSON frame document produced by the detector.
func ReadFrameFile(path string) (*Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frame file: %w", err)
	}
	return DecodeFrame(data)
}

// DecodeFrame parses and validates a frame document.
func DecodeFrame(data []byte) (*Frame, error) {
	var frame Frame
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&frame); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrInvalidFrame, err)
	}
	frame.ID = strings.TrimSpace(frame.ID)

	seen := make(map[string]struct{}, len(frame.Detections))
	for i := range frame.Detections {
		det := &frame.Detections[i]
		det.ID = strings.TrimSpace(det.ID)
		if det.ID == "" {
			return nil, fmt.Errorf("%w: detection %d has no id", ErrInvalidFrame, i)
		}
		if _, dup := seen[det.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate detection id %q", ErrInvalidFrame, det.ID)
		}
		seen[det.ID] = struct{}{}
		if len(det.Embeddings.Image) == 0 {
			return nil, fmt.Errorf("%w: detection %q has no image embedding", ErrInvalidFrame, det.ID)
		}
		if det.Box.Width < 0 || det.Box.Height < 0 {
			return nil, fmt.Errorf("%w: detection %q has a negative box size", ErrInvalidFrame, det.ID)
		}
	}
	return &frame, nil
}
