package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/dunamismax/pixelgate/internal/transform"
)

// parseOptions reads "k=v,k=v". Values stay strings; the normalizers cast
// them.
func parseOptions(raw string) (transform.Options, error) {
	opts := transform.Options{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return opts, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("option %q is not key=value", pair)
		}
		opts[key] = strings.TrimSpace(value)
	}
	return opts, nil
}

// parseResize reads "MODE:k=v,...", e.g. "1:w=100,h=100".
func parseResize(raw string) (*domain.ResizeStep, error) {
	modeRaw, rest, _ := strings.Cut(raw, ":")
	mode, err := strconv.Atoi(strings.TrimSpace(modeRaw))
	if err != nil {
		return nil, fmt.Errorf("resize mode %q is not a number", modeRaw)
	}
	opts, err := parseOptions(rest)
	if err != nil {
		return nil, fmt.Errorf("resize: %w", err)
	}
	return &domain.ResizeStep{Mode: mode, Options: opts}, nil
}

// parseWatermark reads "KIND:k=v,...[;k=v,...]". Mixed marks list one
// parameter set per layer entry, separated by ';'.
func parseWatermark(raw string) (domain.WatermarkStep, error) {
	kind, rest, ok := strings.Cut(raw, ":")
	kind = strings.TrimSpace(kind)
	if !ok || kind == "" {
		return domain.WatermarkStep{}, fmt.Errorf("watermark %q must look like kind:key=value", raw)
	}

	step := domain.WatermarkStep{Type: kind}
	for _, chunk := range strings.Split(rest, ";") {
		opts, err := parseOptions(chunk)
		if err != nil {
			return domain.WatermarkStep{}, fmt.Errorf("watermark %s: %w", kind, err)
		}
		step.Params = append(step.Params, opts)
	}
	return step, nil
}

// parseRound reads a radius ("10") or a pair ("radiusx=10,radiusy=20").
func parseRound(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "=") {
		return raw, nil
	}
	opts, err := parseOptions(raw)
	if err != nil {
		return nil, fmt.Errorf("round: %w", err)
	}
	return opts, nil
}
