package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fakeyudi/proctor/internal/monitor"
)

var (
	_ monitor.Page          = (*Bridge)(nil)
	_ monitor.Surface       = (*Bridge)(nil)
	_ monitor.Screenshotter = (*Bridge)(nil)
)

func (b *Bridge) Halt(ctx context.Context) error {
	_, err := b.call(ctx, OpHalt, nil)
	return err
}

func (b *Bridge) ShowNotice(ctx context.Context, n monitor.Notice) error {
	_, err := b.call(ctx, OpNotice, n)
	return err
}

func (b *Bridge) InstallGuards(ctx context.Context, g monitor.Guards) error {
	_, err := b.call(ctx, OpGuards, g)
	return err
}

func (b *Bridge) NoticeActive(ctx context.Context) (bool, error) {
	data, err := b.call(ctx, OpProbe, nil)
	if err != nil {
		return false, err
	}
	var out struct {
		Active bool `json:"active"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return false, fmt.Errorf("decoding probe reply: %w", err)
	}
	return out.Active, nil
}

// Snapshot returns the text of the page's code editor, or
// monitor.ErrNoSurface when the shim found none.
func (b *Bridge) Snapshot(ctx context.Context) (string, error) {
	data, err := b.call(ctx, OpSnapshot, nil)
	if err != nil {
		return "", err
	}
	var out struct {
		Found bool   `json:"found"`
		Text  string `json:"text"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decoding snapshot reply: %w", err)
	}
	if !out.Found {
		return "", monitor.ErrNoSurface
	}
	return out.Text, nil
}

// Capture returns a PNG of the visible page.
func (b *Bridge) Capture(ctx context.Context) ([]byte, error) {
	data, err := b.call(ctx, OpCapture, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		PNG []byte `json:"png"` // base64 in JSON
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding capture reply: %w", err)
	}
	if len(out.PNG) == 0 {
		return nil, errors.New("capture reply carried no image")
	}
	return out.PNG, nil
}
