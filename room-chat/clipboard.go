package main

import (
	"context"
	"errors"

	"github.com/atotto/clipboard"
)

var errClipboardUnsupported = errors.New("no clipboard utility available")

// systemClipboard writes through the OS clipboard tools (pbcopy, xclip, wl-copy, ...).
type systemClipboard struct{}

func (systemClipboard) WriteText(ctx context.Context, text string) error {
	if clipboard.Unsupported {
		return errClipboardUnsupported
	}
	done := make(chan error, 1)
	go func() { done <- clipboard.WriteAll(text) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
