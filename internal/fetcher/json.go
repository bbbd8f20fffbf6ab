package fetcher

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// JSONOption configures the decoder used by DecodeJSONArray and DecodeJSONLines.
type JSONOption func(*json.Decoder)

// WithUseNumber decodes numbers into json.Number instead of float64, so
// integers beyond 2^53 keep every digit.
func WithUseNumber() JSONOption {
	return func(d *json.Decoder) { d.UseNumber() }
}

func newDecoder(r io.Reader, opts []JSONOption) *json.Decoder {
	d := json.NewDecoder(r)
	for _, o := range opts {
		o(d)
	}
	return d
}

// DecodeJSONArray decodes a JSON array streaming, sending each element to a channel.
// Expects input in the form [{...},{...}].
// Both channels are closed when processing completes.
func DecodeJSONArray[T any](ctx context.Context, r io.Reader, opts ...JSONOption) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := newDecoder(r, opts)

		// Expect opening bracket
		tok, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				return
			}
			errCh <- eris.Wrap(err, "json: read opening token")
			return
		}

		delim, ok := tok.(json.Delim)
		if !ok || delim != '[' {
			errCh <- eris.Errorf("json: expected '[', got %v", tok)
			return
		}

		for decoder.More() {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}

			var item T
			if err := decoder.Decode(&item); err != nil {
				errCh <- eris.Wrap(err, "json: decode element")
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
		}

		// Consume closing bracket
		if _, err := decoder.Token(); err != nil && err != io.EOF {
			errCh <- eris.Wrap(err, "json: read closing token")
		}
	}()

	return outCh, errCh
}

// DecodeJSONLines decodes newline-delimited JSON values, one per line.
// Blank lines are skipped. Both channels are closed when processing completes.
func DecodeJSONLines[T any](ctx context.Context, r io.Reader, opts ...JSONOption) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := newDecoder(r, opts)
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "jsonl: context cancelled")
				return
			}

			var item T
			err := decoder.Decode(&item)
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "jsonl: decode line")
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "jsonl: context cancelled")
				return
			}
		}
	}()

	return outCh, errCh
}
