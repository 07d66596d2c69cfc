// Package decode parses collector payload bytes (Thrift-encoded) into
// zero or more model.RawEvent values sharing a common envelope. Decode
// failures and oversized payloads are reported as distinct, typed
// outcomes rather than panics, per spec.md §4.2 and §7.
package decode

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/flowmesh-oss/enrich/internal/model"
)

// ErrSizeViolation is returned by Decode when payload exceeds the
// configured maxRecordSize.
type ErrSizeViolation struct {
	Size, Max int64
}

func (e *ErrSizeViolation) Error() string {
	return fmt.Sprintf("payload size %d exceeds maxRecordSize %d", e.Size, e.Max)
}

// Decoder parses raw collector payload bytes. It is pure and safe for
// concurrent use by multiple pipeline workers, per spec.md §4.2.
type Decoder struct {
	MaxRecordSize     int64
	TryBase64Decoding bool
}

// New returns a Decoder with the given size limit and tryBase64Decoding
// feature flag (spec.md §4.6).
func New(maxRecordSize int64, tryBase64Decoding bool) *Decoder {
	return &Decoder{MaxRecordSize: maxRecordSize, TryBase64Decoding: tryBase64Decoding}
}

// Decode parses raw collector payload bytes into a CollectorPayload. A
// size violation is reported as *ErrSizeViolation; any other parse
// failure is a plain error representing an adapter (decode) failure.
// With TryBase64Decoding, the record bytes are first tried as base64
// before the Thrift parse, and the Thrift body field is tried again
// after it.
func (d *Decoder) Decode(ctx context.Context, raw []byte) (*model.CollectorPayload, error) {
	if d.MaxRecordSize > 0 && int64(len(raw)) > d.MaxRecordSize {
		return nil, &ErrSizeViolation{Size: int64(len(raw)), Max: d.MaxRecordSize}
	}

	if d.TryBase64Decoding {
		if decoded, decErr := base64.StdEncoding.DecodeString(string(raw)); decErr == nil {
			raw = decoded
		}
	}

	cp, err := decodeThrift(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("thrift decode: %w", err)
	}

	body := cp.Body
	if d.TryBase64Decoding {
		if decoded, decErr := base64.StdEncoding.DecodeString(string(body)); decErr == nil {
			body = decoded
		}
		// A failed base64 attempt is not itself a decode failure: the
		// body may simply be already-raw, not base64 — fall through
		// with the original bytes.
	}

	payload := &model.CollectorPayload{
		CollectorTstamp: time.UnixMilli(cp.Timestamp).UTC(),
		UserAgent:       cp.UserAgent,
		RemoteIP:        cp.IPAddress,
		CollectorName:   cp.Collector,
		NetworkUserID:   cp.NetworkUserID,
	}

	events, err := splitEvents(body, cp.ContentType)
	if err != nil {
		return nil, fmt.Errorf("split events: %w", err)
	}

	for _, params := range events {
		payload.Events = append(payload.Events, model.RawEvent{
			Params:          params,
			CollectorTstamp: payload.CollectorTstamp,
			UserAgent:       payload.UserAgent,
			RemoteIP:        payload.RemoteIP,
			CollectorName:   payload.CollectorName,
			NetworkUserID:   payload.NetworkUserID,
		})
	}

	return payload, nil
}

// splitEvents parses the (possibly empty) body into one parameter map
// per event. A POST body carries newline-delimited form-encoded events
// (the collector batches multiple track calls per HTTP request); a GET
// body is a single querystring. An empty body yields zero events, which
// is a valid outcome (spec.md §8 "zero-event collector payload").
func splitEvents(body []byte, contentType string) ([]map[string]string, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, nil
	}

	lines := strings.Split(trimmed, "\n")
	events := make([]map[string]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		values, err := url.ParseQuery(line)
		if err != nil {
			return nil, fmt.Errorf("parse query: %w", err)
		}
		params := make(map[string]string, len(values))
		for k, v := range values {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		events = append(events, params)
	}
	return events, nil
}
