package decode

import (
	"context"
	"fmt"

	"github.com/apache/thrift/lib/go/thrift"
)

// read populates cp by reading a CollectorPayload struct off p, in the
// shape generated Thrift Go bindings take: ReadStructBegin, then a
// ReadFieldBegin/dispatch/ReadFieldEnd loop until the STOP field, then
// ReadStructEnd.
func (cp *collectorPayload) read(ctx context.Context, p thrift.TProtocol) error {
	if _, err := p.ReadStructBegin(ctx); err != nil {
		return fmt.Errorf("read struct begin: %w", err)
	}

	for {
		_, fieldType, fieldID, err := p.ReadFieldBegin(ctx)
		if err != nil {
			return fmt.Errorf("read field begin: %w", err)
		}
		if fieldType == thrift.STOP {
			break
		}

		switch fieldID {
		case fieldSchema:
			cp.Schema, err = p.ReadString(ctx)
		case fieldTimestamp:
			cp.Timestamp, err = p.ReadI64(ctx)
		case fieldEncoding:
			cp.Encoding, err = p.ReadString(ctx)
		case fieldIPAddress:
			cp.IPAddress, err = p.ReadString(ctx)
		case fieldBody:
			cp.Body, err = p.ReadBinary(ctx)
		case fieldCollector:
			cp.Collector, err = p.ReadString(ctx)
		case fieldUserAgent:
			cp.UserAgent, err = p.ReadString(ctx)
		case fieldNetworkUserID:
			cp.NetworkUserID, err = p.ReadString(ctx)
		case fieldContentType:
			cp.ContentType, err = p.ReadString(ctx)
		case fieldHostname:
			cp.Hostname, err = p.ReadString(ctx)
		default:
			err = thrift.SkipDefaultDepth(ctx, p, fieldType)
		}
		if err != nil {
			return fmt.Errorf("read field %d: %w", fieldID, err)
		}
		if err := p.ReadFieldEnd(ctx); err != nil {
			return err
		}
	}

	return p.ReadStructEnd(ctx)
}

// write serializes cp in the same field layout read expects; used only
// by tests constructing fixtures.
func (cp *collectorPayload) write(ctx context.Context, p thrift.TProtocol) error {
	if err := p.WriteStructBegin(ctx, "CollectorPayload"); err != nil {
		return err
	}

	writes := []struct {
		name string
		id   int16
		typ  thrift.TType
		fn   func() error
	}{
		{"schema", fieldSchema, thrift.STRING, func() error { return p.WriteString(ctx, cp.Schema) }},
		{"timestamp", fieldTimestamp, thrift.I64, func() error { return p.WriteI64(ctx, cp.Timestamp) }},
		{"encoding", fieldEncoding, thrift.STRING, func() error { return p.WriteString(ctx, cp.Encoding) }},
		{"ipAddress", fieldIPAddress, thrift.STRING, func() error { return p.WriteString(ctx, cp.IPAddress) }},
		{"body", fieldBody, thrift.STRING, func() error { return p.WriteBinary(ctx, cp.Body) }},
		{"collector", fieldCollector, thrift.STRING, func() error { return p.WriteString(ctx, cp.Collector) }},
		{"userAgent", fieldUserAgent, thrift.STRING, func() error { return p.WriteString(ctx, cp.UserAgent) }},
		{"networkUserId", fieldNetworkUserID, thrift.STRING, func() error { return p.WriteString(ctx, cp.NetworkUserID) }},
		{"contentType", fieldContentType, thrift.STRING, func() error { return p.WriteString(ctx, cp.ContentType) }},
		{"hostname", fieldHostname, thrift.STRING, func() error { return p.WriteString(ctx, cp.Hostname) }},
	}

	for _, w := range writes {
		if err := p.WriteFieldBegin(ctx, w.name, w.typ, w.id); err != nil {
			return err
		}
		if err := w.fn(); err != nil {
			return err
		}
		if err := p.WriteFieldEnd(ctx); err != nil {
			return err
		}
	}

	if err := p.WriteFieldStop(ctx); err != nil {
		return err
	}
	return p.WriteStructEnd(ctx)
}

// decodeThrift parses raw Thrift-encoded bytes (TBinaryProtocol over a
// TMemoryBuffer) into a collectorPayload.
func decodeThrift(ctx context.Context, raw []byte) (*collectorPayload, error) {
	buf := thrift.NewTMemoryBuffer()
	if _, err := buf.Write(raw); err != nil {
		return nil, fmt.Errorf("buffer write: %w", err)
	}
	proto := thrift.NewTBinaryProtocolConf(buf, &thrift.TConfiguration{})

	cp := &collectorPayload{}
	if err := cp.read(ctx, proto); err != nil {
		return nil, err
	}
	return cp, nil
}

// encodeThrift serializes a collectorPayload back to Thrift bytes; used
// by tests to build fixtures without a real upstream collector.
func encodeThrift(ctx context.Context, cp *collectorPayload) ([]byte, error) {
	buf := thrift.NewTMemoryBuffer()
	proto := thrift.NewTBinaryProtocolConf(buf, &thrift.TConfiguration{})
	if err := cp.write(ctx, proto); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
