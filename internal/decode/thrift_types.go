package decode

// collectorPayload mirrors the upstream Thrift CollectorPayload schema
// in the shape the Apache Thrift Go code generator would produce: plain
// struct fields plus hand-rolled Read/Write methods against a
// thrift.TProtocol, field-by-field, matching field IDs to the IDL this
// was generated from.
//
//	struct CollectorPayload {
//	  1: string schema
//	  2: i64    timestamp
//	  3: string encoding
//	  4: string ipAddress
//	  5: binary body
//	  6: string collector
//	  7: string userAgent
//	  8: string networkUserId
//	  9: string contentType
//	  10: string hostname
//	  11: list<string> querystring (unused by this decoder, kept for wire fidelity)
//	}
type collectorPayload struct {
	Schema        string
	Timestamp     int64
	Encoding      string
	IPAddress     string
	Body          []byte
	Collector     string
	UserAgent     string
	NetworkUserID string
	ContentType   string
	Hostname      string
}

const (
	fieldSchema        = 1
	fieldTimestamp     = 2
	fieldEncoding      = 3
	fieldIPAddress     = 4
	fieldBody          = 5
	fieldCollector     = 6
	fieldUserAgent     = 7
	fieldNetworkUserID = 8
	fieldContentType   = 9
	fieldHostname      = 10
)
