package database

import (
	"database/sql"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/mattn/go-sqlite3"

	"skycat/internal/header"
)

// DriverName is the database/sql driver that opens skycat catalogs.
const DriverName = "sqlite3_skycat"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("header_value", headerValue, true); err != nil {
				return fmt.Errorf("registering header_value: %w", err)
			}
			if err := conn.RegisterFunc("header_text", headerText, true); err != nil {
				return fmt.Errorf("registering header_text: %w", err)
			}
			return nil
		},
	})
}

// EncodeAll and DecodeAll are safe for concurrent use.
var (
	blobEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	blobDecoder, _ = zstd.NewReader(nil)
)

func compress(data []byte) []byte {
	return blobEncoder.EncodeAll(data, make([]byte, 0, len(data)/4))
}

func decompress(blob []byte) ([]byte, error) {
	data, err := blobDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing blob: %w", err)
	}
	return data, nil
}

func decodeHeader(format string, blob []byte) (*header.Header, error) {
	data, err := decompress(blob)
	if err != nil {
		return nil, err
	}
	raw := &header.Raw{Format: header.Format(format), Data: data}
	return raw.Header()
}

// headerValue is the SQL function header_value(format, header, key). It
// returns the numeric value of the first card named key, or NULL.
func headerValue(format string, blob []byte, key string) any {
	h, err := decodeHeader(format, blob)
	if err != nil {
		return nil
	}
	v, ok := h.Get(key)
	if !ok {
		return nil
	}
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return n
	case bool:
		if n {
			return int64(1)
		}
		return int64(0)
	default:
		return nil
	}
}

// headerText is the SQL function header_text(format, header). It returns
// the header as FITS card text.
func headerText(format string, blob []byte) string {
	if header.Format(format) == header.FormatFITS {
		data, err := decompress(blob)
		if err != nil {
			return ""
		}
		return string(header.SanitizeTabs(data))
	}
	h, err := decodeHeader(format, blob)
	if err != nil {
		return ""
	}
	return string(h.Bytes())
}
