// Package ingest normalizes loosely-typed upstream transaction payloads
// into the canonical domain.Transaction. Chain adapters, CSV importers and
// API clients disagree on field names and numeric encodings; everything
// downstream of this package only ever sees the canonical shape.
//
// Coercion never fails: unparseable numerics degrade to zero, missing
// strings to "", so annotation always proceeds (graceful degradation is
// part of the engine contract, not an edge case).
package ingest

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Field name aliases accepted from upstream payloads, checked in order.
var (
	idKeys        = []string{"id", "txId", "tx_id", "hash"}
	fromKeys      = []string{"fromAddress", "from_address", "from_addr", "from"}
	toKeys        = []string{"toAddress", "to_address", "to_addr", "to"}
	memoKeys      = []string{"memo", "note"}
	chainKeys     = []string{"chain", "network"}
	symbolKeys    = []string{"symbol", "currency"}
	directionKeys = []string{"direction"}
	amountKeys    = []string{"amount", "value"}
	feeKeys       = []string{"fee"}
	internalKeys  = []string{"isInternal", "is_internal", "internal"}
	tagsKeys      = []string{"tags", "labels"}
	timestampKeys = []string{"timestamp", "time", "date"}
)

// Normalize converts a raw payload into a canonical Transaction for the
// given tenant. Raw payloads are typically decoded with
// json.Decoder.UseNumber so exact decimal strings survive the trip.
func Normalize(tenantID string, raw map[string]interface{}) *domain.Transaction {
	tx := &domain.Transaction{
		ID:          firstString(raw, idKeys),
		TenantID:    tenantID,
		Chain:       strings.ToUpper(firstString(raw, chainKeys)),
		Symbol:      strings.ToUpper(firstString(raw, symbolKeys)),
		FromAddress: firstString(raw, fromKeys),
		ToAddress:   firstString(raw, toKeys),
		Amount:      firstDecimal(raw, amountKeys),
		Fee:         firstDecimal(raw, feeKeys),
		Direction:   firstString(raw, directionKeys),
		Memo:        firstString(raw, memoKeys),
		Tags:        firstTags(raw, tagsKeys),
		IsInternal:  firstBool(raw, internalKeys),
		Timestamp:   firstTime(raw, timestampKeys),
		CreatedAt:   time.Now().UTC(),
	}

	if tx.Timestamp.IsZero() {
		tx.Timestamp = tx.CreatedAt
	}

	return tx
}

func firstString(raw map[string]interface{}, keys []string) string {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			if s := coerceString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstDecimal(raw map[string]interface{}, keys []string) decimal.Decimal {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			return coerceDecimal(v)
		}
	}
	return decimal.Zero
}

func firstBool(raw map[string]interface{}, keys []string) bool {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			return coerceBool(v)
		}
	}
	return false
}

func firstTags(raw map[string]interface{}, keys []string) []string {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		items, ok := v.([]interface{})
		if !ok {
			continue
		}
		var tags []string
		for _, item := range items {
			if s := strings.TrimSpace(coerceString(item)); s != "" {
				tags = append(tags, s)
			}
		}
		return tags
	}
	return nil
}

func firstTime(raw map[string]interface{}, keys []string) time.Time {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
				if parsed, err := time.Parse(layout, t); err == nil {
					return parsed.UTC()
				}
			}
		case json.Number:
			if secs, err := t.Int64(); err == nil && secs > 0 {
				return time.Unix(secs, 0).UTC()
			}
		case float64:
			if t > 0 {
				return time.Unix(int64(t), 0).UTC()
			}
		}
	}
	return time.Time{}
}

// coerceDecimal parses any reasonable numeric representation; anything
// unparseable is zero, never an error.
func coerceDecimal(v interface{}) decimal.Decimal {
	switch n := v.(type) {
	case decimal.Decimal:
		return n
	case json.Number:
		if d, err := decimal.NewFromString(n.String()); err == nil {
			return d
		}
	case string:
		if d, err := decimal.NewFromString(strings.TrimSpace(n)); err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(n)
	case int:
		return decimal.NewFromInt(int64(n))
	case int64:
		return decimal.NewFromInt(n)
	}
	return decimal.Zero
}

func coerceString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	}
	return ""
}

func coerceBool(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(strings.TrimSpace(b), "true")
	}
	return false
}
