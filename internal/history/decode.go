package history

import (
	"math/big"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/ggonzalez94/semi-cli/internal/model"
)

// DecodeFeed extracts transfer records from an Etherscan-style envelope
// ({"status","message","result"}). Anything other than an array in result,
// including the rate-limit string Etherscan returns there, yields no records.
// Entries with an unparsable value or timestamp are skipped.
func DecodeFeed(kind model.AssetKind, body []byte) []RawTransferRecord {
	if len(body) == 0 {
		return []RawTransferRecord{}
	}
	result := jsoniter.Get(body, "result")
	if result.LastError() != nil || result.ValueType() != jsoniter.ArrayValue {
		return []RawTransferRecord{}
	}
	n := result.Size()
	out := make([]RawTransferRecord, 0, n)
	for i := 0; i < n; i++ {
		entry := result.Get(i)
		if entry.ValueType() != jsoniter.ObjectValue {
			continue
		}
		rec, ok := decodeEntry(kind, entry)
		if !ok {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func decodeEntry(kind model.AssetKind, entry jsoniter.Any) (RawTransferRecord, bool) {
	value, ok := new(big.Int).SetString(field(entry, "value"), 10)
	if !ok || value.Sign() < 0 {
		return RawTransferRecord{}, false
	}
	ts, err := strconv.ParseInt(field(entry, "timeStamp"), 10, 64)
	if err != nil || ts < 0 {
		return RawTransferRecord{}, false
	}
	to := field(entry, "to")
	txType := strings.ToLower(field(entry, "type"))
	isError, hasIsError := optionalField(entry, "isError")

	rec := RawTransferRecord{
		Kind:             kind,
		From:             field(entry, "from"),
		To:               to,
		Value:            value,
		TimestampSeconds: ts,
		TxHash:           field(entry, "hash"),
		Creation:         strings.HasPrefix(txType, "create") || to == "",
	}

	switch kind {
	case model.AssetERC20:
		rec.Success = !hasIsError || isError == "0"
		rec.Symbol = field(entry, "tokenSymbol")
		rec.Name = field(entry, "tokenName")
		rec.ContractAddress = field(entry, "contractAddress")
		if d, err := strconv.Atoi(field(entry, "tokenDecimal")); err == nil && d >= 0 {
			rec.Decimals = &d
		}
	default:
		rec.Kind = model.AssetNative
		rec.Success = isError == "0"
	}
	return rec, true
}

func field(entry jsoniter.Any, key string) string {
	v, _ := optionalField(entry, key)
	return v
}

func optionalField(entry jsoniter.Any, key string) (string, bool) {
	v := entry.Get(key)
	switch v.ValueType() {
	case jsoniter.StringValue:
		return strings.TrimSpace(v.ToString()), true
	case jsoniter.NumberValue:
		return strings.TrimSpace(v.ToString()), true
	default:
		return "", false
	}
}
