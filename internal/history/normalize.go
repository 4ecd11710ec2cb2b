package history

import (
	"sort"

	"github.com/ggonzalez94/semi-cli/internal/model"
	"github.com/ggonzalez94/semi-cli/internal/registry"
)

// Normalize merges feeds into display rows sorted newest first.
//
// Feeds are concatenated in argument order. Contract creations and records
// addressed to the ERC-4337 EntryPoint are dropped; nothing is deduplicated,
// since one transaction can legitimately produce several rows. Ties keep
// their input order. The result is never nil.
func Normalize(feeds ...[]RawTransferRecord) []model.NormalizedAction {
	total := 0
	for _, feed := range feeds {
		total += len(feed)
	}
	out := make([]model.NormalizedAction, 0, total)
	for _, feed := range feeds {
		for _, rec := range feed {
			if rec.Creation || registry.IsEntryPoint(rec.To) {
				continue
			}
			out = append(out, toAction(rec))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TimestampMillis > out[j].TimestampMillis
	})
	return out
}

func toAction(rec RawTransferRecord) model.NormalizedAction {
	value := "0"
	if rec.Value != nil {
		value = rec.Value.String()
	}
	status := model.StatusFailed
	if rec.Success {
		status = model.StatusSuccess
	}
	action := model.NormalizedAction{
		From:            rec.From,
		To:              rec.To,
		Value:           value,
		TimestampMillis: rec.TimestampSeconds * 1000,
		Status:          status,
		TxHash:          rec.TxHash,
		AssetKind:       rec.Kind,
		Symbol:          rec.Symbol,
	}
	switch rec.Kind {
	case model.AssetERC20:
		if rec.Decimals != nil {
			d := *rec.Decimals
			action.Decimals = &d
		}
		action.TokenName = rec.Name
		action.TokenAddress = rec.ContractAddress
	default:
		action.AssetKind = model.AssetNative
		if action.Symbol == "" {
			action.Symbol = DefaultNativeSymbol
		}
	}
	return action
}
