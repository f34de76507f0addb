package decoder

import (
	"strings"

	"curve-tracker/internal/domain"
)

// Default instruction keywords emitted by the bonding curve program.
var (
	DefaultBuyKeywords  = []string{"Instruction: Buy"}
	DefaultSellKeywords = []string{"Instruction: Sell"}
)

// InferDirection resolves the trade side from log text.
// The nearest instruction line before logIndex wins; otherwise the first
// instruction line anywhere in the logs; otherwise unknown.
func InferDirection(logs []string, logIndex int, buyKeywords, sellKeywords []string) domain.Direction {
	if logIndex >= len(logs) {
		logIndex = len(logs) - 1
	}
	for i := logIndex; i >= 0; i-- {
		if dir := matchDirection(logs[i], buyKeywords, sellKeywords); dir != domain.DirectionUnknown {
			return dir
		}
	}
	for _, line := range logs {
		if dir := matchDirection(line, buyKeywords, sellKeywords); dir != domain.DirectionUnknown {
			return dir
		}
	}
	return domain.DirectionUnknown
}

func matchDirection(line string, buyKeywords, sellKeywords []string) domain.Direction {
	for _, kw := range sellKeywords {
		if strings.Contains(line, kw) {
			return domain.DirectionSell
		}
	}
	for _, kw := range buyKeywords {
		if strings.Contains(line, kw) {
			return domain.DirectionBuy
		}
	}
	return domain.DirectionUnknown
}
