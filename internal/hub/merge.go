package hub

import "github.com/alanyoungcy/scalpcore/internal/domain"

// Series is one source's candles for an instrument and timeframe.
type Series struct {
	Source  string
	Candles []domain.Candle
}

// MergeResult carries the chosen bars and which source produced them, so
// VWAP-style consumers can say whether they are true or proxy-weighted.
type MergeResult struct {
	Source     string
	VolumeKind domain.VolumeKind
	Candles    []domain.Candle
}

// Merge picks between a real-volume and a proxy-volume series for a request
// of want bars. The real series wins once it holds at least half of want;
// otherwise the proxy series is used when it has anything at all.
func Merge(realVol, proxyVol Series, want int) MergeResult {
	need := (want + 1) / 2
	if need < 1 {
		need = 1
	}
	switch {
	case len(realVol.Candles) >= need:
		return MergeResult{Source: realVol.Source, VolumeKind: domain.VolumeReal, Candles: tail(realVol.Candles, want)}
	case len(proxyVol.Candles) > 0:
		return MergeResult{Source: proxyVol.Source, VolumeKind: domain.VolumeProxy, Candles: tail(proxyVol.Candles, want)}
	case len(realVol.Candles) > 0:
		return MergeResult{Source: realVol.Source, VolumeKind: domain.VolumeReal, Candles: tail(realVol.Candles, want)}
	}
	return MergeResult{}
}

func tail(c []domain.Candle, n int) []domain.Candle {
	if n <= 0 || n >= len(c) {
		return c
	}
	return c[len(c)-n:]
}
