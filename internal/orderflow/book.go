package orderflow

import (
	"github.com/tidwall/btree"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

// Book is a top-N level-2 book. Both sides are stored keyed by price and
// updated by rank; bids are read in reverse so index 0 is always the best
// level.
type Book struct {
	depth int
	bids  *btree.Map[float64, float64]
	asks  *btree.Map[float64, float64]
}

// NewBook returns an empty book that keeps at most depth levels per side.
func NewBook(depth int) *Book {
	if depth <= 0 {
		depth = 10
	}
	return &Book{
		depth: depth,
		bids:  btree.NewMap[float64, float64](32),
		asks:  btree.NewMap[float64, float64](32),
	}
}

// Apply folds one depth update into the book. Updates are rank-indexed: the
// level previously at rank u.Level is evicted before u is inserted, so a
// price change at rank N never leaves the old price behind. A zero size
// clears the rank. A new level-0 quote also drops stale levels priced
// through it, and any opposite levels it crosses.
func (b *Book) Apply(u domain.BookUpdate) {
	if u.Price <= 0 || u.Level < 0 {
		return
	}
	switch u.Side {
	case domain.SideBid:
		if old, ok := priceAtRank(b.bids, u.Level, true); ok && old != u.Price {
			b.bids.Delete(old)
		}
		if u.Size <= 0 {
			b.bids.Delete(u.Price)
			return
		}
		b.bids.Set(u.Price, u.Size)
		if u.Level == 0 {
			dropAbove(b.bids, u.Price)
		}
		dropAtOrBelow(b.asks, u.Price)
		trimWorst(b.bids, b.depth, true)
	case domain.SideAsk:
		if old, ok := priceAtRank(b.asks, u.Level, false); ok && old != u.Price {
			b.asks.Delete(old)
		}
		if u.Size <= 0 {
			b.asks.Delete(u.Price)
			return
		}
		b.asks.Set(u.Price, u.Size)
		if u.Level == 0 {
			dropBelow(b.asks, u.Price)
		}
		dropAtOrAbove(b.bids, u.Price)
		trimWorst(b.asks, b.depth, false)
	}
}

// Replace swaps in a full snapshot.
func (b *Book) Replace(snap domain.BookSnapshot) {
	b.bids = btree.NewMap[float64, float64](32)
	b.asks = btree.NewMap[float64, float64](32)
	for _, l := range snap.Bids {
		if l.Price > 0 && l.Size > 0 {
			b.bids.Set(l.Price, l.Size)
		}
	}
	for _, l := range snap.Asks {
		if l.Price > 0 && l.Size > 0 {
			b.asks.Set(l.Price, l.Size)
		}
	}
	trimWorst(b.bids, b.depth, true)
	trimWorst(b.asks, b.depth, false)
}

// Levels returns up to n levels of side, best to worst.
func (b *Book) Levels(side domain.Side, n int) []domain.BookLevel {
	if n <= 0 || n > b.depth {
		n = b.depth
	}
	out := make([]domain.BookLevel, 0, n)
	collect := func(price, size float64) bool {
		out = append(out, domain.BookLevel{Side: side, Price: price, Size: size, Rank: len(out)})
		return len(out) < n
	}
	if side == domain.SideBid {
		b.bids.Reverse(collect)
	} else {
		b.asks.Scan(collect)
	}
	return out
}

// Best returns the top level of side.
func (b *Book) Best(side domain.Side) (price, size float64, ok bool) {
	lv := b.Levels(side, 1)
	if len(lv) == 0 {
		return 0, 0, false
	}
	return lv[0].Price, lv[0].Size, true
}

// SizeAt sums the resting size over the top k levels of side.
func (b *Book) SizeAt(side domain.Side, k int) float64 {
	var sum float64
	for _, l := range b.Levels(side, k) {
		sum += l.Size
	}
	return sum
}

// Imbalance returns (Σbid − Σask) / (Σbid + Σask) over the top k levels.
func (b *Book) Imbalance(k int) (float64, bool) {
	bid := b.SizeAt(domain.SideBid, k)
	ask := b.SizeAt(domain.SideAsk, k)
	if bid+ask == 0 {
		return 0, false
	}
	return (bid - ask) / (bid + ask), true
}

// Microprice weights each side of the touch by the opposite side's size.
func (b *Book) Microprice() (float64, bool) {
	bp, bs, okb := b.Best(domain.SideBid)
	ap, as, oka := b.Best(domain.SideAsk)
	if !okb || !oka || bs+as == 0 {
		return 0, false
	}
	return (bp*as + ap*bs) / (bs + as), true
}

// Ready reports whether both sides have at least one level.
func (b *Book) Ready() bool {
	return b.bids.Len() > 0 && b.asks.Len() > 0
}

// priceAtRank returns the price resting at rank (0 is best) on one side.
func priceAtRank(m *btree.Map[float64, float64], rank int, bids bool) (float64, bool) {
	var (
		price float64
		found bool
		i     int
	)
	visit := func(p, _ float64) bool {
		if i == rank {
			price, found = p, true
			return false
		}
		i++
		return true
	}
	if bids {
		m.Reverse(visit)
	} else {
		m.Scan(visit)
	}
	return price, found
}

func trimWorst(m *btree.Map[float64, float64], depth int, bids bool) {
	for m.Len() > depth {
		var worst float64
		pick := func(price, _ float64) bool {
			worst = price
			return false
		}
		if bids {
			m.Scan(pick)
		} else {
			m.Reverse(pick)
		}
		m.Delete(worst)
	}
}

func dropAbove(m *btree.Map[float64, float64], price float64) {
	var stale []float64
	m.Reverse(func(p, _ float64) bool {
		if p <= price {
			return false
		}
		stale = append(stale, p)
		return true
	})
	for _, p := range stale {
		m.Delete(p)
	}
}

func dropBelow(m *btree.Map[float64, float64], price float64) {
	var stale []float64
	m.Scan(func(p, _ float64) bool {
		if p >= price {
			return false
		}
		stale = append(stale, p)
		return true
	})
	for _, p := range stale {
		m.Delete(p)
	}
}

func dropAtOrBelow(m *btree.Map[float64, float64], price float64) {
	var stale []float64
	m.Scan(func(p, _ float64) bool {
		if p > price {
			return false
		}
		stale = append(stale, p)
		return true
	})
	for _, p := range stale {
		m.Delete(p)
	}
}

func dropAtOrAbove(m *btree.Map[float64, float64], price float64) {
	var stale []float64
	m.Reverse(func(p, _ float64) bool {
		if p < price {
			return false
		}
		stale = append(stale, p)
		return true
	})
	for _, p := range stale {
		m.Delete(p)
	}
}
