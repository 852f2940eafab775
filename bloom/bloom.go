// Package bloom implements the probabilistic existence filters the sharded
// index keeps in front of its keyword and category shards. A filter never
// produces a false negative, so a "definitely not present" answer lets a
// caller skip the shard read entirely; a "might be present" answer still
// requires loading the shard to confirm, at the configured false-positive
// rate.
//
// Thread-safety mirrors entitydb's bloom filter: concurrent reads are safe,
// writes are serialized with a RWMutex.
package bloom

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
)

// Filter is a Bloom filter sized by the classic m/k formulas and hashed
// with MD5("item:seed"), matching the original knowledge base's filter bit
// for bit so that a rebuilt index's filter is reproducible from its inputs.
type Filter struct {
	mu sync.RWMutex

	size        uint64 // m, number of bits
	hashCount   uint   // k, number of hash functions
	bits        []bool
	expectedN   uint
	targetFPR   float64
	itemsAdded  uint64
}

// New creates a Filter sized for expectedItems elements at the given target
// false positive rate.
func New(expectedItems uint, falsePositiveRate float64) *Filter {
	if expectedItems == 0 {
		expectedItems = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	m := optimalSize(expectedItems, falsePositiveRate)
	k := optimalHashCount(m, expectedItems)
	return &Filter{
		size:      m,
		hashCount: k,
		bits:      make([]bool, m),
		expectedN: expectedItems,
		targetFPR: falsePositiveRate,
	}
}

// optimalSize computes m = ceil(-n*ln(p) / ln(2)^2).
func optimalSize(n uint, p float64) uint64 {
	m := -(float64(n) * math.Log(p)) / (math.Ln2 * math.Ln2)
	return uint64(math.Ceil(m))
}

// optimalHashCount computes k = max(1, ceil((m/n) * ln(2))).
func optimalHashCount(m uint64, n uint) uint {
	k := (float64(m) / float64(n)) * math.Ln2
	rounded := uint(math.Ceil(k))
	if rounded < 1 {
		return 1
	}
	return rounded
}

// hashIndex reproduces hash_int % size using arbitrary-precision integers,
// since the full 128-bit MD5 digest does not fit in a uint64 and the
// original implementation never truncates it before taking the modulus.
func (f *Filter) hashIndex(item string, seed uint) uint64 {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d", item, seed)))
	hexDigest := hex.EncodeToString(sum[:])
	n := new(big.Int)
	n.SetString(hexDigest, 16)
	mod := new(big.Int).SetUint64(f.size)
	n.Mod(n, mod)
	return n.Uint64()
}

// Add inserts item into the filter. Items are case-folded before hashing.
func (f *Filter) Add(item string) {
	lower := strings.ToLower(item)
	f.mu.Lock()
	defer f.mu.Unlock()
	for seed := uint(0); seed < f.hashCount; seed++ {
		f.bits[f.hashIndex(lower, seed)] = true
	}
	f.itemsAdded++
}

// MightContain reports whether item may be in the set. False means item is
// definitely absent; true means present or a false positive.
func (f *Filter) MightContain(item string) bool {
	lower := strings.ToLower(item)
	f.mu.RLock()
	defer f.mu.RUnlock()
	for seed := uint(0); seed < f.hashCount; seed++ {
		if !f.bits[f.hashIndex(lower, seed)] {
			return false
		}
	}
	return true
}

// ItemsAdded returns the number of Add calls made so far.
func (f *Filter) ItemsAdded() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.itemsAdded
}

// EstimateFalsePositiveRate computes p = (1 - e^(-kn/m))^k using the actual
// item count, for reporting in index statistics.
func (f *Filter) EstimateFalsePositiveRate() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.itemsAdded == 0 {
		return 0
	}
	exponent := -float64(f.hashCount) * float64(f.itemsAdded) / float64(f.size)
	return math.Pow(1-math.Exp(exponent), float64(f.hashCount))
}

// FillRatio returns the fraction of bits currently set.
func (f *Filter) FillRatio() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	set := 0
	for _, b := range f.bits {
		if b {
			set++
		}
	}
	return float64(set) / float64(f.size)
}

// snapshot is the JSON-serializable form of a Filter, mirroring the
// original implementation's to_dict/from_dict field names so migrated
// index files stay byte-compatible in shape.
type snapshot struct {
	Version           string  `json:"version"`
	Size              uint64  `json:"size"`
	HashCount         uint    `json:"hash_count"`
	ExpectedItems     uint    `json:"expected_items"`
	ItemsAdded        uint64  `json:"items_added"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
	ActualFPRate      float64 `json:"actual_fp_rate"`
	FillRatio         float64 `json:"fill_ratio"`
	BitArray          []int   `json:"bit_array"`
}

// MarshalJSON serializes the filter's full state, including its bit array,
// so a reload reconstructs bit-for-bit identical membership answers.
func (f *Filter) MarshalJSON() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	bits := make([]int, len(f.bits))
	for i, b := range f.bits {
		if b {
			bits[i] = 1
		}
	}
	snap := snapshot{
		Version:           "1.0",
		Size:              f.size,
		HashCount:         f.hashCount,
		ExpectedItems:      f.expectedN,
		ItemsAdded:        f.itemsAdded,
		FalsePositiveRate: f.targetFPR,
		BitArray:          bits,
	}
	// ActualFPRate/FillRatio computed without re-taking the lock we hold.
	if f.itemsAdded > 0 {
		exponent := -float64(f.hashCount) * float64(f.itemsAdded) / float64(f.size)
		snap.ActualFPRate = math.Pow(1-math.Exp(exponent), float64(f.hashCount))
	}
	set := 0
	for _, b := range bits {
		set += b
	}
	snap.FillRatio = float64(set) / float64(f.size)

	return json.Marshal(snap)
}

// UnmarshalJSON restores a filter previously produced by MarshalJSON.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.size = snap.Size
	f.hashCount = snap.HashCount
	f.expectedN = snap.ExpectedItems
	f.itemsAdded = snap.ItemsAdded
	f.targetFPR = snap.FalsePositiveRate
	f.bits = make([]bool, len(snap.BitArray))
	for i, v := range snap.BitArray {
		f.bits[i] = v != 0
	}
	return nil
}
