package vat

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Bucket is a declaration classification slot.
type Bucket uint8

const (
	BucketStandardHigh Bucket = iota
	BucketStandardMid
	BucketStandardLow
	BucketZeroDomestic
	BucketZeroIntraCommunity
	BucketZeroExport
	BucketExempt
	BucketUnclassified

	bucketCount
)

var bucketNames = [bucketCount]string{
	BucketStandardHigh:       "standard_high",
	BucketStandardMid:        "standard_mid",
	BucketStandardLow:        "standard_low",
	BucketZeroDomestic:       "zero_domestic",
	BucketZeroIntraCommunity: "zero_intra_community",
	BucketZeroExport:         "zero_export",
	BucketExempt:             "exempt",
	BucketUnclassified:       "unclassified",
}

// Buckets lists every bucket in canonical order.
func Buckets() []Bucket {
	out := make([]Bucket, bucketCount)
	for i := range out {
		out[i] = Bucket(i)
	}
	return out
}

func (b Bucket) String() string {
	if b >= bucketCount {
		return fmt.Sprintf("bucket(%d)", uint8(b))
	}
	return bucketNames[b]
}

// ParseBucket resolves a bucket by its table name.
func ParseBucket(name string) (Bucket, error) {
	for i, n := range bucketNames {
		if n == name {
			return Bucket(i), nil
		}
	}
	return 0, fmt.Errorf("vat: unknown bucket %q", name)
}

// BucketSet holds one accumulator per bucket.
type BucketSet [bucketCount]BucketAmount

// Add accumulates already rounded amounts into a bucket.
func (s *BucketSet) Add(b Bucket, net, vat decimal.Decimal) {
	s[b].Net = s[b].Net.Add(net)
	s[b].VAT = s[b].VAT.Add(vat)
}

// Get returns the bucket amount.
func (s BucketSet) Get(b Bucket) BucketAmount {
	return s[b]
}

// MarshalJSON emits non-empty buckets keyed by name.
func (s BucketSet) MarshalJSON() ([]byte, error) {
	out := make(map[string]BucketAmount)
	for i, amt := range s {
		if amt.Net.IsZero() && amt.VAT.IsZero() {
			continue
		}
		out[bucketNames[i]] = amt
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a set written by MarshalJSON.
func (s *BucketSet) UnmarshalJSON(data []byte) error {
	var in map[string]BucketAmount
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = BucketSet{}
	for name, amt := range in {
		b, err := ParseBucket(name)
		if err != nil {
			return err
		}
		s[b] = amt
	}
	return nil
}
