package vat

// Classifier maps rates to buckets using a schema rate table. It is total: any
// rate not in the table lands in the schema's default bucket.
type Classifier struct {
	rates    map[string]Bucket
	fallback Bucket
}

// NewClassifier builds a classifier for the schema.
func NewClassifier(schema *Schema) *Classifier {
	return &Classifier{rates: schema.Rates, fallback: schema.DefaultRate}
}

// Classify returns the bucket and whether the rate was recognised.
func (c *Classifier) Classify(rate Rate) (Bucket, bool) {
	if b, ok := c.rates[rate.Key()]; ok {
		return b, true
	}
	return c.fallback, false
}

// ClassifyItem classifies a line item, emitting a warning for defaulted rates.
func (c *Classifier) ClassifyItem(section Section, documentID string, item LineItem) (Bucket, *UnclassifiedRateWarning) {
	b, ok := c.Classify(item.Rate)
	if ok {
		return b, nil
	}
	return b, &UnclassifiedRateWarning{
		Section:    section,
		DocumentID: documentID,
		LineItemID: item.ID,
		Rate:       item.Rate,
	}
}
