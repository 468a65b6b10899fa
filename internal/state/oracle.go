package state

import "fmt"

type priceRecord struct {
	Price     uint64
	Timestamp uint64
}

// PriceFeed is the Oracle backed by the last price posted for each asset.
// Aggregation across feeds happens upstream.
type PriceFeed struct {
	db kvDB
}

func NewPriceFeed(db kvDB) *PriceFeed {
	return &PriceFeed{db: db}
}

func (pf *PriceFeed) GetPrice(asset string) (uint64, error) {
	rec := &priceRecord{}
	ok, err := pf.db.get(priceKey(asset), rec)
	if err != nil {
		return 0, err
	}
	if !ok || rec.Price == 0 {
		return 0, fmt.Errorf("%w: %s", ErrPriceUnavailable, asset)
	}
	return rec.Price, nil
}

// LastUpdate returns the unix time of the last posted price, 0 if none.
func (pf *PriceFeed) LastUpdate(asset string) (uint64, error) {
	rec := &priceRecord{}
	_, err := pf.db.get(priceKey(asset), rec)
	return rec.Timestamp, err
}

func (pf *PriceFeed) setPrice(asset string, price, timestamp uint64) error {
	return pf.db.put(priceKey(asset), &priceRecord{Price: price, Timestamp: timestamp})
}
