package domain

type Metrics interface {
	UpdateApplied(market string)
	UpdateBuffered(market string)
	UpdateStale(market string)
	PendingSize(market string, size int)
	Resync(market, result string)
	TickPublished(market string, err error)
	StoreError(market, op string)
	DecodeError(provider string)
	OpenOrderBooks(count int)
}

type NopMetrics struct{}

func (NopMetrics) UpdateApplied(string) {}
func (NopMetrics) UpdateBuffered(string) {}
func (NopMetrics) UpdateStale(string) {}
func (NopMetrics) PendingSize(string, int) {}
func (NopMetrics) Resync(string, string) {}
func (NopMetrics) TickPublished(string, error) {}
func (NopMetrics) StoreError(string, string) {}
func (NopMetrics) DecodeError(string) {}
func (NopMetrics) OpenOrderBooks(int) {}
