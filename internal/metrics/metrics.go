// Package metrics records allocation engine activity.
package metrics

// Collector receives engine measurements. Implementations must be safe for
// concurrent use.
type Collector interface {
	// ItemsDistributed counts items placed by a distribution run.
	ItemsDistributed(n int)
	// DistributionFailed counts aborted distribution runs by reason.
	DistributionFailed(reason string)
	// Reallocated counts applied reallocations by reason.
	Reallocated(reason string)
	// SweepCompleted records the outcome of one idle sweep.
	SweepCompleted(warned, reallocated, failed int, seconds float64)
	// StatsRefreshed counts worker stats refreshes by result.
	StatsRefreshed(result string)
	// Notification counts notification outcomes (sent, failed, dropped).
	Notification(result string)
}

// Nop discards every measurement.
type Nop struct{}

var _ Collector = Nop{}

func NewNop() Nop { return Nop{} }

func (Nop) ItemsDistributed(int)                  {}
func (Nop) DistributionFailed(string)             {}
func (Nop) Reallocated(string)                    {}
func (Nop) SweepCompleted(int, int, int, float64) {}
func (Nop) StatsRefreshed(string)                 {}
func (Nop) Notification(string)                   {}
